package commandstructure

// Command is one step of the media pipeline. It consumes and produces
// encoded image bytes.
type Command interface {
	Name() string
	Execute(imageData []byte) ([]byte, error)
}

// CommandFactory creates a command from configuration parameters
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig names a registered command and its parameters, as read from
// the media section of the service configuration.
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}
