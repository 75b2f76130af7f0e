package commandstructure

// stubCommand is a Command whose behaviour is set per test. It counts how
// often the invoker reached it.
type stubCommand struct {
	name  string
	run   func([]byte) ([]byte, error)
	calls int
}

func (s *stubCommand) Name() string { return s.name }

func (s *stubCommand) Execute(imageData []byte) ([]byte, error) {
	s.calls++
	if s.run == nil {
		return imageData, nil
	}
	return s.run(imageData)
}

func passThrough(name string) *stubCommand {
	return &stubCommand{name: name}
}

func failing(name string, err error) *stubCommand {
	return &stubCommand{
		name: name,
		run: func([]byte) ([]byte, error) {
			return nil, err
		},
	}
}
