package commandstructure

import (
	"errors"
	"strings"
	"testing"
)

func buildAndRun(data []byte, configs []CommandConfig) ([]byte, error) {
	commands, err := BuildCommands(configs)
	if err != nil {
		return nil, err
	}
	return NewCommandInvoker(commands).Execute(data)
}

func TestBuildCommands_EmptyList(t *testing.T) {
	testData := []byte("test data")
	result, err := buildAndRun(testData, []CommandConfig{})

	if err != nil {
		t.Errorf("Expected no error for empty command list, got %v", err)
	}

	if string(result) != string(testData) {
		t.Error("Expected result to match input for empty command list")
	}
}

func TestBuildCommands_UnknownCommandThroughInvoker(t *testing.T) {
	testData := []byte("test data")
	configs := []CommandConfig{
		{
			Name:   "UnknownCommand",
			Params: map[string]any{},
		},
	}

	_, err := buildAndRun(testData, configs)
	if err == nil {
		t.Error("Expected error for unknown command")
	}
}

func TestBuildCommands_InvalidCommandConfig(t *testing.T) {
	testRegistry := NewCommandRegistry()
	err := testRegistry.Register("TestCommand", func(params map[string]any) (Command, error) {
		if GetIntParam(params, "required_param", 0) <= 0 {
			return nil, errors.New("missing required parameter: required_param")
		}
		return passThrough("TestCommand"), nil
	})
	if err != nil {
		t.Fatalf("Failed to register test command: %v", err)
	}

	originalRegistry := DefaultRegistry
	DefaultRegistry = testRegistry
	defer func() { DefaultRegistry = originalRegistry }()

	testData := []byte("test data")
	configs := []CommandConfig{
		{
			Name:   "TestCommand",
			Params: map[string]any{},
		},
	}

	_, err = buildAndRun(testData, configs)
	if err == nil {
		t.Error("Expected error for invalid command configuration")
	}
}

func TestCommandInvoker_EmptyCommandList(t *testing.T) {
	invoker := NewCommandInvoker([]Command{})
	testData := []byte("test data")
	result, err := invoker.Execute(testData)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if string(result) != string(testData) {
		t.Error("Expected result to match input for empty command list")
	}
}

func TestCommandInvoker_InvalidImageData(t *testing.T) {
	// Create a mock command that returns an error
	testCmd := failing("TestCommand", errors.New("invalid image data"))

	invoker := NewCommandInvoker([]Command{testCmd})
	testData := []byte("invalid image data")
	_, err := invoker.Execute(testData)
	if err == nil {
		t.Error("Expected error for invalid image data")
	}
}

func TestNewCommandInvoker(t *testing.T) {
	commands := []Command{
		passThrough("TestCommand"),
	}

	invoker := NewCommandInvoker(commands)
	if invoker == nil {
		t.Fatal("Expected non-nil invoker")
	}
	if len(invoker.commands) != 1 {
		t.Errorf("Expected 1 command, got %d", len(invoker.commands))
	}
}

func TestCommandInvoker_MultipleCommands(t *testing.T) {
	// Create mock commands that modify the data
	cmd1 := &stubCommand{
		name: "Command1",
		run: func(data []byte) ([]byte, error) {
			return append(data, []byte("-cmd1")...), nil
		},
	}
	cmd2 := &stubCommand{
		name: "Command2",
		run: func(data []byte) ([]byte, error) {
			return append(data, []byte("-cmd2")...), nil
		},
	}

	invoker := NewCommandInvoker([]Command{cmd1, cmd2})
	testData := []byte("start")
	result, err := invoker.Execute(testData)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	expected := "start-cmd1-cmd2"
	if string(result) != expected {
		t.Errorf("Expected '%s', got '%s'", expected, string(result))
	}
}

func TestCommandInvoker_ErrorInMiddle(t *testing.T) {
	// Create commands where the second one fails
	cmd1 := passThrough("Command1")
	cmd2 := failing("Command2", errors.New("command2 failed"))
	cmd3 := passThrough("Command3")

	invoker := NewCommandInvoker([]Command{cmd1, cmd2, cmd3})
	testData := []byte("test")
	_, err := invoker.Execute(testData)

	if err == nil {
		t.Error("Expected error when command fails")
	}
	if err != nil && !strings.Contains(err.Error(), "Command2") {
		t.Errorf("Expected error to name the failing command, got %v", err)
	}
	if cmd1.calls != 1 || cmd2.calls != 1 || cmd3.calls != 0 {
		t.Errorf("Expected calls 1/1/0, got %d/%d/%d", cmd1.calls, cmd2.calls, cmd3.calls)
	}
}

func TestBuildCommands_UsesDefaultRegistry(t *testing.T) {
	testRegistry := NewCommandRegistry()
	err := testRegistry.Register("Suffix", func(params map[string]any) (Command, error) {
		suffix, _ := params["suffix"].(string)
		return &stubCommand{
			name: "Suffix",
			run: func(data []byte) ([]byte, error) {
				return append(data, []byte(suffix)...), nil
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("Failed to register test command: %v", err)
	}

	originalRegistry := DefaultRegistry
	DefaultRegistry = testRegistry
	defer func() { DefaultRegistry = originalRegistry }()

	result, err := buildAndRun([]byte("a"), []CommandConfig{
		{Name: "Suffix", Params: map[string]any{"suffix": "b"}},
		{Name: "Suffix", Params: map[string]any{"suffix": "c"}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(result) != "abc" {
		t.Errorf("Expected 'abc', got '%s'", string(result))
	}
}
