package commandstructure

import (
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker runs a fixed sequence of commands
type CommandInvoker struct {
	commands []Command
}

func NewCommandInvoker(commands []Command) *CommandInvoker {
	return &CommandInvoker{
		commands: commands,
	}
}

// Len returns the number of commands in the sequence
func (i *CommandInvoker) Len() int {
	return len(i.commands)
}

// Execute feeds the output of each command into the next one
func (i *CommandInvoker) Execute(imageData []byte) ([]byte, error) {
	if len(i.commands) == 0 {
		return imageData, nil
	}

	start := time.Now()
	current := imageData
	for idx, command := range i.commands {
		processed, err := command.Execute(current)
		if err != nil {
			slog.Error("command execution failed",
				"index", idx,
				"command_name", command.Name(),
				"input_size_bytes", len(current),
				"error", err)
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}
		current = processed
	}

	slog.Debug("command sequence completed",
		"command_count", len(i.commands),
		"duration_ms", time.Since(start).Milliseconds(),
		"input_size_bytes", len(imageData),
		"output_size_bytes", len(current))
	return current, nil
}
