package fmgram

import "context"

// RegisteredCommand describes one runtime command registration entry.
type RegisteredCommand struct {
	ModuleName string
	Command    CommandSpec
}

// CommandCatalog provides read access to registered command specifications.
type CommandCatalog interface {
	// ListCommands returns a copy of every registered command, one entry per
	// canonical command regardless of how many aliases it has.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
