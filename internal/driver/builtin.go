package driver

import (
	"context"
	"fmt"
	"log/slog"

	"fmgram/internal/driver/telegram"
)

// NewBuiltinRegistry constructs the registry with every compiled-in driver type.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				built, err := telegram.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime: %w", err)
				}

				return Runtime{
					Source:         built.Source,
					Driver:         built.Driver,
					SinkDispatcher: built.Outbound,
				}, nil
			},
		},
	})
}
