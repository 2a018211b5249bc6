package kernel

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"fmgram/pkg/fmgram"
)

// kernelCommandCatalog serves kernel command registrations as a service.
type kernelCommandCatalog struct {
	kernel *Kernel
}

// ListCommands returns one entry per canonical command sorted by prefixed
// name, then module. Aliases appear only inside their command's spec.
func (c *kernelCommandCatalog) ListCommands(ctx context.Context) ([]fmgram.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if c == nil || c.kernel == nil {
		return nil, fmt.Errorf("list commands: nil catalog")
	}

	c.kernel.mu.RLock()
	seen := make(map[string]struct{}, len(c.kernel.commands))
	commands := make([]fmgram.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		canonical := registration.moduleName + "\x00" + commandRegistryKey(registration.spec.Prefix, registration.spec.Name)
		if _, exists := seen[canonical]; exists {
			continue
		}
		seen[canonical] = struct{}{}
		commands = append(commands, fmgram.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    cloneCommandSpec(registration.spec),
		})
	}
	c.kernel.mu.RUnlock()

	slices.SortFunc(commands, func(left, right fmgram.RegisteredCommand) int {
		return cmp.Or(
			cmp.Compare(
				formatCommandKey(left.Command.Prefix, left.Command.Name),
				formatCommandKey(right.Command.Prefix, right.Command.Name),
			),
			cmp.Compare(left.ModuleName, right.ModuleName),
		)
	})

	return commands, nil
}

var _ fmgram.CommandCatalog = (*kernelCommandCatalog)(nil)
