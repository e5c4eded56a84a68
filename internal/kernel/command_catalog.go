package kernel

import (
	"context"
	"fmt"
	"sort"

	"npa-monitor/pkg/npa"
)

// commandCatalog serves kernel command registrations as npa.CommandCatalog.
type commandCatalog struct {
	kernel *Kernel
}

// ListCommands returns every registered command sorted by name, then module.
func (c *commandCatalog) ListCommands(ctx context.Context) ([]npa.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if c == nil || c.kernel == nil {
		return nil, fmt.Errorf("list commands: nil catalog")
	}

	c.kernel.mu.RLock()
	commands := make([]npa.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		commands = append(commands, npa.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    registration.spec,
		})
	}
	c.kernel.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool {
		if commands[i].Command.Name == commands[j].Command.Name {
			return commands[i].ModuleName < commands[j].ModuleName
		}
		return commands[i].Command.Name < commands[j].Command.Name
	})

	return commands, nil
}

var _ npa.CommandCatalog = (*commandCatalog)(nil)
