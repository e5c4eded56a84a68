package kernel

import (
	"context"
	"fmt"

	"npa-monitor/pkg/npa"
)

type commandRegistration struct {
	moduleName string
	spec       npa.CommandSpec
}

// registerModuleCommands adds module commands to the kernel table. Command
// names are global: a name owned by another module fails the registration.
func (k *Kernel) registerModuleCommands(moduleName string, commands []npa.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	normalized := make([]npa.CommandSpec, 0, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		command.Name = npa.NormalizeCommandName(command.Name)
		normalized = append(normalized, command)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, command := range normalized {
		if existing, exists := k.commands[command.Name]; exists {
			return fmt.Errorf(
				"register command %s%s for module %s: already registered by module %s",
				npa.CommandPrefix,
				command.Name,
				moduleName,
				existing.moduleName,
			)
		}
	}
	for _, command := range normalized {
		k.commands[command.Name] = commandRegistration{moduleName: moduleName, spec: command}
	}

	return nil
}

func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for name, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, name)
		}
	}
}

func (k *Kernel) lookupCommand(name string) (npa.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[npa.NormalizeCommandName(name)]
	k.mu.RUnlock()

	return registration.spec, exists
}

// newDriverEventSink wraps the bus so that driver messages invoking a
// registered command also produce a command.received event.
func (k *Kernel) newDriverEventSink() npa.EventSink {
	return &commandDerivingSink{
		base:          k.bus,
		lookupCommand: k.lookupCommand,
	}
}

type commandDerivingSink struct {
	base          npa.EventSink
	lookupCommand func(name string) (npa.CommandSpec, bool)
}

// Publish forwards the source event, then derives a command event when the
// message text starts with a registered command.
func (s *commandDerivingSink) Publish(ctx context.Context, event *npa.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving sink: nil event")
	}
	if s.base == nil {
		return fmt.Errorf("publish command deriving sink: nil base sink")
	}

	if err := s.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}
	if event.Kind != npa.EventKindMessageCreated || event.Message == nil {
		return nil
	}

	candidate, matched, parseErr := npa.ParseCommandCandidate(event.Message.Text)
	if !matched || parseErr != nil {
		return nil
	}
	spec, registered := s.lookupCommand(candidate.Name)
	if !registered {
		return nil
	}

	invocation, err := npa.BindCommand(candidate, spec, event)
	if err != nil {
		return fmt.Errorf("derive command %s: %w", candidate.Name, err)
	}
	if err := s.base.Publish(ctx, derivedCommandEvent(event, invocation)); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

func derivedCommandEvent(source *npa.Event, invocation npa.CommandInvocation) *npa.Event {
	message := *source.Message

	return &npa.Event{
		ID:           source.ID + "#command",
		Kind:         npa.EventKindCommandReceived,
		OccurredAt:   source.OccurredAt,
		Platform:     source.Platform,
		Conversation: source.Conversation,
		Actor:        source.Actor,
		Message:      &message,
		Command:      &invocation,
		Metadata:     cloneStringMap(source.Metadata),
	}
}

func cloneStringMap(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}

	return cloned
}
