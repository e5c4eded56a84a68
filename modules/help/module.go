// Package help answers /help with the list of registered commands.
package help

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/npa"
)

const helpCommandName = "help"

// Option mutates module configuration.
type Option func(*Module)

// WithLogger sets the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithDeliveryRecorder reports delivery outcomes to recorder.
func WithDeliveryRecorder(recorder delivery.Recorder) Option {
	return func(module *Module) {
		module.recorder = recorder
	}
}

// Module replies with command reference text when it receives a /help command.
type Module struct {
	logger         *slog.Logger
	recorder       delivery.Recorder
	presenter      *delivery.Presenter
	commandCatalog npa.CommandCatalog
}

// New creates a help module.
func New(options ...Option) *Module {
	module := &Module{logger: slog.Default()}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares interest in help command events.
func (m *Module) Spec() npa.ModuleSpec {
	return npa.ModuleSpec{
		Handlers: []npa.ModuleHandler{
			{
				Capability: npa.Capability{
					Name:        "help-command-handler",
					Description: "renders registered command help for /help",
					Interest: npa.InterestSet{
						Kinds:          []npa.EventKind{npa.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
					},
					RequiredServices: []string{
						npa.ServiceSinkDispatcher,
						npa.ServiceCommandCatalog,
					},
				},
				Subscription: npa.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []npa.CommandSpec{
			{
				Name:        helpCommandName,
				Description: "список команд",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime npa.ModuleRuntime) error {
	dispatcher, err := npa.ResolveAs[npa.SinkDispatcher](runtime.Services(), npa.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	commandCatalog, err := npa.ResolveAs[npa.CommandCatalog](runtime.Services(), npa.ServiceCommandCatalog)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.presenter = delivery.NewPresenter(dispatcher,
		delivery.WithLogger(m.logger),
		delivery.WithRecorder(m.recorder),
	)
	m.commandCatalog = commandCatalog

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *npa.Event) error {
	if event == nil || event.Command == nil {
		return nil
	}
	if event.Kind != npa.EventKindCommandReceived || event.Command.Name != helpCommandName {
		return nil
	}
	if m.presenter == nil {
		return fmt.Errorf("help handle command: outbound dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle command: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	target, err := npa.SendTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive send target: %w", err)
	}
	if err := m.presenter.Present(ctx, target, renderHelp(commands)); err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

func renderHelp(commands []npa.RegisteredCommand) delivery.Screen {
	visible := make([]npa.RegisteredCommand, 0, len(commands))
	for _, command := range commands {
		if !command.Command.Hidden {
			visible = append(visible, command)
		}
	}

	var text npa.Text
	text.Plain("📚 ").Bold("Команды бота:").Line()
	if len(visible) == 0 {
		text.Plain("(нет)")
		return delivery.NewScreen(&text, nil)
	}

	sort.Slice(visible, func(i, j int) bool {
		left := commandLabel(visible[i].Command)
		right := commandLabel(visible[j].Command)
		if left == right {
			return visible[i].ModuleName < visible[j].ModuleName
		}
		return left < right
	})

	for _, command := range visible {
		text.Line().Bold(commandLabel(command.Command))
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			text.Plain(" - " + description)
		}
	}
	text.Line().Line().Plain("Остальное доступно через меню /start")

	return delivery.NewScreen(&text, nil)
}

func commandLabel(command npa.CommandSpec) string {
	return "/" + npa.NormalizeCommandName(command.Name)
}

var (
	_ npa.Module          = (*Module)(nil)
	_ npa.ModuleRegistrar = (*Module)(nil)
)
