package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fmgram/pkg/fmgram"
)

const helpCommandName = "help"

// Module replies with the command reference when it receives /help.
type Module struct {
	dispatcher     fmgram.SinkDispatcher
	commandCatalog fmgram.CommandCatalog
}

// New creates a help module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares interest in ordinary help command events.
func (m *Module) Spec() fmgram.ModuleSpec {
	return fmgram.ModuleSpec{
		Handlers: []fmgram.ModuleHandler{
			{
				Capability: fmgram.Capability{
					Name:        "help-command-handler",
					Description: "renders registered command help for /help",
					Interest: fmgram.InterestSet{
						Kinds:          []fmgram.EventKind{fmgram.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
					},
					RequiredServices: []string{
						fmgram.ServiceSinkDispatcher,
						fmgram.ServiceCommandCatalog,
					},
				},
				Subscription: fmgram.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []fmgram.CommandSpec{
			{
				Prefix:      fmgram.CommandPrefixOrdinary,
				Name:        helpCommandName,
				Aliases:     []string{"h", "start"},
				Description: "show all available commands",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime fmgram.ModuleRuntime) error {
	dispatcher, err := fmgram.ResolveAs[fmgram.SinkDispatcher](
		runtime.Services(),
		fmgram.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	commandCatalog, err := fmgram.ResolveAs[fmgram.CommandCatalog](
		runtime.Services(),
		fmgram.ServiceCommandCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
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

func (m *Module) handleCommand(ctx context.Context, event *fmgram.Event) error {
	if event == nil || event.Command == nil {
		return nil
	}
	if event.Kind != fmgram.EventKindCommandReceived || event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle command: outbound dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle command: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	target, err := fmgram.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:             target,
		Text:               renderHelp(commands),
		ReplyToMessageID:   event.SourceMessageID(),
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

// renderHelp groups ordinary commands by module. System commands are listed
// last under their own heading.
func renderHelp(commands []fmgram.RegisteredCommand) string {
	if len(commands) == 0 {
		return "🎵 Available commands:\n(none)"
	}

	sorted := append([]fmgram.RegisteredCommand(nil), commands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		left, right := sorted[i], sorted[j]
		if (left.Command.Prefix == fmgram.CommandPrefixSystem) != (right.Command.Prefix == fmgram.CommandPrefixSystem) {
			return right.Command.Prefix == fmgram.CommandPrefixSystem
		}
		if left.ModuleName != right.ModuleName {
			return left.ModuleName < right.ModuleName
		}
		return commandLabel(left.Command) < commandLabel(right.Command)
	})

	lines := []string{"🎵 Available commands:"}
	group := ""
	for _, command := range sorted {
		heading := strings.TrimSpace(command.ModuleName)
		if heading == "" {
			heading = "unknown"
		}
		if command.Command.Prefix == fmgram.CommandPrefixSystem {
			heading = "system"
		}
		if heading != group {
			lines = append(lines, "", fmt.Sprintf("[%s]", heading))
			group = heading
		}
		lines = append(lines, renderCommand(command.Command))
	}

	return strings.Join(lines, "\n")
}

func renderCommand(command fmgram.CommandSpec) string {
	var builder strings.Builder
	builder.WriteString(commandLabel(command))
	if len(command.Aliases) > 0 {
		aliases := make([]string, 0, len(command.Aliases))
		for _, alias := range command.Aliases {
			aliases = append(aliases, string(command.Prefix)+strings.ToLower(strings.TrimSpace(alias)))
		}
		builder.WriteString(fmt.Sprintf(" (%s)", strings.Join(aliases, ", ")))
	}
	if usage := strings.TrimSpace(command.Usage); usage != "" {
		builder.WriteString(" " + usage)
	}
	if len(command.Options) != 0 {
		builder.WriteString(" " + renderCommandOptions(command.Options))
	}
	if description := strings.TrimSpace(command.Description); description != "" {
		builder.WriteString(" - " + description)
	}

	return builder.String()
}

func commandLabel(command fmgram.CommandSpec) string {
	return fmt.Sprintf("%s%s", command.Prefix, strings.ToLower(strings.TrimSpace(command.Name)))
}

func renderCommandOptions(options []fmgram.CommandOptionSpec) string {
	sorted := append([]fmgram.CommandOptionSpec(nil), options...)
	sort.Slice(sorted, func(i, j int) bool {
		return optionSortKey(sorted[i]) < optionSortKey(sorted[j])
	})

	descriptors := make([]string, 0, len(sorted))
	for _, option := range sorted {
		if descriptor := renderCommandOption(option); descriptor != "" {
			descriptors = append(descriptors, "["+descriptor+"]")
		}
	}

	return strings.Join(descriptors, " ")
}

func optionSortKey(option fmgram.CommandOptionSpec) string {
	return strings.ToLower(strings.TrimSpace(option.Name)) + "|" + strings.ToLower(strings.TrimSpace(option.Alias))
}

func renderCommandOption(option fmgram.CommandOptionSpec) string {
	name := strings.ToLower(strings.TrimSpace(option.Name))
	alias := strings.ToLower(strings.TrimSpace(option.Alias))

	var descriptor string
	switch {
	case name != "" && alias != "":
		descriptor = fmt.Sprintf("--%s|-%s", name, alias)
	case name != "":
		descriptor = fmt.Sprintf("--%s", name)
	case alias != "":
		descriptor = fmt.Sprintf("-%s", alias)
	default:
		return ""
	}

	if option.HasValue {
		descriptor += " <value>"
	}
	if option.Required {
		descriptor += " (required)"
	}

	return descriptor
}

var (
	_ fmgram.Module          = (*Module)(nil)
	_ fmgram.ModuleRegistrar = (*Module)(nil)
)
