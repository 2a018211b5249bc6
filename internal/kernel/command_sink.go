package kernel

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"fmgram/pkg/fmgram"
)

type commandRegistration struct {
	moduleName string
	spec       fmgram.CommandSpec
}

// registerModuleCommands claims every name and alias of commands for
// moduleName. Nothing is registered when any name is already owned.
func (k *Kernel) registerModuleCommands(moduleName string, commands []fmgram.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	claims := make(map[string]fmgram.CommandSpec, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		command = cloneCommandSpec(command)
		for _, name := range command.Names() {
			key := commandRegistryKey(command.Prefix, name)
			if _, exists := claims[key]; exists {
				return fmt.Errorf(
					"register command %s for module %s: duplicate declaration",
					formatCommandKey(command.Prefix, name),
					moduleName,
				)
			}
			claims[key] = command
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for key := range claims {
		if existing, exists := k.commands[key]; exists {
			return fmt.Errorf(
				"register command %s for module %s: already registered by module %s as %s",
				strings.Replace(key, ":", "", 1),
				moduleName,
				existing.moduleName,
				formatCommandKey(existing.spec.Prefix, existing.spec.Name),
			)
		}
	}
	for key, command := range claims {
		k.commands[key] = commandRegistration{moduleName: moduleName, spec: command}
	}

	return nil
}

// unregisterModuleCommands drops every name and alias owned by moduleName.
func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	maps.DeleteFunc(k.commands, func(_ string, registration commandRegistration) bool {
		return registration.moduleName == moduleName
	})
}

// lookupCommand resolves a spec by prefix and any of its names.
func (k *Kernel) lookupCommand(prefix fmgram.CommandPrefix, name string) (fmgram.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[commandRegistryKey(prefix, name)]
	k.mu.RUnlock()
	if !exists {
		return fmgram.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

// newDriverEventDispatcher returns the dispatcher handed to drivers: it
// publishes source events and derives command events from them.
func (k *Kernel) newDriverEventDispatcher() fmgram.EventDispatcher {
	return &commandDerivingDispatcher{
		base:          k.bus,
		lookupCommand: k.lookupCommand,
		serviceLookup: k.services,
		reportAsync:   k.cfg.onAsyncError,
	}
}

// commandDerivingDispatcher publishes every source event and, when a message
// invokes a registered command, a derived command event after it.
type commandDerivingDispatcher struct {
	base          fmgram.EventDispatcher
	lookupCommand func(prefix fmgram.CommandPrefix, name string) (fmgram.CommandSpec, bool)
	serviceLookup fmgram.ServiceRegistry
	reportAsync   func(context.Context, string, error)
}

// Publish forwards event and derives at most one command event from it.
// Unknown commands are ignored; malformed invocations of known commands get
// a usage reply instead of a command event.
func (d *commandDerivingDispatcher) Publish(ctx context.Context, event *fmgram.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving dispatcher: nil event")
	}
	if err := d.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	message, ok := commandMessageFromEvent(event)
	if !ok {
		return nil
	}
	candidate, matched, parseErr := fmgram.ParseCommandCandidate(message.Text)
	if !matched {
		return nil
	}
	spec, registered := d.lookupCommand(candidate.Prefix, candidate.Name)
	if !registered {
		return nil
	}
	if parseErr != nil {
		d.replyCommandError(ctx, event, spec, parseErr)
		return nil
	}

	invocation, err := fmgram.BindCommand(candidate, spec, event)
	if err != nil {
		d.replyCommandError(ctx, event, spec, err)
		return nil
	}

	commandEvent := derivedCommandEvent(event, message, candidate.Prefix, invocation)
	if err := d.base.Publish(ctx, commandEvent); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

func (d *commandDerivingDispatcher) replyCommandError(
	ctx context.Context,
	sourceEvent *fmgram.Event,
	spec fmgram.CommandSpec,
	cause error,
) {
	const scope = "command error reply"

	if d.serviceLookup == nil {
		d.reportAsyncError(ctx, scope, fmt.Errorf("service lookup unavailable"))
		return
	}
	dispatcher, err := fmgram.ResolveAs[fmgram.SinkDispatcher](d.serviceLookup, fmgram.ServiceSinkDispatcher)
	if err != nil {
		d.reportAsyncError(ctx, scope, err)
		return
	}
	target, err := fmgram.OutboundTargetFromEvent(sourceEvent)
	if err != nil {
		d.reportAsyncError(ctx, scope, err)
		return
	}

	if _, err := dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:           target,
		Text:             formatCommandErrorReply(spec, cause),
		ReplyToMessageID: sourceEvent.SourceMessageID(),
	}); err != nil {
		d.reportAsyncError(ctx, scope, err)
	}
}

func (d *commandDerivingDispatcher) reportAsyncError(ctx context.Context, scope string, err error) {
	if d.reportAsync != nil {
		d.reportAsync(ctx, scope, err)
	}
}

// commandMessageFromEvent returns the message a command can be parsed from:
// a new message, or the post-edit text of an edited one.
func commandMessageFromEvent(event *fmgram.Event) (fmgram.Message, bool) {
	switch event.Kind {
	case fmgram.EventKindMessageCreated:
		if event.Message == nil {
			return fmgram.Message{}, false
		}
		return *event.Message, true
	case fmgram.EventKindMessageEdited:
		if event.Mutation == nil || event.Mutation.TargetMessageID == "" || event.Mutation.After == "" {
			return fmgram.Message{}, false
		}
		message := fmgram.Message{ID: event.Mutation.TargetMessageID, Text: event.Mutation.After}
		if event.Message != nil {
			message.ReplyToID = event.Message.ReplyToID
		}
		return message, true
	default:
		return fmgram.Message{}, false
	}
}

func derivedCommandEvent(
	sourceEvent *fmgram.Event,
	message fmgram.Message,
	prefix fmgram.CommandPrefix,
	invocation fmgram.CommandInvocation,
) *fmgram.Event {
	kind, suffix := derivedCommandEventKind(prefix)
	invocation.Options = cloneSlice(invocation.Options)

	return &fmgram.Event{
		ID:           sourceEvent.ID + suffix,
		Kind:         kind,
		OccurredAt:   sourceEvent.OccurredAt,
		Source:       sourceEvent.Source,
		Platform:     sourceEvent.Platform,
		Conversation: sourceEvent.Conversation,
		Actor:        sourceEvent.Actor,
		Message:      &message,
		Command:      &invocation,
		Metadata:     maps.Clone(sourceEvent.Metadata),
	}
}

func derivedCommandEventKind(prefix fmgram.CommandPrefix) (fmgram.EventKind, string) {
	if prefix == fmgram.CommandPrefixSystem {
		return fmgram.EventKindSystemCommandReceived, "#system-command"
	}

	return fmgram.EventKindCommandReceived, "#command"
}

func formatCommandErrorReply(spec fmgram.CommandSpec, cause error) string {
	if cause == nil {
		return "usage: " + commandUsage(spec)
	}

	return fmt.Sprintf("%s\nusage: %s", cause.Error(), commandUsage(spec))
}

// commandUsage renders `/name [usage] [--opt <value>]`.
func commandUsage(spec fmgram.CommandSpec) string {
	parts := []string{formatCommandKey(spec.Prefix, spec.Name)}
	if usage := strings.TrimSpace(spec.Usage); usage != "" {
		parts = append(parts, usage)
	}
	for _, option := range spec.Options {
		descriptor := commandOptionDescriptor(option)
		if descriptor == "" {
			continue
		}
		if !option.Required {
			descriptor = "[" + descriptor + "]"
		}
		parts = append(parts, descriptor)
	}

	return strings.Join(parts, " ")
}

func commandOptionDescriptor(option fmgram.CommandOptionSpec) string {
	var flags []string
	if name := normalizeCommandName(option.Name); name != "" {
		flags = append(flags, "--"+name)
	}
	if alias := normalizeCommandName(option.Alias); alias != "" {
		flags = append(flags, "-"+alias)
	}
	if len(flags) == 0 {
		return ""
	}
	descriptor := strings.Join(flags, "|")
	if option.HasValue {
		descriptor += " <value>"
	}

	return descriptor
}

func commandRegistryKey(prefix fmgram.CommandPrefix, name string) string {
	return fmt.Sprintf("%s:%s", prefix, normalizeCommandName(name))
}

func formatCommandKey(prefix fmgram.CommandPrefix, name string) string {
	return string(prefix) + normalizeCommandName(name)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// cloneCommandSpec returns a normalized deep copy of spec.
func cloneCommandSpec(spec fmgram.CommandSpec) fmgram.CommandSpec {
	cloned := spec
	cloned.Name = normalizeCommandName(spec.Name)
	if len(spec.Aliases) > 0 {
		cloned.Aliases = make([]string, 0, len(spec.Aliases))
		for _, alias := range spec.Aliases {
			cloned.Aliases = append(cloned.Aliases, normalizeCommandName(alias))
		}
	}
	cloned.Options = cloneSlice(spec.Options)
	for index := range cloned.Options {
		cloned.Options[index].Name = normalizeCommandName(cloned.Options[index].Name)
		cloned.Options[index].Alias = normalizeCommandName(cloned.Options[index].Alias)
	}

	return cloned
}
