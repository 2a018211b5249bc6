package fmgram

import (
	"fmt"
	"strings"
)

// CommandPrefix identifies the prefix introducing one command invocation.
type CommandPrefix string

const (
	// CommandPrefixOrdinary introduces user-facing commands.
	CommandPrefixOrdinary CommandPrefix = "/"
	// CommandPrefixSystem introduces operator commands.
	CommandPrefixSystem CommandPrefix = "~"
)

// Validate checks whether one command prefix is supported.
func (p CommandPrefix) Validate() error {
	switch p {
	case CommandPrefixOrdinary, CommandPrefixSystem:
		return nil
	default:
		return fmt.Errorf("validate command prefix: unsupported prefix %q", p)
	}
}

// CommandCandidate is a command-looking message before it is bound to a spec.
type CommandCandidate struct {
	Prefix CommandPrefix
	// Name is lower-cased and stripped of the prefix and any @mention.
	Name    string
	Mention string
	// RawInput is the original message text.
	RawInput string
	// Tokens holds everything after the command header.
	Tokens []string
}

// CommandOption is one parsed option in a bound invocation.
type CommandOption struct {
	Name     string
	Alias    string
	Value    string
	HasValue bool
}

// CommandInvocation carries one validated command payload.
type CommandInvocation struct {
	// Name is the canonical command name, even when an alias was typed.
	Name string
	// Alias is the name the user actually typed when it differs from Name.
	Alias   string
	Mention string
	// Value is the remaining non-option tail joined by single spaces.
	Value           string
	Options         []CommandOption
	SourceEventID   string
	SourceEventKind EventKind
	RawInput        string
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if normalizeCommandName(c.Name) == "" {
		return fmt.Errorf("validate command invocation: missing name")
	}
	if c.SourceEventID == "" {
		return fmt.Errorf("validate command invocation: missing source_event_id")
	}
	if c.SourceEventKind == "" {
		return fmt.Errorf("validate command invocation: missing source_event_kind")
	}

	return nil
}

// Option returns the parsed option with the given long name.
func (c *CommandInvocation) Option(name string) (CommandOption, bool) {
	if c == nil {
		return CommandOption{}, false
	}
	name = normalizeCommandName(name)
	for _, option := range c.Options {
		if option.Name == name {
			return option, true
		}
	}

	return CommandOption{}, false
}

// Args splits Value into whitespace-separated arguments.
func (c *CommandInvocation) Args() []string {
	if c == nil {
		return nil
	}

	return strings.Fields(c.Value)
}

// CommandOptionSpec declares one option accepted by a command.
type CommandOptionSpec struct {
	// Name is the long form used as `--<name>`.
	Name string
	// Alias is the one-character short form used as `-<alias>`.
	Alias       string
	HasValue    bool
	Required    bool
	Description string
}

// Validate checks command option specification coherence.
func (s CommandOptionSpec) Validate() error {
	name := normalizeCommandName(s.Name)
	alias := normalizeCommandName(s.Alias)
	if name == "" && alias == "" {
		return fmt.Errorf("validate command option spec: missing name and alias")
	}
	if alias != "" && len(alias) != 1 {
		return fmt.Errorf("validate command option spec: alias %q must be one character", s.Alias)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("validate command option spec: name %q contains whitespace", s.Name)
	}

	return nil
}

// CommandSpec declares one module command registration.
type CommandSpec struct {
	Prefix CommandPrefix
	Name   string
	// Aliases are alternative names that resolve to this command.
	Aliases     []string
	Description string
	// Usage is a free-form argument hint shown in help, e.g. "[period]".
	Usage   string
	Options []CommandOptionSpec
}

// Names returns the canonical name followed by every alias, normalized.
func (s CommandSpec) Names() []string {
	names := make([]string, 0, len(s.Aliases)+1)
	names = append(names, normalizeCommandName(s.Name))
	for _, alias := range s.Aliases {
		names = append(names, normalizeCommandName(alias))
	}

	return names
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	if err := s.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}

	seen := make(map[string]struct{}, len(s.Aliases)+1)
	for _, name := range s.Names() {
		if name == "" {
			return fmt.Errorf("validate command spec %q: empty name or alias", s.Name)
		}
		if strings.ContainsAny(name, " \t\r\n@") {
			return fmt.Errorf("validate command spec %q: invalid name %q", s.Name, name)
		}
		if _, exists := seen[name]; exists {
			return fmt.Errorf("validate command spec %q: duplicate name %q", s.Name, name)
		}
		seen[name] = struct{}{}
	}

	seenNames := make(map[string]struct{}, len(s.Options))
	seenAliases := make(map[string]struct{}, len(s.Options))
	for index, option := range s.Options {
		if err := option.Validate(); err != nil {
			return fmt.Errorf("validate command spec %s option[%d]: %w", s.Name, index, err)
		}
		if name := normalizeCommandName(option.Name); name != "" {
			if _, exists := seenNames[name]; exists {
				return fmt.Errorf("validate command spec %s: duplicate option name %q", s.Name, option.Name)
			}
			seenNames[name] = struct{}{}
		}
		if alias := normalizeCommandName(option.Alias); alias != "" {
			if _, exists := seenAliases[alias]; exists {
				return fmt.Errorf("validate command spec %s: duplicate option alias %q", s.Name, option.Alias)
			}
			seenAliases[alias] = struct{}{}
		}
	}

	return nil
}

// ParseCommandCandidate parses one input text into a command candidate.
//
// matched is false when text does not look like a command. When matched is
// true err reports syntax problems such as a missing command name.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return candidate, false, nil
	}
	header := fields[0]

	switch {
	case strings.HasPrefix(header, string(CommandPrefixOrdinary)):
		candidate.Prefix = CommandPrefixOrdinary
	case strings.HasPrefix(header, string(CommandPrefixSystem)):
		candidate.Prefix = CommandPrefixSystem
	default:
		return candidate, false, nil
	}

	name, mention, _ := strings.Cut(header[1:], "@")
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}

	if len(fields) > 1 {
		candidate.Tokens = append([]string(nil), fields[1:]...)
	}
	for _, token := range candidate.Tokens {
		if strings.HasPrefix(token, "--") && strings.Contains(token, "=") {
			return candidate, true, fmt.Errorf("parse command candidate: unsupported option format %q", token)
		}
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against the spec registered for
// its name or one of its aliases.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}
	if candidate.Prefix != spec.Prefix {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: prefix mismatch, got %q want %q",
			spec.Name,
			candidate.Prefix,
			spec.Prefix,
		)
	}

	typed := normalizeCommandName(candidate.Name)
	canonical := normalizeCommandName(spec.Name)
	known := false
	for _, name := range spec.Names() {
		if name == typed {
			known = true
			break
		}
	}
	if !known {
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}

	byName := make(map[string]CommandOptionSpec, len(spec.Options))
	byAlias := make(map[string]CommandOptionSpec, len(spec.Options))
	for _, option := range spec.Options {
		if name := normalizeCommandName(option.Name); name != "" {
			byName[name] = option
		}
		if alias := normalizeCommandName(option.Alias); alias != "" {
			byAlias[alias] = option
		}
	}

	options := make([]CommandOption, 0, len(candidate.Tokens))
	valueTokens := make([]string, 0, len(candidate.Tokens))
	seenRequired := make(map[string]struct{}, len(spec.Options))

	for index := 0; index < len(candidate.Tokens); index++ {
		token := candidate.Tokens[index]

		optionSpec, display, isOption, lookupErr := lookupOptionToken(token, byName, byAlias)
		if lookupErr != nil {
			return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, lookupErr)
		}
		if !isOption {
			valueTokens = append(valueTokens, token)
			continue
		}

		option := CommandOption{
			Name:  normalizeCommandName(optionSpec.Name),
			Alias: normalizeCommandName(optionSpec.Alias),
		}
		if optionSpec.HasValue {
			if index+1 >= len(candidate.Tokens) || looksLikeOptionToken(candidate.Tokens[index+1]) {
				return CommandInvocation{}, fmt.Errorf("bind command %s: option %s requires a value", spec.Name, display)
			}
			index++
			option.HasValue = true
			option.Value = candidate.Tokens[index]
		}
		options = append(options, option)
		if optionSpec.Required {
			seenRequired[commandOptionUsage(optionSpec)] = struct{}{}
		}
	}

	for _, option := range spec.Options {
		if !option.Required {
			continue
		}
		if _, exists := seenRequired[commandOptionUsage(option)]; !exists {
			return CommandInvocation{}, fmt.Errorf(
				"bind command %s: missing required option %s",
				spec.Name,
				commandOptionUsage(option),
			)
		}
	}

	invocation := CommandInvocation{
		Name:            canonical,
		Mention:         candidate.Mention,
		Value:           strings.Join(valueTokens, " "),
		Options:         options,
		SourceEventID:   sourceEvent.ID,
		SourceEventKind: sourceEvent.Kind,
		RawInput:        candidate.RawInput,
	}
	if typed != canonical {
		invocation.Alias = typed
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

// lookupOptionToken resolves `--name` and `-x` tokens. Tokens that do not
// look like options are reported with isOption false.
func lookupOptionToken(
	token string,
	byName map[string]CommandOptionSpec,
	byAlias map[string]CommandOptionSpec,
) (spec CommandOptionSpec, display string, isOption bool, err error) {
	if name, ok := parseLongOptionToken(token); ok {
		spec, exists := byName[name]
		if !exists {
			return CommandOptionSpec{}, "", true, fmt.Errorf("unknown option --%s", name)
		}
		return spec, "--" + name, true, nil
	}
	if alias, ok := parseShortOptionToken(token); ok {
		spec, exists := byAlias[alias]
		if !exists {
			return CommandOptionSpec{}, "", true, fmt.Errorf("unknown option -%s", alias)
		}
		return spec, "-" + alias, true, nil
	}

	return CommandOptionSpec{}, "", false, nil
}

func parseLongOptionToken(token string) (name string, ok bool) {
	if !strings.HasPrefix(token, "--") || len(token) <= 2 || strings.Contains(token, "=") {
		return "", false
	}

	return normalizeCommandName(token[2:]), true
}

// parseShortOptionToken accepts `-x` where x is a letter, so negative numbers
// such as `-1` stay positional.
func parseShortOptionToken(token string) (alias string, ok bool) {
	if len(token) != 2 || token[0] != '-' || token[1] == '-' {
		return "", false
	}
	if token[1] >= '0' && token[1] <= '9' {
		return "", false
	}

	return normalizeCommandName(token[1:]), true
}

func looksLikeOptionToken(token string) bool {
	if _, ok := parseLongOptionToken(token); ok {
		return true
	}
	_, ok := parseShortOptionToken(token)

	return ok
}

func commandOptionUsage(option CommandOptionSpec) string {
	if name := normalizeCommandName(option.Name); name != "" {
		return "--" + name
	}

	return "-" + normalizeCommandName(option.Alias)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
