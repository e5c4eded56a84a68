package npa

import (
	"context"
	"fmt"
	"strings"
)

// CommandPrefix is the leading token that introduces a command.
const CommandPrefix = "/"

// CommandCandidate is a parsed command-looking message before command-spec binding.
type CommandCandidate struct {
	// Name is the normalized command name without prefix and mention suffix.
	Name string
	// Mention is the optional bot mention from `/<name>@<mention>`.
	Mention string
	// RawInput is the original untrimmed message text.
	RawInput string
	// Tokens stores tail tokens after the command header.
	Tokens []string
}

// CommandInvocation carries one validated command event payload.
type CommandInvocation struct {
	// Name is the normalized command name.
	Name string
	// Mention is the optional bot mention.
	Mention string
	// Value stores the tail text joined by spaces.
	Value string
	// SourceEventID identifies the inbound event that produced this command.
	SourceEventID string
	// SourceEventKind identifies the inbound event kind.
	SourceEventKind EventKind
	// RawInput stores the original inbound message text.
	RawInput string
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if NormalizeCommandName(c.Name) == "" {
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

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Name is the command name without prefix and mention suffix.
	Name string
	// Description is shown by /help.
	Description string
	// Hidden keeps the command out of /help listings.
	Hidden bool
}

// Validate checks command definition coherence.
func (s CommandSpec) Validate() error {
	name := NormalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.ContainsAny(name, " \t\r\n@/") {
		return fmt.Errorf("validate command spec: name %q contains reserved characters", s.Name)
	}

	return nil
}

// RegisteredCommand describes one runtime command registration entry.
type RegisteredCommand struct {
	// ModuleName identifies which module registered this command.
	ModuleName string
	// Command is the registered command definition.
	Command CommandSpec
}

// CommandCatalog provides read access to registered command definitions.
type CommandCatalog interface {
	// ListCommands returns a defensive copy of all registered command entries.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}

// ParseCommandCandidate parses one input text into a command candidate.
//
// matched is false when text does not look like a command. When matched is true,
// err reports syntax issues such as a missing command name.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return candidate, false, nil
	}
	header := fields[0]
	if !strings.HasPrefix(header, CommandPrefix) {
		return candidate, false, nil
	}

	name, mention := splitCommandHeader(strings.TrimPrefix(header, CommandPrefix))
	candidate.Name = NormalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}
	if len(fields) > 1 {
		candidate.Tokens = append([]string(nil), fields[1:]...)
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against one command spec.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}
	specName := NormalizeCommandName(spec.Name)
	if NormalizeCommandName(candidate.Name) != specName {
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}

	invocation := CommandInvocation{
		Name:            specName,
		Mention:         candidate.Mention,
		Value:           strings.Join(candidate.Tokens, " "),
		SourceEventID:   sourceEvent.ID,
		SourceEventKind: sourceEvent.Kind,
		RawInput:        candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

// NormalizeCommandName lowercases and trims a command name.
func NormalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func splitCommandHeader(token string) (name string, mention string) {
	separator := strings.Index(token, "@")
	if separator < 0 {
		return token, ""
	}

	return token[:separator], token[separator+1:]
}
