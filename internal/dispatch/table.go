package dispatch

import (
	"fmt"
	"sort"
	"strings"
)

// Command is an action token understood by the downstream consumer.
type Command string

const (
	CommandNone Command = ""
	CommandJump Command = "jump"
	CommandDuck Command = "duck"
	CommandRun  Command = "run"
)

// maxTokenLen bounds a command payload.
const maxTokenLen = 32

// Valid reports whether c is a sendable token: short printable ASCII with no
// whitespace.
func (c Command) Valid() bool {
	if c == CommandNone || len(c) > maxTokenLen {
		return false
	}
	for _, r := range string(c) {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}

// Table maps classifier label names to commands. It is the single place
// where label-to-command policy lives.
type Table struct {
	entries  map[string]Command
	fallback Command
}

// DefaultTable is the mapping for the stock gesture model.
func DefaultTable() Table {
	return Table{
		entries: map[string]Command{
			"clench": CommandJump,
			"wrist":  CommandDuck,
			"index":  CommandRun,
			"rest":   CommandRun,
		},
	}
}

// NewTable builds a table from label→command entries. fallback is sent for
// labels without an entry; CommandNone means unmapped labels send nothing.
func NewTable(entries map[string]Command, fallback Command) (Table, error) {
	t := Table{entries: make(map[string]Command, len(entries)), fallback: fallback}
	for label, cmd := range entries {
		label = strings.TrimSpace(label)
		if label == "" {
			return Table{}, fmt.Errorf("command table has an empty label")
		}
		if !cmd.Valid() {
			return Table{}, fmt.Errorf("label %q maps to invalid command token %q", label, cmd)
		}
		t.entries[label] = cmd
	}
	if fallback != CommandNone && !fallback.Valid() {
		return Table{}, fmt.Errorf("invalid default command token %q", fallback)
	}
	return t, nil
}

// Lookup returns the command for label and whether anything should be sent.
func (t Table) Lookup(label string) (Command, bool) {
	if cmd, ok := t.entries[label]; ok {
		return cmd, true
	}
	if t.fallback != CommandNone {
		return t.fallback, true
	}
	return CommandNone, false
}

// Fallback returns the command used for unmapped labels.
func (t Table) Fallback() Command { return t.fallback }

// Entries returns a copy of the explicit mappings.
func (t Table) Entries() map[string]Command {
	out := make(map[string]Command, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Labels returns the mapped labels in sorted order.
func (t Table) Labels() []string {
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Missing returns the labels from labels that have no explicit entry.
func (t Table) Missing(labels []string) []string {
	var out []string
	for _, l := range labels {
		if _, ok := t.entries[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}
