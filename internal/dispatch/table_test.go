package dispatch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()
	for label, want := range map[string]Command{
		"clench": CommandJump,
		"wrist":  CommandDuck,
		"index":  CommandRun,
		"rest":   CommandRun,
	} {
		got, ok := tbl.Lookup(label)
		assert.True(t, ok, label)
		assert.Equal(t, want, got, label)
	}

	_, ok := tbl.Lookup("wave")
	assert.False(t, ok, "stock table has no default")
	assert.Equal(t, []string{"clench", "index", "rest", "wrist"}, tbl.Labels())
}

func TestNewTable_Fallback(t *testing.T) {
	tbl, err := NewTable(map[string]Command{"clench": "jump"}, CommandRun)
	require.NoError(t, err)

	got, ok := tbl.Lookup("anything")
	assert.True(t, ok)
	assert.Equal(t, CommandRun, got)
	assert.Equal(t, CommandRun, tbl.Fallback())
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name     string
		entries  map[string]Command
		fallback Command
	}{
		{"empty label", map[string]Command{" ": "jump"}, CommandNone},
		{"empty token", map[string]Command{"a": ""}, CommandNone},
		{"token with space", map[string]Command{"a": "ju mp"}, CommandNone},
		{"token with newline", map[string]Command{"a": "jump\n"}, CommandNone},
		{"non-ascii token", map[string]Command{"a": "sprüng"}, CommandNone},
		{"bad fallback", map[string]Command{"a": "jump"}, "x y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.entries, tt.fallback)
			assert.Error(t, err)
		})
	}
}

func TestTable_EntriesIsACopy(t *testing.T) {
	tbl := DefaultTable()
	e := tbl.Entries()
	e["clench"] = "duck"

	got, _ := tbl.Lookup("clench")
	assert.Equal(t, CommandJump, got)
}

func TestTable_Missing(t *testing.T) {
	tbl := DefaultTable()
	got := tbl.Missing([]string{"clench", "wave", "rest", "pinch"})
	if diff := cmp.Diff([]string{"wave", "pinch"}, got); diff != "" {
		t.Errorf("Missing() mismatch (-want +got):\n%s", diff)
	}
}
