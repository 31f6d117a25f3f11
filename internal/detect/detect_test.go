package detect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategies(t *testing.T) {
	tests := []struct {
		name    string
		id      StrategyID
		screen  string
		current State
		want    State
	}{
		{"claude idle prompt", StrategyClaude, "╭────╮\n│ >  │\n╰────╯\n  ? for shortcuts", StateBusy, StateIdle},
		{"claude busy banner", StrategyClaude, "Reading files\n(esc to interrupt)", StateIdle, StateBusy},
		{"claude busy ctrl+c", StrategyClaude, "Working (12s · CTRL+C to interrupt)", StateIdle, StateBusy},
		{"claude spinner line", StrategyClaude, "some output\n✳ Pondering… (3s)", StateIdle, StateBusy},
		{"claude edit prompt", StrategyClaude, "Do you want to make this edit to main.go?\n❯ 1. Yes\n  2. No", StateBusy, StateWaitingInput},
		{"claude tell claude", StrategyClaude, "  3. No, and tell Claude what to do differently (esc)", StateBusy, StateWaitingInput},
		{"claude prompt options after gap", StrategyClaude, "Do you want to proceed?\n\n  rm -rf build\n❯ 1. Yes", StateBusy, StateWaitingInput},
		{"claude question split across lines", StrategyClaude, "Would you like\nto hear more?\nyes", StateBusy, StateIdle},
		{"claude trust folder", StrategyClaude, "Do you trust the files in this folder?", StateIdle, StateWaitingInput},
		{"claude neutral keeps busy", StrategyClaude, "esc to interrupt\nctrl+r to toggle", StateBusy, StateBusy},
		{"claude neutral keeps idle", StrategyClaude, "Do you want to proceed?\n❯ Yes\nctrl+r to toggle", StateIdle, StateIdle},

		{"gemini confirm", StrategyGemini, "│ Apply this change?\n│ ● Yes", StateBusy, StateWaitingInput},
		{"gemini allow regex", StrategyGemini, "│ Allow shell command 'ls'?", StateBusy, StateWaitingInput},
		{"gemini waiting text", StrategyGemini, "Waiting for user confirmation...", StateBusy, StateWaitingInput},
		{"gemini busy", StrategyGemini, "⠋ Thinking (esc to cancel, 3s)", StateIdle, StateBusy},
		{"gemini idle", StrategyGemini, "> Type your message", StateBusy, StateIdle},

		{"codex y/n", StrategyCodex, "Run `rm -rf build`? [y/N]", StateBusy, StateWaitingInput},
		{"codex allow box", StrategyCodex, "│Allow command?", StateBusy, StateWaitingInput},
		{"codex regex", StrategyCodex, "Do you want to apply these edits", StateBusy, StateWaitingInput},
		{"codex busy", StrategyCodex, "• Working (4s • Esc to interrupt)", StateIdle, StateBusy},
		{"codex idle", StrategyCodex, "▌ Ask Codex to do anything", StateBusy, StateIdle},

		{"cursor run", StrategyCursor, "Run this command?\n  npm test", StateBusy, StateWaitingInput},
		{"cursor keep", StrategyCursor, "Accept (y) (enter)   Reject keep (n)", StateBusy, StateWaitingInput},
		{"cursor auto run", StrategyCursor, "Auto approve on (shift+tab)", StateBusy, StateWaitingInput},
		{"cursor busy", StrategyCursor, "Generating  ctrl+c to stop", StateIdle, StateBusy},

		{"opencode permission", StrategyOpenCode, "△ Permission required\n  Allow once   Allow always   Reject", StateBusy, StateWaitingInput},
		{"opencode busy", StrategyOpenCode, "Working...  esc interrupt", StateIdle, StateBusy},
		{"opencode idle", StrategyOpenCode, "Ask anything", StateBusy, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.id, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.DetectState(tt.screen, tt.current))
		})
	}
}

// A confirmation prompt under a lingering interrupt banner is waiting, not busy.
func TestWaitingWinsOverBusy(t *testing.T) {
	screens := map[StrategyID]string{
		StrategyClaude:   "esc to interrupt\nDo you want to create foo.txt?\n❯ 1. Yes",
		StrategyGemini:   "esc to cancel\n│ Allow execution of 'make'?",
		StrategyCodex:    "esc to interrupt\nProceed? [y/n]",
		StrategyCursor:   "ctrl+c to stop\nRun this command?",
		StrategyOpenCode: "esc interrupt\n△ Permission required",
	}
	for id, screen := range screens {
		s, err := New(id, nil)
		require.NoError(t, err)
		for _, current := range []State{StateBusy, StateIdle, StateWaitingInput} {
			assert.Equal(t, StateWaitingInput, s.DetectState(screen, current), "%s from %s", id, current)
		}
	}
}

func TestDetectStripsANSI(t *testing.T) {
	s := NewClaude(nil)
	screen := "\x1b[2mesc\x1b[0m to \x1b[1minterrupt\x1b[0m"
	assert.Equal(t, StateBusy, s.DetectState(screen, StateIdle))
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("aider", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
}

func TestOverridesReplaceDefaults(t *testing.T) {
	s, err := New(StrategyClaude, &Patterns{Busy: []string{"re:crunching \\d+"}})
	require.NoError(t, err)

	assert.Equal(t, StateIdle, s.DetectState("esc to interrupt", StateBusy))
	assert.Equal(t, StateBusy, s.DetectState("CRUNCHING 42 files", StateIdle))
	// Untouched fields keep their defaults.
	assert.Equal(t, StateWaitingInput, s.DetectState("Do you trust the files in this folder?", StateIdle))
}

func TestCustomStrategy(t *testing.T) {
	s, err := New(StrategyCustom, &Patterns{
		Waiting: []string{"approve?"},
		Busy:    []string{"re:^running"},
		Neutral: []string{"[scrolling]"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateWaitingInput, s.DetectState("Approve? (y/n)", StateBusy))
	assert.Equal(t, StateBusy, s.DetectState("Running step 3", StateIdle))
	assert.Equal(t, StateWaitingInput, s.DetectState("[scrolling] running", StateWaitingInput))
	assert.Equal(t, StateIdle, s.DetectState("done", StateBusy))

	empty, err := New(StrategyCustom, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, empty.DetectState("anything", StateBusy))
}

func TestInvalidRegexSkipped(t *testing.T) {
	s := NewCustom(&Patterns{Busy: []string{"re:([unclosed", "working"}})
	assert.Equal(t, StateBusy, s.DetectState("Working hard", StateIdle))
	assert.Equal(t, StateIdle, s.DetectState("([unclosed", StateBusy))
}

func TestMergePatterns(t *testing.T) {
	defaults := &Patterns{Waiting: []string{"w"}, Busy: []string{"b"}, Neutral: []string{"n"}}
	overrides := &Patterns{Busy: []string{"b2"}, Neutral: []string{}}
	extras := &Patterns{Waiting: []string{"w2"}}

	got := MergePatterns(defaults, overrides, extras)
	assert.Equal(t, []string{"w", "w2"}, got.Waiting)
	assert.Equal(t, []string{"b2"}, got.Busy)
	assert.Empty(t, got.Neutral)

	// defaults are not mutated
	assert.Equal(t, []string{"w"}, defaults.Waiting)

	assert.Equal(t, &Patterns{}, MergePatterns(nil, nil, nil))
}

func TestDefaultPatterns(t *testing.T) {
	for _, id := range KnownStrategies() {
		p := DefaultPatterns(id)
		if id == StrategyCustom {
			assert.Nil(t, p)
			continue
		}
		require.NotNil(t, p, id)
		assert.NotEmpty(t, p.Waiting, id)
		assert.NotEmpty(t, p.Busy, id)
	}
}

func TestParseStrategyID(t *testing.T) {
	id, err := ParseStrategyID(" OpenCode ")
	require.NoError(t, err)
	assert.Equal(t, StrategyOpenCode, id)

	_, err = ParseStrategyID("vim")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParseState(t *testing.T) {
	for in, want := range map[string]State{
		"busy":          StateBusy,
		"IDLE":          StateIdle,
		"waiting":       StateWaitingInput,
		"waiting_input": StateWaitingInput,
	} {
		got, err := ParseState(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.True(t, got.Valid())
	}
	_, err := ParseState("sleeping")
	assert.Error(t, err)
	assert.False(t, State("sleeping").Valid())
}
