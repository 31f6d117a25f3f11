package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/worktree-deck/internal/config"
	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/journal"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestColorProfile(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want termenv.Profile
	}{
		{"override none", map[string]string{"WTDECK_COLOR": "none", "COLORTERM": "truecolor"}, termenv.Ascii},
		{"override 16", map[string]string{"WTDECK_COLOR": "ANSI"}, termenv.ANSI},
		{"colorterm", map[string]string{"COLORTERM": "24bit"}, termenv.TrueColor},
		{"kitty", map[string]string{"TERM": "xterm-kitty"}, termenv.TrueColor},
		{"iterm", map[string]string{"TERM": "xterm", "ITERM_SESSION_ID": "w0t0p0"}, termenv.TrueColor},
		{"unknown", map[string]string{"TERM": "vt100"}, termenv.ANSI256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, colorProfile(envFrom(tt.env)))
		})
	}
}

func TestResolvePresetName(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "claude", resolvePresetName("", cfg))

	cfg.DefaultPreset = "gemini"
	assert.Equal(t, "gemini", resolvePresetName("", cfg))
	assert.Equal(t, "codex", resolvePresetName("codex", cfg))
}

func TestLaunchSpec(t *testing.T) {
	cfg := config.Default()
	cfg.Presets["aider"] = config.Preset{Command: "aider", Args: []string{"--no-pretty"}}
	cfg.Presets["broken"] = config.Preset{Command: "x", Detection: "nope"}

	ls, err := launchSpec(cfg, "claude")
	require.NoError(t, err)
	assert.Equal(t, detect.StrategyClaude, ls.strategy)
	assert.Equal(t, "claude", ls.spec.Command)

	ls, err = launchSpec(cfg, "aider")
	require.NoError(t, err)
	assert.Equal(t, detect.StrategyCustom, ls.strategy)
	assert.Equal(t, []string{"--no-pretty"}, ls.spec.Args)

	_, err = launchSpec(cfg, "missing")
	assert.ErrorIs(t, err, config.ErrUnknownPreset)

	_, err = launchSpec(cfg, "broken")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck", "config.toml")
	var out bytes.Buffer

	require.Equal(t, 0, handleConfig(&out, []string{"init", "-config", path}))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.DefaultPreset)
	assert.Equal(t, 100, cfg.Session.PollIntervalMS)

	assert.Equal(t, 1, handleConfig(&out, []string{"init", "-config", path}), "existing file is kept")
	assert.Equal(t, 0, handleConfig(&out, []string{"init", "-config", path, "-force"}))

	out.Reset()
	require.Equal(t, 0, handleConfig(&out, []string{"path", "-config", path}))
	assert.Equal(t, path+"\n", out.String())

	assert.Equal(t, 2, handleConfig(&out, nil))
	assert.Equal(t, 2, handleConfig(&out, []string{"bogus"}))
}

func TestPresetsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_preset = "work"

[presets.work]
command = "claude"
args = ["--model", "opus"]
`), 0o600))

	var out bytes.Buffer
	require.Equal(t, 0, handlePresets(&out, []string{"-config", path, "-json"}))

	var rows []presetRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	byName := make(map[string]presetRow)
	for _, r := range rows {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "work")
	assert.True(t, byName["work"].Default)
	assert.Equal(t, "claude", byName["work"].Detection)
	assert.Equal(t, "cursor-agent", byName["cursor"].Command)
	assert.False(t, byName["claude"].Default)

	out.Reset()
	require.Equal(t, 0, handlePresets(&out, []string{"-config", path}))
	assert.Contains(t, out.String(), "work *")
	assert.Contains(t, out.String(), "claude --model opus")
}

func TestJournalCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[journal]\nenabled = true\npath = \""+filepath.ToSlash(dbPath)+"\"\n"), 0o600))

	j, err := openJournal(dbPath)
	require.NoError(t, err)
	a := events.SessionRef{ID: "a", WorktreePath: "/repo/a"}
	b := events.SessionRef{ID: "b", WorktreePath: "/repo/b"}
	for _, e := range []events.Event{
		events.NewSessionCreated(a, "claude", nil, detect.StrategyClaude),
		events.NewSessionStateChanged(a, detect.StateBusy, detect.StateWaitingInput),
		events.NewSessionCreated(b, "gemini", nil, detect.StrategyGemini),
	} {
		_, err := j.Record(e)
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	var out bytes.Buffer
	require.Equal(t, 0, handleJournal(&out, []string{"-config", cfgPath}))
	assert.Contains(t, out.String(), "busy -> waiting_input")
	assert.Contains(t, out.String(), "/repo/b")

	out.Reset()
	require.Equal(t, 0, handleJournal(&out, []string{"-config", cfgPath, "-worktree", "/repo/a", "-json"}))
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, events.KindSessionStateChanged, entries[0].Kind)
}

func TestJournalCommandDisabled(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	var out bytes.Buffer
	assert.Equal(t, 1, handleJournal(&out, []string{"-config", cfgPath}))
}

func TestEntryDetail(t *testing.T) {
	assert.Equal(t, "idle -> busy", entryDetail(journal.Entry{OldState: "idle", NewState: "busy"}))
	assert.Equal(t, `{"code":1}`, entryDetail(journal.Entry{Detail: json.RawMessage(`{"code":1}`)}))
	assert.Empty(t, entryDetail(journal.Entry{Detail: json.RawMessage("null")}))
}
