package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/asheshgoplani/worktree-deck/internal/container"
	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/history"
	"github.com/asheshgoplani/worktree-deck/internal/hooks"
	"github.com/asheshgoplani/worktree-deck/internal/logging"
	"github.com/asheshgoplani/worktree-deck/internal/session"
)

// FileName is the TOML config file inside Dir.
const FileName = "config.toml"

// DirName is the per-user state directory under $HOME.
const DirName = ".worktree-deck"

// ErrUnknownPreset is returned by Config.Preset for names with no preset.
var ErrUnknownPreset = errors.New("unknown preset")

// Config is the user-facing configuration in TOML format.
type Config struct {
	// DefaultPreset is used when no preset is named. Default: "claude"
	DefaultPreset string `toml:"default_preset"`

	// Theme sets the board colors: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// Presets are named launch recipes; they extend and override the
	// built-in ones.
	Presets map[string]Preset `toml:"presets"`

	// Detection holds per-strategy pattern overrides keyed by strategy id.
	Detection map[string]DetectionSettings `toml:"detection"`

	StatusHooks StatusHookSettings `toml:"status_hooks"`
	Session     SessionSettings    `toml:"session"`
	Container   ContainerSettings  `toml:"container"`
	Logs        LogSettings        `toml:"logs"`
	Journal     JournalSettings    `toml:"journal"`
}

// Preset describes how to launch one assistant CLI.
type Preset struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`

	// FallbackArgs are used for the single retry after a fallback exit code
	FallbackArgs []string `toml:"fallback_args"`

	// FallbackExitCodes trigger the retry. Default: [1]
	FallbackExitCodes []int `toml:"fallback_exit_codes"`

	// Detection is the strategy id. Defaults to the strategy matching the
	// preset name or command, otherwise "custom".
	Detection string `toml:"detection"`

	Env map[string]string `toml:"env"`

	// NoContainer runs this preset on the host even when [container] is set
	NoContainer bool `toml:"no_container"`
}

// DetectionSettings overrides the built-in patterns of a strategy. The plain
// lists replace the defaults; the *_extra lists are appended.
// Patterns prefixed with "re:" are compiled as regex.
type DetectionSettings struct {
	WaitingPatterns []string `toml:"waiting_patterns"`
	BusyPatterns    []string `toml:"busy_patterns"`
	NeutralPatterns []string `toml:"neutral_patterns"`

	WaitingPatternsExtra []string `toml:"waiting_patterns_extra"`
	BusyPatternsExtra    []string `toml:"busy_patterns_extra"`
	NeutralPatternsExtra []string `toml:"neutral_patterns_extra"`
}

// StatusHookSettings maps a new state to a shell command.
type StatusHookSettings struct {
	Busy         string `toml:"busy"`
	Idle         string `toml:"idle"`
	WaitingInput string `toml:"waiting_input"`

	// TimeoutSecs bounds each hook run. Default: 30
	TimeoutSecs int `toml:"timeout_secs"`

	// RatePerSecond and Burst throttle hook launches. Default: 5 and 10
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// SessionSettings tunes the session manager.
type SessionSettings struct {
	// PollIntervalMS is the state detection period. Default: 100
	PollIntervalMS int `toml:"poll_interval_ms"`

	// HistoryLimitMB is the per-mode output history budget. Default: 10
	HistoryLimitMB int `toml:"history_limit_mb"`

	// ScreenLines is how many rendered lines detection looks at. Default: 30
	ScreenLines int `toml:"screen_lines"`

	// CompanionShell starts the secondary shell with every session
	CompanionShell bool `toml:"companion_shell"`

	// Shell is the companion shell. Default: $SHELL, then /bin/sh
	Shell string `toml:"shell"`
}

// ContainerSettings nests sessions inside a dev container.
type ContainerSettings struct {
	UpCommand   string `toml:"up_command"`
	ExecCommand string `toml:"exec_command"`

	// UpTimeoutSecs bounds the up command. Default: 120
	UpTimeoutSecs int `toml:"up_timeout_secs"`
}

// LogSettings defines debug log configuration.
type LogSettings struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	MaxSizeMB  int `toml:"max_size_mb"`
	MaxBackups int `toml:"max_backups"`
	MaxAgeDays int `toml:"max_age_days"`

	// Compress rotated logs. Default: true
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory crash dump buffer. Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`
}

// JournalSettings controls the SQLite transition journal.
type JournalSettings struct {
	Enabled bool `toml:"enabled"`

	// Path defaults to ~/.worktree-deck/journal.db
	Path string `toml:"path"`
}

var builtinPresets = map[string]Preset{
	"claude": {
		Command:      "claude",
		Args:         []string{"--continue"},
		FallbackArgs: []string{},
	},
	"gemini":   {Command: "gemini"},
	"codex":    {Command: "codex"},
	"cursor":   {Command: "cursor-agent"},
	"opencode": {Command: "opencode"},
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Presets:   make(map[string]Preset),
		Detection: make(map[string]DetectionSettings),
	}
}

// Dir returns ~/.worktree-deck.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), DirName)
	}
	return filepath.Join(home, DirName)
}

// DefaultPath returns the path of the user config file.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// Load reads the config at path. A missing file yields Default; a file that
// fails to parse yields Default together with the error so the caller can
// report it and carry on.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), fmt.Errorf("%s parse error: %w", filepath.Base(path), err)
	}

	if cfg.Presets == nil {
		cfg.Presets = make(map[string]Preset)
	}
	if cfg.Detection == nil {
		cfg.Detection = make(map[string]DetectionSettings)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically: temp file, fsync, rename.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# worktree-deck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}
	return nil
}

// PresetNames returns every preset name, built-in and configured, sorted.
func (c *Config) PresetNames() []string {
	seen := make(map[string]bool)
	for name := range builtinPresets {
		seen[name] = true
	}
	for name := range c.Presets {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset resolves name, or the default preset when name is empty. Fields set
// in the config file override the built-in preset of the same name.
func (c *Config) Preset(name string) (Preset, error) {
	if name == "" {
		name = c.DefaultPreset
	}
	if name == "" {
		name = "claude"
	}

	p, builtin := builtinPresets[name]
	user, configured := c.Presets[name]
	if !builtin && !configured {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	if configured {
		if user.Command != "" {
			p.Command = user.Command
		}
		if user.Args != nil {
			p.Args = user.Args
		}
		if user.FallbackArgs != nil {
			p.FallbackArgs = user.FallbackArgs
		}
		if user.FallbackExitCodes != nil {
			p.FallbackExitCodes = user.FallbackExitCodes
		}
		if user.Detection != "" {
			p.Detection = user.Detection
		}
		if user.Env != nil {
			p.Env = user.Env
		}
		p.NoContainer = user.NoContainer
	}
	if p.Detection == "" {
		p.Detection = guessDetection(name, p.Command)
	}
	return p, nil
}

// guessDetection picks the strategy from the preset name, then the command's
// base name; "cursor-agent" and friends match by prefix.
func guessDetection(name, command string) string {
	for _, candidate := range []string{name, filepath.Base(command)} {
		for _, id := range detect.KnownStrategies() {
			if id != detect.StrategyCustom && strings.HasPrefix(candidate, string(id)) {
				return string(id)
			}
		}
	}
	return string(detect.StrategyCustom)
}

// StrategyID parses the preset's detection strategy.
func (p Preset) StrategyID() (detect.StrategyID, error) {
	return detect.ParseStrategyID(p.Detection)
}

// CommandSpec turns a preset into a session launch description, applying the
// session and container settings.
func (c *Config) CommandSpec(p Preset) session.CommandSpec {
	spec := session.CommandSpec{
		Command:           p.Command,
		Args:              p.Args,
		FallbackArgs:      p.FallbackArgs,
		FallbackExitCodes: p.FallbackExitCodes,
		Env:               p.Env,
		Shell:             c.Session.Shell,
		Companion:         c.Session.CompanionShell,
	}
	if !p.NoContainer {
		spec.Container = c.ContainerSpec()
	}
	return spec
}

// Patterns returns the merged detection patterns for id, or nil when the
// config does not touch that strategy.
func (c *Config) Patterns(id detect.StrategyID) *detect.Patterns {
	d, ok := c.Detection[string(id)]
	if !ok {
		return nil
	}

	var overrides *detect.Patterns
	if d.WaitingPatterns != nil || d.BusyPatterns != nil || d.NeutralPatterns != nil {
		overrides = &detect.Patterns{
			Waiting: d.WaitingPatterns,
			Busy:    d.BusyPatterns,
			Neutral: d.NeutralPatterns,
		}
	}
	var extras *detect.Patterns
	if len(d.WaitingPatternsExtra) > 0 || len(d.BusyPatternsExtra) > 0 || len(d.NeutralPatternsExtra) > 0 {
		extras = &detect.Patterns{
			Waiting: d.WaitingPatternsExtra,
			Busy:    d.BusyPatternsExtra,
			Neutral: d.NeutralPatternsExtra,
		}
	}
	return detect.MergePatterns(detect.DefaultPatterns(id), overrides, extras)
}

// HookCommands returns the non-empty status hook commands by state.
func (c *Config) HookCommands() map[detect.State]string {
	out := make(map[detect.State]string)
	for state, cmd := range map[detect.State]string{
		detect.StateBusy:         c.StatusHooks.Busy,
		detect.StateIdle:         c.StatusHooks.Idle,
		detect.StateWaitingInput: c.StatusHooks.WaitingInput,
	} {
		if cmd != "" {
			out[state] = cmd
		}
	}
	return out
}

// HookOptions returns runner options with defaults applied.
func (c *Config) HookOptions() hooks.Options {
	opts := hooks.Options{
		Commands:      c.HookCommands(),
		Timeout:       hooks.DefaultTimeout,
		RatePerSecond: hooks.DefaultRate,
		Burst:         hooks.DefaultBurst,
	}
	if c.StatusHooks.TimeoutSecs > 0 {
		opts.Timeout = time.Duration(c.StatusHooks.TimeoutSecs) * time.Second
	}
	if c.StatusHooks.RatePerSecond > 0 {
		opts.RatePerSecond = c.StatusHooks.RatePerSecond
	}
	if c.StatusHooks.Burst > 0 {
		opts.Burst = c.StatusHooks.Burst
	}
	return opts
}

// PollInterval returns the detection period with defaults applied.
func (c *Config) PollInterval() time.Duration {
	if c.Session.PollIntervalMS <= 0 {
		return session.DefaultPollInterval
	}
	return time.Duration(c.Session.PollIntervalMS) * time.Millisecond
}

// HistoryLimit returns the history budget in bytes.
func (c *Config) HistoryLimit() int {
	if c.Session.HistoryLimitMB <= 0 {
		return history.DefaultLimit
	}
	return c.Session.HistoryLimitMB * 1024 * 1024
}

func (c *Config) ScreenLines() int {
	if c.Session.ScreenLines <= 0 {
		return session.DefaultScreenLines
	}
	return c.Session.ScreenLines
}

// ContainerSpec returns nil unless an exec command is configured.
func (c *Config) ContainerSpec() *container.Spec {
	if c.Container.ExecCommand == "" {
		return nil
	}
	spec := &container.Spec{
		UpCommand:   c.Container.UpCommand,
		ExecCommand: c.Container.ExecCommand,
		UpTimeout:   container.DefaultUpTimeout,
	}
	if c.Container.UpTimeoutSecs > 0 {
		spec.UpTimeout = time.Duration(c.Container.UpTimeoutSecs) * time.Second
	}
	return spec
}

// LoggingConfig maps [logs] onto logging.Config rooted at dir.
func (c *Config) LoggingConfig(dir string, debug bool) logging.Config {
	s := c.Logs
	cfg := logging.Config{
		LogDir:                dir,
		Level:                 s.Level,
		Format:                s.Format,
		MaxSizeMB:             s.MaxSizeMB,
		MaxBackups:            s.MaxBackups,
		MaxAgeDays:            s.MaxAgeDays,
		Compress:              true,
		AggregateIntervalSecs: s.AggregateIntervalSecs,
		Debug:                 debug,
	}
	if s.Compress != nil {
		cfg.Compress = *s.Compress
	}
	if s.RingBufferMB > 0 {
		cfg.RingBufferSize = s.RingBufferMB * 1024 * 1024
	}
	if debug && cfg.Level == "" {
		cfg.Level = "debug"
	}
	return cfg
}

// JournalPath returns the journal database path, or "" when disabled.
func (c *Config) JournalPath() string {
	if !c.Journal.Enabled {
		return ""
	}
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(Dir(), "journal.db")
}

// GetTheme returns the configured theme, defaulting to "dark".
func (c *Config) GetTheme() string {
	switch c.Theme {
	case "dark", "light", "system":
		return c.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves the theme to "dark" or "light". "system" asks the OS
// and falls back to "dark" when detection fails.
func (c *Config) ResolveTheme() string {
	theme := c.GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil || isDark {
		return "dark"
	}
	return "light"
}
