package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/worktree-deck/internal/config"
	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/git"
	"github.com/asheshgoplani/worktree-deck/internal/hooks"
	"github.com/asheshgoplani/worktree-deck/internal/journal"
	"github.com/asheshgoplani/worktree-deck/internal/logging"
	"github.com/asheshgoplani/worktree-deck/internal/session"
	"github.com/asheshgoplani/worktree-deck/internal/ui"
)

const Version = "0.1.0"

const (
	shutdownTimeout  = 5 * time.Second
	branchCacheTTL   = 5 * time.Second
	journalRetention = 30 * 24 * time.Hour
	fallbackPreset   = "claude"
)

// init sets up color profile for consistent terminal colors across environments
func init() {
	lipgloss.SetColorProfile(colorProfile(os.Getenv))
}

// colorProfile picks the lipgloss color profile. WTDECK_COLOR overrides
// detection; otherwise TrueColor is preferred and ANSI256 is the fallback.
func colorProfile(getenv func(string) string) termenv.Profile {
	// WTDECK_COLOR: truecolor, 256, 16, none
	switch strings.ToLower(getenv("WTDECK_COLOR")) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor
	case "256", "ansi256":
		return termenv.ANSI256
	case "16", "ansi", "basic":
		return termenv.ANSI
	case "none", "off", "ascii":
		return termenv.Ascii
	}

	if ct := getenv("COLORTERM"); ct == "truecolor" || ct == "24bit" {
		return termenv.TrueColor
	}

	term := getenv("TERM")
	for _, t := range []string{"xterm-256color", "screen-256color", "tmux-256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(term, t) {
			return termenv.TrueColor
		}
	}

	// Windows Terminal, iTerm2, JetBrains, Konsole
	for _, v := range []string{"WT_SESSION", "ITERM_SESSION_ID", "TERMINAL_EMULATOR", "KONSOLE_VERSION"} {
		if getenv(v) != "" {
			return termenv.TrueColor
		}
	}
	return termenv.ANSI256
}

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("worktree-deck v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "config":
			os.Exit(handleConfig(os.Stdout, args[1:]))
		case "presets":
			os.Exit(handlePresets(os.Stdout, args[1:]))
		case "journal":
			os.Exit(handleJournal(os.Stdout, args[1:]))
		}
	}

	if err := runBoard(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBoard(args []string) error {
	fs := flag.NewFlagSet("worktree-deck", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to config.toml")
	presetFlag := fs.String("preset", "", "Assistant preset for new sessions (default: [default_preset] or claude)")
	repoDir := fs.String("repo", ".", "Repository whose worktrees are listed")
	debug := fs.Bool("debug", os.Getenv("WTDECK_DEBUG") != "", "Write debug logs next to the config file")
	fs.Usage = printHelp
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgErr := config.Load(*configPath)

	// Logs are discarded unless debug is on so they never reach the TUI.
	logDir := ""
	if *debug {
		logDir = filepath.Dir(*configPath)
	}
	logging.Init(cfg.LoggingConfig(logDir, *debug))
	defer logging.Shutdown()
	mainLog := logging.ForComponent(logging.CompUI)

	if cfgErr != nil {
		mainLog.Warn("config_load_failed", slog.String("path", *configPath), slog.String("error", cfgErr.Error()))
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	root, err := git.RepoRoot(*repoDir)
	if err != nil {
		return fmt.Errorf("%s is not inside a git repository", *repoDir)
	}

	presetName := resolvePresetName(*presetFlag, cfg)
	if _, err := launchSpec(cfg, presetName); err != nil {
		return err
	}

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	hookRunner := hooks.NewRunner(cfg.HookOptions())
	defer hookRunner.Close()
	branches := git.NewResolver(branchCacheTTL)

	mgr := session.NewManager(session.Options{
		PollInterval: cfg.PollInterval(),
		HistoryLimit: cfg.HistoryLimit(),
		ScreenLines:  cfg.ScreenLines(),
		Shell:        cfg.Session.Shell,
		Hooks:        hookRunner,
		Branches:     branches,
		Patterns: func(id detect.StrategyID) *detect.Patterns {
			return current.Load().Patterns(id)
		},
	})

	if path := cfg.JournalPath(); path != "" {
		j, err := openJournal(path)
		if err != nil {
			mainLog.Warn("journal_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			defer j.Close()
			if n, err := j.Prune(time.Now().Add(-journalRetention)); err == nil && n > 0 {
				mainLog.Info("journal_pruned", slog.Int64("entries", n))
			}
			if sub, err := j.Attach(mgr.Bus()); err == nil {
				defer sub.Close()
			}
		}
	}

	watcher, err := config.NewWatcher(*configPath, func(c *config.Config) {
		current.Store(c)
		hookRunner.SetCommands(c.HookCommands())
	})
	if err != nil {
		mainLog.Warn("config_watch_failed", slog.String("error", err.Error()))
	} else {
		go watcher.Start()
		defer watcher.Stop()
	}
	if warn := config.WatchWarning(*configPath); warn != "" {
		mainLog.Warn("config_watch_unreliable", slog.String("path", *configPath), slog.String("reason", warn))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ui.InitTheme(cfg.ResolveTheme())
	var themes *ui.ThemeWatcher
	if cfg.GetTheme() == "system" {
		if themes = ui.NewThemeWatcher(ctx); themes != nil {
			defer themes.Close()
		}
	}

	launch := func(ctx context.Context, path string) (*session.Session, error) {
		c := current.Load()
		ls, err := launchSpec(c, presetName)
		if err != nil {
			return nil, err
		}
		return mgr.GetOrCreate(ctx, path, ls.spec, ls.strategy)
	}

	board, err := ui.NewBoard(ui.Options{
		Manager: mgr,
		Launch:  launch,
		Worktrees: func() ([]git.Worktree, error) {
			return git.ListWorktrees(root)
		},
		Branches: branches,
		Themes:   themes,
	})
	if err != nil {
		return err
	}
	defer board.Close()

	p := tea.NewProgram(board, tea.WithAltScreen())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			p.Quit()
		case <-ctx.Done():
		}
	}()
	watchDumpSignal(ctx, logDir)

	mainLog.Info("instance_started",
		slog.Int("pid", os.Getpid()),
		slog.String("repo", root),
		slog.String("preset", presetName))

	_, runErr := p.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		mainLog.Warn("shutdown_incomplete", slog.String("error", err.Error()))
	}
	return runErr
}

// resolvePresetName applies the flag, then [default_preset], then claude.
func resolvePresetName(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.DefaultPreset != "" {
		return cfg.DefaultPreset
	}
	return fallbackPreset
}

type resolvedLaunch struct {
	spec     session.CommandSpec
	strategy detect.StrategyID
}

// launchSpec resolves a preset into what GetOrCreate needs.
func launchSpec(cfg *config.Config, presetName string) (resolvedLaunch, error) {
	p, err := cfg.Preset(presetName)
	if err != nil {
		return resolvedLaunch{}, err
	}
	id, err := p.StrategyID()
	if err != nil {
		return resolvedLaunch{}, fmt.Errorf("preset %q: %w", presetName, err)
	}
	if p.Command == "" {
		return resolvedLaunch{}, fmt.Errorf("preset %q: command is empty", presetName)
	}
	return resolvedLaunch{spec: cfg.CommandSpec(p), strategy: id}, nil
}

func openJournal(path string) (*journal.Journal, error) {
	j, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	if err := j.Migrate(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func printHelp() {
	fmt.Printf("worktree-deck v%s\n", Version)
	fmt.Println("Assistant CLI sessions, one per git worktree")
	fmt.Println()
	fmt.Println("Usage: worktree-deck [flags] [command]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <path>   Config file (default: ~/.worktree-deck/config.toml)")
	fmt.Println("  -preset <name>   Assistant preset for new sessions")
	fmt.Println("  -repo <dir>      Repository whose worktrees are listed (default: .)")
	fmt.Println("  -debug           Write debug logs to ~/.worktree-deck/debug.log")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)           Start the board")
	fmt.Println("  config init      Write a default config file")
	fmt.Println("  config path      Print the config file path")
	fmt.Println("  presets          List assistant presets")
	fmt.Println("  journal          Show recent session events")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  WTDECK_DEBUG     Same as -debug")
	fmt.Println("  WTDECK_COLOR     Color mode: truecolor, 256, 16, none")
	fmt.Println()
	fmt.Println("Keyboard shortcuts (board):")
	fmt.Println("  Enter      Attach (starts the session if needed)")
	fmt.Println("  n          Start session")
	fmt.Println("  x          Stop session")
	fmt.Println("  /          Filter")
	fmt.Println("  r          Reload worktrees")
	fmt.Println("  q          Quit")
	fmt.Println()
	fmt.Println("Keyboard shortcuts (attached):")
	fmt.Println("  Ctrl+Q     Detach")
	fmt.Println("  Ctrl+]     Switch between assistant and shell")
}
