package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/asheshgoplani/worktree-deck/internal/config"
	"github.com/asheshgoplani/worktree-deck/internal/journal"
)

// handleConfig runs "config init" and "config path".
func handleConfig(w io.Writer, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: worktree-deck config <init|path> [-config path]")
		return 2
	}
	sub := args[0]
	fs := flag.NewFlagSet("config "+sub, flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to config.toml")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	switch sub {
	case "path":
		fmt.Fprintln(w, *configPath)
		return 0
	case "init":
		if _, err := os.Stat(*configPath); err == nil && !*force {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use -force to overwrite)\n", *configPath)
			return 1
		}
		if err := config.Save(*configPath, starterConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(w, "Wrote %s\n", *configPath)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown config command %q\n", sub)
		return 2
	}
}

// starterConfig is what "config init" writes: defaults spelled out so the
// file documents itself.
func starterConfig() *config.Config {
	cfg := config.Default()
	cfg.DefaultPreset = fallbackPreset
	cfg.Theme = "dark"
	cfg.Session.PollIntervalMS = 100
	cfg.Session.HistoryLimitMB = 10
	cfg.Session.ScreenLines = 30
	cfg.StatusHooks.TimeoutSecs = 30
	cfg.StatusHooks.RatePerSecond = 5
	cfg.StatusHooks.Burst = 10
	cfg.Container.UpTimeoutSecs = 120
	cfg.Logs.Level = "info"
	cfg.Logs.Format = "json"
	return cfg
}

type presetRow struct {
	Name      string   `json:"name"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	Detection string   `json:"detection"`
	Default   bool     `json:"default"`
}

// handlePresets lists built-in and configured presets.
func handlePresets(w io.Writer, args []string) int {
	fs := flag.NewFlagSet("presets", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to config.toml")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	def := resolvePresetName("", cfg)

	var rows []presetRow
	for _, name := range cfg.PresetNames() {
		p, err := cfg.Preset(name)
		if err != nil {
			continue
		}
		rows = append(rows, presetRow{
			Name:      name,
			Command:   p.Command,
			Args:      p.Args,
			Detection: p.Detection,
			Default:   name == def,
		})
	}

	if *jsonOut {
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCOMMAND\tDETECTION")
	for _, r := range rows {
		name := r.Name
		if r.Default {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, strings.TrimSpace(r.Command+" "+strings.Join(r.Args, " ")), r.Detection)
	}
	tw.Flush()
	return 0
}

// handleJournal prints recent journal entries, newest first.
func handleJournal(w io.Writer, args []string) int {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to config.toml")
	limit := fs.Int("n", 20, "Number of entries")
	worktree := fs.String("worktree", "", "Only entries for this worktree path")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	path := cfg.JournalPath()
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: the journal is disabled; set [journal] enabled = true")
		return 1
	}

	j, err := openJournal(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer j.Close()

	var entries []journal.Entry
	if *worktree != "" {
		entries, err = j.ForWorktree(*worktree, *limit)
	} else {
		entries, err = j.Recent(*limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return writeJSON(w, entries)
	}
	writeEntries(w, entries)
	return 0
}

func writeEntries(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tWORKTREE\tEVENT\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.WorktreePath, e.Kind, entryDetail(e))
	}
	tw.Flush()
}

// entryDetail summarizes an entry in one column: the transition for state
// changes, else the raw detail.
func entryDetail(e journal.Entry) string {
	if e.OldState != "" || e.NewState != "" {
		return e.OldState + " -> " + e.NewState
	}
	switch string(e.Detail) {
	case "", "null", "{}":
		return ""
	}
	return string(e.Detail)
}

func writeJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
