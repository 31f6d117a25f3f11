package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim  lipgloss.Color
	Accent, Purple, Cyan, Green, Yellow lipgloss.Color
	Orange, Red, Comment                lipgloss.Color
}

// Dark Theme - Tokyo Night
var darkColors = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Purple:  lipgloss.Color("#bb9af7"),
	Cyan:    lipgloss.Color("#7dcfff"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Orange:  lipgloss.Color("#ff9e64"),
	Red:     lipgloss.Color("#f7768e"),
	Comment: lipgloss.Color("#787fa0"),
}

// Light Theme - Tokyo Night Light variant
var lightColors = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Purple:  lipgloss.Color("#7847bd"),
	Cyan:    lipgloss.Color("#166775"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Orange:  lipgloss.Color("#965027"),
	Red:     lipgloss.Color("#8c4351"),
	Comment: lipgloss.Color("#6a6d7c"),
}

// colors is the active palette, set by InitTheme.
var colors palette

// themeMu protects the palette and styles during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active palette by theme name. Anything but "light"
// selects the dark palette.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	if theme == string(ThemeLight) {
		currentTheme = ThemeLight
		colors = lightColors
	} else {
		currentTheme = ThemeDark
		colors = darkColors
	}
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme("dark")
}

var (
	TitleStyle     lipgloss.Style
	DimStyle       lipgloss.Style
	ErrorStyle     lipgloss.Style
	HighlightStyle lipgloss.Style
	HelpKeyStyle   lipgloss.Style
	HelpDescStyle  lipgloss.Style
	FilterStyle    lipgloss.Style
	BranchStyle    lipgloss.Style
	StrategyStyle  lipgloss.Style
	BadgeStyle     lipgloss.Style
)

// stateStyles holds the indicator style per detector state. Sessions that
// are not running use stoppedStyle.
var (
	stateStyles  map[detect.State]lipgloss.Style
	stoppedStyle lipgloss.Style
)

// Status indicators
const (
	IconBusy    = "●"
	IconWaiting = "◐"
	IconIdle    = "○"
	IconStopped = "·"
)

// initStyles rebuilds every style from colors. Requires themeMu.
func initStyles() {
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(colors.Accent).
		Background(colors.Surface).
		Padding(0, 1)

	DimStyle = lipgloss.NewStyle().Foreground(colors.Comment)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(colors.Red).
		Bold(true)

	HighlightStyle = lipgloss.NewStyle().
		Foreground(colors.Bg).
		Background(colors.Accent).
		Bold(true)

	HelpKeyStyle = lipgloss.NewStyle().Foreground(colors.Accent).Bold(true)
	HelpDescStyle = lipgloss.NewStyle().Foreground(colors.TextDim)
	FilterStyle = lipgloss.NewStyle().Foreground(colors.Cyan)
	BranchStyle = lipgloss.NewStyle().Foreground(colors.Purple)
	StrategyStyle = lipgloss.NewStyle().Foreground(colors.TextDim)
	BadgeStyle = lipgloss.NewStyle().Foreground(colors.Orange)

	stateStyles = map[detect.State]lipgloss.Style{
		detect.StateBusy:         lipgloss.NewStyle().Foreground(colors.Green).Bold(true),
		detect.StateWaitingInput: lipgloss.NewStyle().Foreground(colors.Yellow).Bold(true),
		detect.StateIdle:         lipgloss.NewStyle().Foreground(colors.TextDim),
	}
	stoppedStyle = lipgloss.NewStyle().Foreground(colors.Border)
}

// stateIcon returns the styled indicator for a session state. running is
// false for worktrees without a session.
func stateIcon(state detect.State, running bool) string {
	themeMu.RLock()
	defer themeMu.RUnlock()
	if !running {
		return stoppedStyle.Render(IconStopped)
	}
	icon := IconIdle
	switch state {
	case detect.StateBusy:
		icon = IconBusy
	case detect.StateWaitingInput:
		icon = IconWaiting
	}
	return stateStyles[state].Render(icon)
}
