// Package ui is a small bubbletea status board over the session manager:
// one row per worktree with its detected state, plus attach, start and stop.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/git"
	"github.com/asheshgoplani/worktree-deck/internal/session"
)

const tickInterval = time.Second

// Options configures a Board.
type Options struct {
	Manager *session.Manager

	// Launch starts a session for a worktree with the configured preset.
	Launch func(ctx context.Context, path string) (*session.Session, error)

	// Worktrees lists candidate worktrees; nil shows running sessions only.
	Worktrees func() ([]git.Worktree, error)

	// Branches labels sessions that are not in the worktree list.
	Branches session.BranchResolver

	// Themes follows the OS appearance when the theme is "system".
	Themes *ThemeWatcher

	Now func() time.Time
}

// row is one worktree, with or without a live session.
type row struct {
	path   string
	branch string
	info   *session.Info
}

func (r row) running() bool { return r.info != nil }

// Board is the root tea.Model.
type Board struct {
	opts Options
	mgr  *session.Manager
	sub  *events.Subscription

	worktrees []git.Worktree
	rows      []row
	visible   []int // indices into rows after filtering
	cursor    int

	filter    textinput.Model
	filtering bool

	width, height int
	status        string
	statusIsError bool
}

type (
	tickMsg      time.Time
	busMsg       struct{ event events.Event }
	busClosedMsg struct{}
	worktreesMsg struct {
		list []git.Worktree
		err  error
	}
	launchedMsg struct {
		path   string
		attach bool
		err    error
	}
	attachDoneMsg struct {
		path string
		err  error
	}
	themeMsg struct{ dark bool }
)

// NewBoard creates the board and subscribes it to the manager's bus.
func NewBoard(opts Options) (*Board, error) {
	if opts.Manager == nil {
		return nil, errors.New("ui: manager is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	sub, err := opts.Manager.Bus().Subscribe()
	if err != nil {
		return nil, err
	}

	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "filter worktrees"
	ti.CharLimit = 100

	b := &Board{
		opts:   opts,
		mgr:    opts.Manager,
		sub:    sub,
		filter: ti,
	}
	b.refresh()
	return b, nil
}

// Close releases the bus subscription.
func (b *Board) Close() {
	b.sub.Close()
}

func (b *Board) Init() tea.Cmd {
	cmds := []tea.Cmd{b.tick(), b.waitForEvent()}
	if b.opts.Worktrees != nil {
		cmds = append(cmds, b.loadWorktrees)
	}
	if b.opts.Themes != nil {
		cmds = append(cmds, b.waitForTheme())
	}
	return tea.Batch(cmds...)
}

func (b *Board) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent delivers the next lifecycle event. Output events are skipped
// here so a busy session cannot flood the board.
func (b *Board) waitForEvent() tea.Cmd {
	sub := b.sub
	return func() tea.Msg {
		for e := range sub.C() {
			switch e.(type) {
			case events.SessionData, events.SessionRestore:
				continue
			}
			return busMsg{event: e}
		}
		return busClosedMsg{}
	}
}

func (b *Board) waitForTheme() tea.Cmd {
	tw := b.opts.Themes
	return func() tea.Msg {
		isDark, ok := <-tw.Changes()
		if !ok {
			return nil
		}
		return themeMsg{dark: isDark}
	}
}

func (b *Board) loadWorktrees() tea.Msg {
	list, err := b.opts.Worktrees()
	return worktreesMsg{list: list, err: err}
}

func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
		b.filter.Width = max(10, msg.Width-4)
		b.mgr.ResizeAll(msg.Width, msg.Height)
		return b, nil

	case tickMsg:
		b.refresh()
		return b, b.tick()

	case busMsg:
		b.handleEvent(msg.event)
		b.refresh()
		return b, b.waitForEvent()

	case busClosedMsg:
		return b, nil

	case worktreesMsg:
		if msg.err != nil {
			b.setError(fmt.Errorf("list worktrees: %w", msg.err))
		} else {
			b.worktrees = msg.list
		}
		b.refresh()
		return b, nil

	case launchedMsg:
		if msg.err != nil {
			b.setError(msg.err)
			return b, nil
		}
		b.refresh()
		if msg.attach {
			return b, b.attach(msg.path)
		}
		b.setStatus("started " + msg.path)
		return b, nil

	case attachDoneMsg:
		if msg.err != nil {
			b.setError(msg.err)
		} else {
			b.status = ""
		}
		b.refresh()
		return b, tea.ClearScreen

	case themeMsg:
		if msg.dark {
			InitTheme(string(ThemeDark))
		} else {
			InitTheme(string(ThemeLight))
		}
		return b, b.waitForTheme()

	case tea.KeyMsg:
		if b.filtering {
			return b.updateFilter(msg)
		}
		return b.handleKey(msg)
	}
	return b, nil
}

func (b *Board) handleEvent(e events.Event) {
	switch ev := e.(type) {
	case events.SessionProcessReplaced:
		b.setStatus(fmt.Sprintf("%s: restarted with fallback arguments", e.Ref().WorktreePath))
	case events.SessionExit:
		switch ev.Status.Reason {
		case events.ExitProcessExited, events.ExitFallbackFailed:
			b.setError(fmt.Errorf("%s: session ended (%s, code %d)", e.Ref().WorktreePath, ev.Status.Reason, ev.Status.Code))
		}
	case events.SessionStateChanged:
		if ev.New == detect.StateWaitingInput {
			uiLog.Debug("waiting_input", slog.String("worktree", e.Ref().WorktreePath))
		}
	}
}

func (b *Board) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return b, tea.Quit

	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
		}

	case "down", "j":
		if b.cursor < len(b.visible)-1 {
			b.cursor++
		}

	case "/":
		b.filtering = true
		return b, b.filter.Focus()

	case "esc":
		if b.filter.Value() != "" {
			b.filter.SetValue("")
			b.applyFilter()
		}

	case "enter":
		r, ok := b.selected()
		if !ok {
			return b, nil
		}
		if r.running() {
			return b, b.attach(r.path)
		}
		return b, b.launch(r.path, true)

	case "n":
		r, ok := b.selected()
		if !ok || r.running() {
			return b, nil
		}
		return b, b.launch(r.path, false)

	case "x", "d":
		r, ok := b.selected()
		if !ok || !r.running() {
			return b, nil
		}
		if err := b.mgr.Terminate(r.path); err != nil {
			b.setError(err)
		} else {
			b.setStatus("stopped " + r.path)
		}
		b.refresh()

	case "r":
		if b.opts.Worktrees != nil {
			return b, b.loadWorktrees
		}
	}
	return b, nil
}

func (b *Board) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		b.filtering = false
		b.filter.Blur()
		b.filter.SetValue("")
		b.applyFilter()
		return b, nil
	case "enter":
		b.filtering = false
		b.filter.Blur()
		return b, nil
	}
	var cmd tea.Cmd
	b.filter, cmd = b.filter.Update(msg)
	b.applyFilter()
	return b, cmd
}

func (b *Board) launch(path string, attach bool) tea.Cmd {
	if b.opts.Launch == nil {
		return nil
	}
	b.setStatus("starting " + path + "...")
	launch := b.opts.Launch
	return func() tea.Msg {
		_, err := launch(context.Background(), path)
		return launchedMsg{path: path, attach: attach, err: err}
	}
}

func (b *Board) attach(path string) tea.Cmd {
	return tea.Exec(newAttachCmd(b.mgr, path), func(err error) tea.Msg {
		return attachDoneMsg{path: path, err: err}
	})
}

// refresh rebuilds rows from the worktree list and the live sessions,
// keeping the cursor on the same path when it is still shown.
func (b *Board) refresh() {
	var selectedPath string
	if r, ok := b.selected(); ok {
		selectedPath = r.path
	}

	infos := make(map[string]session.Info)
	var order []string
	for _, s := range b.mgr.GetAllSessions() {
		info := s.Info()
		infos[info.WorktreePath] = info
		order = append(order, info.WorktreePath)
	}

	rows := make([]row, 0, len(b.worktrees)+len(order))
	seen := make(map[string]bool)
	for _, wt := range b.worktrees {
		if wt.Bare || seen[wt.Path] {
			continue
		}
		seen[wt.Path] = true
		r := row{path: wt.Path, branch: wt.Branch}
		if info, ok := infos[wt.Path]; ok {
			r.info = &info
		}
		rows = append(rows, r)
	}
	for _, path := range order {
		if seen[path] {
			continue
		}
		info := infos[path]
		r := row{path: path, info: &info}
		if b.opts.Branches != nil {
			r.branch, _ = b.opts.Branches.CurrentBranch(path)
		}
		rows = append(rows, r)
	}
	b.rows = rows
	b.applyFilter()

	if selectedPath != "" {
		for i, idx := range b.visible {
			if b.rows[idx].path == selectedPath {
				b.cursor = i
				break
			}
		}
	}
}

// applyFilter fuzzy-matches the filter text against branch and path.
func (b *Board) applyFilter() {
	query := strings.TrimSpace(b.filter.Value())
	b.visible = b.visible[:0]
	if query == "" {
		for i := range b.rows {
			b.visible = append(b.visible, i)
		}
	} else {
		targets := make([]string, len(b.rows))
		for i, r := range b.rows {
			targets[i] = r.branch + " " + r.path
		}
		for _, m := range fuzzy.Find(query, targets) {
			b.visible = append(b.visible, m.Index)
		}
	}
	if b.cursor >= len(b.visible) {
		b.cursor = max(0, len(b.visible)-1)
	}
}

func (b *Board) selected() (row, bool) {
	if b.cursor < 0 || b.cursor >= len(b.visible) {
		return row{}, false
	}
	return b.rows[b.visible[b.cursor]], true
}

func (b *Board) setStatus(s string) {
	b.status, b.statusIsError = s, false
}

func (b *Board) setError(err error) {
	b.status, b.statusIsError = err.Error(), true
	uiLog.Warn("board_error", slog.String("error", err.Error()))
}

func (b *Board) View() string {
	width := b.width
	if width <= 0 {
		width = 100
	}

	var sb strings.Builder
	sb.WriteString(b.renderHeader())
	sb.WriteString("\n\n")

	if len(b.visible) == 0 {
		if len(b.rows) == 0 {
			sb.WriteString(DimStyle.Render("  no worktrees or sessions"))
		} else {
			sb.WriteString(DimStyle.Render("  no matches"))
		}
		sb.WriteString("\n")
	}
	for i, idx := range b.visible {
		sb.WriteString(b.renderRow(b.rows[idx], i == b.cursor, width))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if b.filtering || b.filter.Value() != "" {
		sb.WriteString(FilterStyle.Render(b.filter.View()))
		sb.WriteString("\n")
	}
	if b.status != "" {
		if b.statusIsError {
			sb.WriteString(ErrorStyle.Render(runewidth.Truncate(b.status, width, "...")))
		} else {
			sb.WriteString(DimStyle.Render(runewidth.Truncate(b.status, width, "...")))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(renderHelp())
	return sb.String()
}

func (b *Board) renderHeader() string {
	var busy, waiting, idle int
	for _, r := range b.rows {
		if !r.running() {
			continue
		}
		switch r.info.State {
		case detect.StateBusy:
			busy++
		case detect.StateWaitingInput:
			waiting++
		default:
			idle++
		}
	}
	counts := strings.Join([]string{
		stateIcon(detect.StateBusy, true) + fmt.Sprintf(" %d busy", busy),
		stateIcon(detect.StateWaitingInput, true) + fmt.Sprintf(" %d waiting", waiting),
		stateIcon(detect.StateIdle, true) + fmt.Sprintf(" %d idle", idle),
	}, "  ")
	return lipgloss.JoinHorizontal(lipgloss.Center, TitleStyle.Render("worktree-deck"), "  ", counts)
}

// Column widths for the session list.
const (
	branchWidth   = 24
	strategyWidth = 9
	ageWidth      = 8
)

func (b *Board) renderRow(r row, selected bool, width int) string {
	prefix := "  "
	if selected {
		prefix = HighlightStyle.Render(">") + " "
	}

	var state detect.State
	strategy, age, badge := "", "", ""
	if r.running() {
		state = r.info.State
		strategy = string(r.info.StrategyID)
		age = formatRelativeTime(r.info.LastActivity, b.opts.Now())
		if r.info.BackgroundTasks > 0 {
			badge = BadgeStyle.Render(fmt.Sprintf(" [%d bg]", r.info.BackgroundTasks))
		}
		if !r.info.IsPrimaryCommand {
			badge += DimStyle.Render(" [fallback]")
		}
		if r.info.ActiveMode == events.ModeSecondary {
			badge += DimStyle.Render(" [shell]")
		}
	}

	branch := padRight(runewidth.Truncate(r.branch, branchWidth, "…"), branchWidth)
	pathWidth := max(10, width-branchWidth-strategyWidth-ageWidth-12)
	path := padRight(truncatePath(r.path, pathWidth), pathWidth)

	return prefix + stateIcon(state, r.running()) + " " +
		BranchStyle.Render(branch) + " " +
		path + " " +
		StrategyStyle.Render(padRight(strategy, strategyWidth)) + " " +
		DimStyle.Render(age) + badge
}

func renderHelp() string {
	keys := []struct{ key, desc string }{
		{"enter", "attach"},
		{"n", "start"},
		{"x", "stop"},
		{"/", "filter"},
		{"r", "refresh"},
		{"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = HelpKeyStyle.Render(k.key) + " " + HelpDescStyle.Render(k.desc)
	}
	return strings.Join(parts, DimStyle.Render(" · ")) +
		DimStyle.Render("   (attached: ctrl+q detach · ctrl+] shell)")
}

func padRight(s string, width int) string {
	if w := runewidth.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// truncatePath shortens a path to fit within maxLen display width, keeping
// its beginning and end.
func truncatePath(path string, maxLen int) string {
	if runewidth.StringWidth(path) <= maxLen {
		return path
	}
	if maxLen < 10 {
		maxLen = 10
	}
	runes := []rune(path)
	startLen := maxLen / 3
	endLen := maxLen*2/3 - 3
	if startLen+endLen+3 > len(runes) {
		return runewidth.Truncate(path, maxLen, "...")
	}
	return string(runes[:startLen]) + "..." + string(runes[len(runes)-endLen:])
}

// formatRelativeTime formats t relative to now: "just now", "2m ago", "3h ago", "1d ago".
func formatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
