// Package vterm adapts a headless VT100 emulator to the small surface the
// session engine needs: write bytes, resize, and read back rendered lines.
package vterm

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hinshun/vt10x"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var vtermLog = logging.ForComponent(logging.CompDetect)

const (
	defaultCols = 80
	defaultRows = 24
)

// Emulator is a concurrency-safe headless terminal screen.
type Emulator struct {
	mu   sync.Mutex
	term vt10x.Terminal

	parseErrors atomic.Int64
}

// New creates an emulator of the given size; non-positive dimensions fall back
// to 80x24.
func New(cols, rows int) *Emulator {
	cols, rows = clampSize(cols, rows)
	return &Emulator{term: vt10x.New(vt10x.WithSize(cols, rows))}
}

func clampSize(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	return cols, rows
}

// Write feeds raw output into the emulator. Malformed sequences that make the
// parser panic are counted and dropped; the screen keeps whatever state it had.
func (e *Emulator) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.parseErrors.Add(1)
			logging.Aggregate(logging.CompDetect, "emulator_parse_error")
			vtermLog.Debug("emulator_write_panic", "recovered", r)
		}
	}()
	_, _ = e.term.Write(p)
}

// Resize changes the screen dimensions.
func (e *Emulator) Resize(cols, rows int) {
	cols, rows = clampSize(cols, rows)
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			vtermLog.Debug("emulator_resize_panic", "recovered", r)
		}
	}()
	e.term.Resize(cols, rows)
}

// Size returns the current screen dimensions.
func (e *Emulator) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term.Size()
}

// ParseErrors reports how many writes were dropped after a parser panic.
func (e *Emulator) ParseErrors() int64 {
	return e.parseErrors.Load()
}

// Lines returns every screen row top to bottom with trailing spaces removed.
func (e *Emulator) Lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	cols, rows := e.term.Size()
	lines := make([]string, rows)
	var sb strings.Builder
	for y := 0; y < rows; y++ {
		sb.Reset()
		for x := 0; x < cols; x++ {
			ch := e.term.Cell(x, y).Char
			if ch == 0 {
				ch = ' '
			}
			sb.WriteRune(ch)
		}
		lines[y] = strings.TrimRight(sb.String(), " ")
	}
	return lines
}

// VisibleText returns the last maxLines non-blank rows, top to bottom, joined
// by newlines. A non-positive maxLines returns every non-blank row.
func (e *Emulator) VisibleText(maxLines int) string {
	return strings.Join(LastNonBlank(e.Lines(), maxLines), "\n")
}

// LastNonBlank returns the last n lines that contain something other than
// whitespace, preserving their order. n <= 0 keeps all of them.
func LastNonBlank(lines []string, n int) []string {
	var out []string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
