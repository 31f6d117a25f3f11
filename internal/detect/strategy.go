package detect

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy classifies rendered terminal text for one tool family.
type Strategy interface {
	// DetectState returns the new state for screen. current is passed so that
	// neutral patterns can keep it unchanged.
	DetectState(screen string, current State) State
	// DetectBackgroundTask returns how many background sub-tasks the tool
	// reports as running.
	DetectBackgroundTask(screen string) int
}

// StrategyID selects a Strategy when a session is created.
type StrategyID string

const (
	StrategyClaude   StrategyID = "claude"
	StrategyGemini   StrategyID = "gemini"
	StrategyCodex    StrategyID = "codex"
	StrategyCursor   StrategyID = "cursor"
	StrategyOpenCode StrategyID = "opencode"
	StrategyCustom   StrategyID = "custom"
)

// ErrUnknownStrategy is returned for ids with no registered strategy.
var ErrUnknownStrategy = errors.New("unknown detection strategy")

// KnownStrategies lists every selectable strategy id.
func KnownStrategies() []StrategyID {
	return []StrategyID{
		StrategyClaude,
		StrategyGemini,
		StrategyCodex,
		StrategyCursor,
		StrategyOpenCode,
		StrategyCustom,
	}
}

// ParseStrategyID normalizes s and checks it against KnownStrategies.
func ParseStrategyID(s string) (StrategyID, error) {
	id := StrategyID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownStrategies() {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// New builds the strategy for id. overrides, when non-nil, replace the
// built-in pattern lists field by field (see MergePatterns); for
// StrategyCustom they are the only patterns.
func New(id StrategyID, overrides *Patterns) (Strategy, error) {
	switch id {
	case StrategyClaude:
		return NewClaude(overrides), nil
	case StrategyGemini:
		return NewGemini(overrides), nil
	case StrategyCodex:
		return NewCodex(overrides), nil
	case StrategyCursor:
		return NewCursor(overrides), nil
	case StrategyOpenCode:
		return NewOpenCode(overrides), nil
	case StrategyCustom:
		return NewCustom(overrides), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, string(id))
}

func rulesFor(id StrategyID, overrides *Patterns) Rules {
	return Compile(MergePatterns(DefaultPatterns(id), overrides, nil))
}

// Claude detects Claude Code. Its "ctrl+r to toggle" transcript hint is
// neutral.
type Claude struct{ Rules }

func NewClaude(overrides *Patterns) Claude {
	return Claude{rulesFor(StrategyClaude, overrides)}
}

// Gemini detects Gemini CLI confirmation boxes and its cancel banner.
type Gemini struct{ Rules }

func NewGemini(overrides *Patterns) Gemini {
	return Gemini{rulesFor(StrategyGemini, overrides)}
}

// Codex detects the Codex CLI.
type Codex struct{ Rules }

func NewCodex(overrides *Patterns) Codex {
	return Codex{rulesFor(StrategyCodex, overrides)}
}

// Cursor detects cursor-agent.
type Cursor struct{ Rules }

func NewCursor(overrides *Patterns) Cursor {
	return Cursor{rulesFor(StrategyCursor, overrides)}
}

// OpenCode detects opencode.
type OpenCode struct{ Rules }

func NewOpenCode(overrides *Patterns) OpenCode {
	return OpenCode{rulesFor(StrategyOpenCode, overrides)}
}

// Custom runs only the configured patterns.
type Custom struct{ Rules }

func NewCustom(p *Patterns) Custom {
	return Custom{Compile(p)}
}

var (
	_ Strategy = Claude{}
	_ Strategy = Gemini{}
	_ Strategy = Codex{}
	_ Strategy = Cursor{}
	_ Strategy = OpenCode{}
	_ Strategy = Custom{}
)
