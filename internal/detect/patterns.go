package detect

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompDetect)

// Patterns holds string-form detection patterns before compilation.
// Patterns prefixed with "re:" are compiled as case-insensitive regex, where
// "." does not cross lines; everything else is a case-insensitive substring
// match.
type Patterns struct {
	Waiting []string
	Busy    []string
	Neutral []string // a match keeps the current state
}

// DefaultPatterns returns the built-in patterns for a known tool. Custom and
// unknown ids have no defaults.
func DefaultPatterns(id StrategyID) *Patterns {
	switch id {
	case StrategyClaude:
		return &Patterns{
			Neutral: []string{"ctrl+r to toggle"},
			Waiting: []string{
				`re:(do you want|would you like).+\n[\s\S]*?(yes|❯)`,
				"no, and tell claude what to do differently",
				"do you trust the files in this folder",
			},
			Busy: []string{
				"esc to interrupt",
				"ctrl+c to interrupt",
				`re:(?m-s)^[✳✽✶✢]\s*\S.*…`, // spinner + ellipsis status line
			},
		}
	case StrategyGemini:
		return &Patterns{
			Waiting: []string{
				"waiting for user confirmation",
				"│ apply this change",
				"│ allow execution",
				"│ do you want to proceed",
				`re:│ allow .*\?`,
			},
			Busy: []string{"esc to cancel"},
		}
	case StrategyCodex:
		return &Patterns{
			Waiting: []string{
				"│allow",
				"[y/n]",
				"press enter to confirm",
				"re:do you want to",
			},
			Busy: []string{
				"esc to interrupt",
				"ctrl+c to interrupt",
			},
		}
	case StrategyCursor:
		return &Patterns{
			Waiting: []string{
				"(y) (enter)",
				"keep (n)",
				`re:auto .*\(shift\+tab\)`,
				"run this command?",
			},
			Busy: []string{"ctrl+c to stop"},
		}
	case StrategyOpenCode:
		return &Patterns{
			Waiting: []string{
				"△ permission required",
				"allow once",
				"allow always",
			},
			Busy: []string{
				"esc interrupt",
				"esc to exit",
				"working...",
			},
		}
	default:
		return nil
	}
}

// MergePatterns layers config on top of defaults. A non-nil field in overrides
// replaces the default list; extras are appended afterwards. Either argument
// may be nil.
func MergePatterns(defaults, overrides, extras *Patterns) *Patterns {
	out := &Patterns{}
	if defaults != nil {
		out.Waiting = append([]string(nil), defaults.Waiting...)
		out.Busy = append([]string(nil), defaults.Busy...)
		out.Neutral = append([]string(nil), defaults.Neutral...)
	}
	if overrides != nil {
		if overrides.Waiting != nil {
			out.Waiting = append([]string(nil), overrides.Waiting...)
		}
		if overrides.Busy != nil {
			out.Busy = append([]string(nil), overrides.Busy...)
		}
		if overrides.Neutral != nil {
			out.Neutral = append([]string(nil), overrides.Neutral...)
		}
	}
	if extras != nil {
		out.Waiting = append(out.Waiting, extras.Waiting...)
		out.Busy = append(out.Busy, extras.Busy...)
		out.Neutral = append(out.Neutral, extras.Neutral...)
	}
	return out
}

// matcher is one compiled pattern list.
type matcher struct {
	substrings []string
	regexps    []*regexp.Regexp
}

func compileMatcher(kind string, raw []string) matcher {
	var m matcher
	for _, p := range raw {
		if strings.HasPrefix(p, "re:") {
			re, err := regexp.Compile("(?i)" + p[3:])
			if err != nil {
				patternLog.Warn("invalid_regex",
					slog.String("kind", kind),
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			m.regexps = append(m.regexps, re)
			continue
		}
		if p == "" {
			continue
		}
		m.substrings = append(m.substrings, strings.ToLower(p))
	}
	return m
}

// match expects lower already lowercased; regexps run on the original text
// since they carry their own case-insensitive flag.
func (m matcher) match(text, lower string) bool {
	for _, s := range m.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, re := range m.regexps {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (m matcher) empty() bool {
	return len(m.substrings) == 0 && len(m.regexps) == 0
}

// Rules is a compiled pattern set evaluated in fixed priority order:
// neutral, waiting, busy, then idle.
type Rules struct {
	neutral matcher
	waiting matcher
	busy    matcher
}

// Compile builds Rules from raw patterns. Invalid regexes are logged and
// skipped. A nil Patterns yields Rules that always report idle.
func Compile(p *Patterns) Rules {
	if p == nil {
		return Rules{}
	}
	return Rules{
		neutral: compileMatcher("neutral", p.Neutral),
		waiting: compileMatcher("waiting", p.Waiting),
		busy:    compileMatcher("busy", p.Busy),
	}
}

// DetectState classifies screen. Waiting patterns always win over busy ones
// because confirmation prompts can sit under a stale interrupt banner.
func (r Rules) DetectState(screen string, current State) State {
	text := ansi.Strip(screen)
	lower := strings.ToLower(text)

	if !r.neutral.empty() && r.neutral.match(text, lower) {
		return current
	}
	if r.waiting.match(text, lower) {
		return StateWaitingInput
	}
	if r.busy.match(text, lower) {
		return StateBusy
	}
	return StateIdle
}

// DetectBackgroundTask uses the shared background task heuristics.
func (r Rules) DetectBackgroundTask(screen string) int {
	return CountBackgroundTasks(screen)
}
