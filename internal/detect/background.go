package detect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// BackgroundScanLines is how many trailing non-blank lines are inspected for
// background task indicators.
const BackgroundScanLines = 3

var backgroundCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\s+background\s+tasks?`),
	regexp.MustCompile(`(?i)(\d+)\s+(?:shells?|tasks?)\s+running`),
}

const runningMarker = "(running)"

// CountBackgroundTasks inspects the last few non-blank lines of screen. An
// explicit count wins; otherwise each line carrying a "(running)" marker
// counts as one task.
func CountBackgroundTasks(screen string) int {
	lines := tailNonBlank(strings.Split(ansi.Strip(screen), "\n"), BackgroundScanLines)

	for i := len(lines) - 1; i >= 0; i-- {
		for _, re := range backgroundCountPatterns {
			if m := re.FindStringSubmatch(lines[i]); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return n
				}
			}
		}
	}

	running := 0
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), runningMarker) {
			running++
		}
	}
	return running
}

func tailNonBlank(lines []string, n int) []string {
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, lines[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
