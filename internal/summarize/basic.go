package summarize

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const BasicServiceName = "Basic Text Analysis"

const excerptRunes = 100

// BasicSummary is the offline extractive summary: line and word counts plus
// a couple of excerpts.
func BasicSummary(content string) string {
	lines := make([]string, 0)
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	out := make([]string, 0, 5)
	if len(lines) > 0 {
		out = append(out, fmt.Sprintf("• Document contains %d lines of text", len(lines)))
	}
	if len(lines) > 2 {
		out = append(out, fmt.Sprintf("• Starts with: %s...", excerpt(lines[0])))
	}
	if len(lines) > 10 {
		out = append(out, fmt.Sprintf("• Contains: %s...", excerpt(lines[len(lines)/2])))
	}

	out = append(out, fmt.Sprintf("• Total word count: approximately %d words", len(strings.Fields(content))))

	if sentences := strings.Count(content, "."); sentences > 0 {
		out = append(out, fmt.Sprintf("• Estimated %d sentences", sentences))
	}

	return strings.Join(out, "\n")
}

func excerpt(line string) string {
	if utf8.RuneCountInString(line) <= excerptRunes {
		return line
	}
	return string([]rune(line)[:excerptRunes])
}
