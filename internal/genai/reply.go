package genai

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "…"

// TruncateReply trims reply text to at most max characters while keeping
// the reply's structure intact: the fallacy-name first line and the
// trailing "More:" reference link are preserved whole, and a URL is never
// split mid-way. Middle lines are dropped or shortened to fit.
func TruncateReply(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	lines := strings.Split(text, "\n")
	linkIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[i])), "more:") {
			linkIdx = i
			break
		}
	}
	if linkIdx <= 0 {
		// No reference link to protect, plain character cut.
		return trimRunes(text, max-1) + ellipsis
	}

	link := strings.TrimSpace(lines[linkIdx])
	budget := max - utf8.RuneCountInString(link) - 1 // newline before the link
	if budget <= 0 {
		// The link alone fills the post; keep it whole.
		return link
	}

	var kept []string
	remaining := budget
	for _, line := range lines[:linkIdx] {
		sep := 0
		if len(kept) > 0 {
			sep = 1
		}
		n := utf8.RuneCountInString(line)
		if n+sep <= remaining {
			kept = append(kept, line)
			remaining -= n + sep
			continue
		}
		room := remaining - sep - 1
		if room > 0 {
			kept = append(kept, trimRunes(line, room)+ellipsis)
		}
		break
	}
	if len(kept) == 0 {
		return link
	}
	return strings.Join(kept, "\n") + "\n" + link
}

func trimRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimRight(string(runes[:n]), " ")
}
