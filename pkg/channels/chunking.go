package channels

import (
	"strings"
	"unicode"
)

// splitMessage breaks content into chunks of at most limit runes. Cuts land on
// the last newline near the limit, then the last whitespace, and only split a
// word when neither is found.
func splitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if limit <= 0 {
		return []string{content}
	}

	var chunks []string
	runes := []rune(content)
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		window := runes[:limit]
		cut := lastBreak(window, limit/4, func(r rune) bool { return r == '\n' })
		if cut <= 0 {
			cut = lastBreak(window, limit/2, unicode.IsSpace)
		}
		if cut <= 0 {
			cut = limit
		}
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	return chunks
}

// lastBreak returns the index of the last rune matching isBreak within the
// trailing window of s, or -1.
func lastBreak(s []rune, window int, isBreak func(rune) bool) int {
	start := len(s) - window
	if start < 0 {
		start = 0
	}
	for i := len(s) - 1; i >= start; i-- {
		if isBreak(s[i]) {
			return i
		}
	}
	return -1
}
