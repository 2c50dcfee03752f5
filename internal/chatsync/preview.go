package chatsync

import "strings"

// PreviewLength is the number of characters kept before the ellipsis.
const PreviewLength = 30

// FormatPreview collapses whitespace into single spaces and bounds the
// result to PreviewLength characters plus an ellipsis.
func FormatPreview(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	runes := []rune(t)
	if len(runes) > PreviewLength {
		return string(runes[:PreviewLength]) + "…"
	}
	return t
}
