package chatsync

import (
	"strings"
	"unicode"
)

const (
	titleMaxLength = 40
	// A cut point must lie beyond this index to be used.
	titleMinCut = 10
)

// NeedsTitle reports whether a chat title is empty or still the placeholder.
func NeedsTitle(title string) bool {
	t := strings.TrimSpace(title)
	return t == "" || strings.EqualFold(t, DefaultTitle)
}

// DeriveTitle computes a chat title from an automated reply. The reply is
// truncated to 40 characters and cut back at the last punctuation mark,
// or failing that the last space, found after character 10. The first
// letter is upper-cased. ok is false when the reply has no text.
func DeriveTitle(reply string) (title string, ok bool) {
	t := strings.Join(strings.Fields(reply), " ")
	if t == "" {
		return "", false
	}
	runes := []rune(t)
	if len(runes) > titleMaxLength {
		runes = runes[:titleMaxLength]
	}

	cut := -1
	for i, r := range runes {
		if strings.ContainsRune(".!?,;:", r) {
			cut = i
		}
	}
	if cut <= titleMinCut {
		cut = -1
		for i, r := range runes {
			if r == ' ' {
				cut = i
			}
		}
	}
	if cut > titleMinCut {
		runes = runes[:cut]
	}

	runes[0] = unicode.ToUpper(runes[0])
	return string(runes), true
}
