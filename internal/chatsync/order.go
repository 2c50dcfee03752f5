package chatsync

import "sort"

// compareChats imposes the canonical order: pinned chats first, then most
// recent activity first.
func compareChats(a, b Chat) int {
	if a.Pinned != b.Pinned {
		if a.Pinned {
			return -1
		}
		return 1
	}
	switch {
	case a.Timestamp.After(b.Timestamp):
		return -1
	case a.Timestamp.Before(b.Timestamp):
		return 1
	}
	return 0
}

// SortChats orders chats in place. Ties keep their relative order.
func SortChats(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return compareChats(chats[i], chats[j]) < 0
	})
}

// IsOrdered reports whether chats are in canonical order.
func IsOrdered(chats []Chat) bool {
	for i := 1; i < len(chats); i++ {
		if compareChats(chats[i-1], chats[i]) > 0 {
			return false
		}
	}
	return true
}
