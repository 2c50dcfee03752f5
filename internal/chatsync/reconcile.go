package chatsync

// Effect is a side effect requested by a reconciliation pass.
type Effect interface {
	effect()
}

// RenameEffect asks for the server-side title of a chat to be updated.
type RenameEffect struct {
	ChatID ID
	Title  string
}

func (RenameEffect) effect() {}

// ReconcileChats merges an authoritative chat-list snapshot into prev.
//
// Message caches are carried over by identity, pinned flags come from pins,
// and a chat with a rename in flight keeps its optimistic title. Chats being
// deleted are left out. Provisional chats and the active chat are kept when
// the snapshot does not contain them. When no chat is active the first
// snapshot entry becomes active.
func ReconcileChats(prev State, records []ChatRecord, pins PinSet) State {
	next := prev.clone()

	existing := make(map[ID]Chat, len(prev.Chats))
	for _, c := range prev.Chats {
		existing[c.ID] = c
	}

	chats := make([]Chat, 0, len(records)+1)
	seen := make(map[ID]bool, len(records))
	var firstID ID
	for _, r := range records {
		id := Confirmed(r.ID)
		if r.ID == "" || seen[id] || next.deleting[id] {
			continue
		}
		seen[id] = true
		if firstID.IsZero() {
			firstID = id
		}

		chat := Chat{
			ID:        id,
			Title:     r.Title,
			Timestamp: r.UpdatedAt,
			Pinned:    pins.pinned(id),
		}
		if r.LatestMessage != nil {
			chat.Preview = FormatPreview(r.LatestMessage.Content)
			chat.Timestamp = r.LatestMessage.CreatedAt
		}
		if old, ok := existing[id]; ok {
			if chat.Preview == "" {
				chat.Preview = old.Preview
			}
			chat.Messages = append([]Message(nil), old.Messages...)
			chat.Typing = old.Typing
		}
		if title, ok := next.renames[id]; ok {
			chat.Title = title
		}
		chats = append(chats, chat)
	}

	var kept []Chat
	for _, c := range next.Chats {
		if seen[c.ID] {
			continue
		}
		if c.ID.IsProvisional() {
			kept = append(kept, c)
		} else if c.ID == prev.Active {
			c.Pinned = pins.pinned(c.ID)
			kept = append(kept, c)
		}
	}

	next.Chats = append(kept, chats...)
	SortChats(next.Chats)

	if next.Active.IsZero() && !firstID.IsZero() {
		next.Active = firstID
	}
	next.Stale = false
	return next
}

// ReconcileMessages merges the authoritative message snapshot of chatID into
// prev. Snapshots for any chat other than the active one are ignored.
//
// The chat's messages are replaced wholesale, except that provisional messages
// without an equivalent in the snapshot stay at the end. Preview and timestamp
// follow the last message. When the chat still carries a placeholder title the
// first automated reply yields a derived title, applied optimistically and
// returned as a RenameEffect.
func ReconcileMessages(prev State, chatID string, records []MessageRecord) (State, []Effect) {
	id := Confirmed(chatID)
	if prev.Active != id {
		return prev, nil
	}
	idx := prev.index(id)
	if idx < 0 {
		return prev, nil
	}

	next := prev.clone()
	chat := &next.Chats[idx]

	var effects []Effect
	if _, pending := next.renames[id]; !pending && NeedsTitle(chat.Title) {
		for _, r := range records {
			if r.Role == RoleUser {
				continue
			}
			if title, ok := DeriveTitle(r.Content); ok {
				chat.Title = title
				next.renames[id] = title
				effects = append(effects, RenameEffect{ChatID: id, Title: title})
			}
			break
		}
	}

	msgs := make([]Message, 0, len(records)+1)
	for _, r := range records {
		msgs = append(msgs, Message{
			ID:        Confirmed(r.ID),
			Content:   r.Content,
			IsBot:     r.Role != RoleUser,
			Timestamp: r.CreatedAt,
		})
	}
	msgs = append(msgs, unmatchedProvisional(chat.Messages, records)...)

	chat.Messages = msgs
	if n := len(msgs); n > 0 {
		chat.Preview = FormatPreview(msgs[n-1].Content)
		chat.Timestamp = msgs[n-1].Timestamp
	}
	SortChats(next.Chats)
	return next, effects
}

// unmatchedProvisional returns the provisional messages of current that have
// no equivalent entry in records. An acknowledged message matches the record
// with its server id; an unacknowledged one matches a human record with equal
// content that was not part of the previous authoritative sequence.
func unmatchedProvisional(current []Message, records []MessageRecord) []Message {
	known := make(map[string]bool, len(current))
	for _, m := range current {
		if id, ok := m.ID.ServerID(); ok {
			known[id] = true
		}
	}
	used := make(map[string]bool)

	var out []Message
	for _, m := range current {
		if !m.ID.IsProvisional() {
			continue
		}
		matched := false
		for _, r := range records {
			if used[r.ID] {
				continue
			}
			if m.serverID != "" {
				matched = r.ID == m.serverID
			} else {
				matched = r.Role == RoleUser && r.Content == m.Content && !known[r.ID]
			}
			if matched {
				used[r.ID] = true
				break
			}
		}
		if !matched {
			out = append(out, m)
		}
	}
	return out
}
