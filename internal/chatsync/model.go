package chatsync

import "time"

const (
	// DefaultTitle is the placeholder title given to newly created chats.
	DefaultTitle = "New Chat"

	// RoleUser is the wire role of human-authored messages. Every other role
	// is treated as the automated responder.
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        ID
	Content   string
	IsBot     bool
	Timestamp time.Time

	// serverID is set once the insert of a provisional message has been
	// acknowledged, until the stream delivers the authoritative copy.
	serverID string
}

type Chat struct {
	ID        ID
	Title     string
	Preview   string
	Timestamp time.Time
	Messages  []Message
	Pinned    bool
	// Typing is true while an automated reply has been requested and the
	// request has not completed.
	Typing bool
}

// LatestMessage is the most recent message attached to a chat-list record.
type LatestMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRecord is one entry of the authoritative chat-list snapshot.
type ChatRecord struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	UpdatedAt     time.Time      `json:"updated_at"`
	LatestMessage *LatestMessage `json:"latest_message,omitempty"`
}

// MessageRecord is one entry of the authoritative message snapshot of a chat.
type MessageRecord struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type CreatedChat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type InsertedMessage struct {
	ID string `json:"id"`
}

type Reply struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type RenamedChat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeletedChat struct {
	ID string `json:"id"`
}

// Selection is the state of the active-chat selector.
type Selection int

const (
	SelectionNone Selection = iota
	SelectionProvisional
	SelectionConfirmed
)

func (s Selection) String() string {
	switch s {
	case SelectionProvisional:
		return "provisional"
	case SelectionConfirmed:
		return "confirmed"
	default:
		return "none"
	}
}

// State is the canonical client state. Values handed out by the Engine are
// copies and may be read freely.
type State struct {
	Chats  []Chat
	Active ID
	// Stale is set while the chat-list stream is disconnected.
	Stale bool

	// renames holds titles applied optimistically whose rename request has
	// not completed yet. deleting holds chats removed optimistically whose
	// delete request has not completed yet.
	renames  map[ID]string
	deleting map[ID]bool
}

func (s State) clone() State {
	out := s
	out.Chats = make([]Chat, len(s.Chats))
	for i, c := range s.Chats {
		c.Messages = append([]Message(nil), c.Messages...)
		out.Chats[i] = c
	}
	out.renames = make(map[ID]string, len(s.renames))
	for k, v := range s.renames {
		out.renames[k] = v
	}
	out.deleting = make(map[ID]bool, len(s.deleting))
	for k, v := range s.deleting {
		out.deleting[k] = v
	}
	return out
}

func (s State) index(id ID) int {
	for i := range s.Chats {
		if s.Chats[i].ID == id {
			return i
		}
	}
	return -1
}

// Chat looks up a chat by identity.
func (s State) Chat(id ID) (Chat, bool) {
	if i := s.index(id); i >= 0 {
		return s.Chats[i], true
	}
	return Chat{}, false
}

// ActiveChat returns the open chat, if any.
func (s State) ActiveChat() (Chat, bool) {
	if s.Active.IsZero() {
		return Chat{}, false
	}
	return s.Chat(s.Active)
}

func (s State) Selection() Selection {
	switch {
	case s.Active.IsZero():
		return SelectionNone
	case s.Active.IsProvisional():
		return SelectionProvisional
	default:
		return SelectionConfirmed
	}
}
