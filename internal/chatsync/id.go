package chatsync

import "github.com/google/uuid"

// ID identifies a chat or a message. It is either a client-generated
// provisional token or an identifier issued by the server.
type ID struct {
	value       string
	provisional bool
}

// Confirmed wraps an identifier issued by the server.
func Confirmed(serverID string) ID {
	return ID{value: serverID}
}

// Provisional wraps a client-generated placeholder token.
func Provisional(token string) ID {
	return ID{value: token, provisional: true}
}

// NewProvisional returns a provisional ID backed by a fresh random token.
func NewProvisional() ID {
	return Provisional(uuid.NewString())
}

func (id ID) IsZero() bool { return id.value == "" }

func (id ID) IsProvisional() bool { return id.provisional && id.value != "" }

func (id ID) IsConfirmed() bool { return !id.provisional && id.value != "" }

// ServerID returns the server identifier when the ID is confirmed.
func (id ID) ServerID() (string, bool) {
	if !id.IsConfirmed() {
		return "", false
	}
	return id.value, true
}

func (id ID) String() string {
	if id.provisional {
		return "provisional:" + id.value
	}
	return id.value
}
