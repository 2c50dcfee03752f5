package core

import (
	"fmt"
	"sync"
)

// Hub fans change signals out to live snapshot subscribers. A signal only
// says that a topic changed; subscribers re-read the current state.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// UserTopic is the topic of a user's chat list.
func UserTopic(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// ChatTopic is the topic of a chat's messages.
func ChatTopic(chatID string) string {
	return "chat:" + chatID
}

// Subscribe registers for signals on topic. Pending signals are coalesced.
// The returned func unsubscribes and must be called exactly once.
func (h *Hub) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan struct{}]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[topic], ch)
		if len(h.subs[topic]) == 0 {
			delete(h.subs, topic)
		}
	}
}

func (h *Hub) Publish(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		for ch := range h.subs[topic] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}
