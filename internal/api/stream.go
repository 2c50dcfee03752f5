package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gwi.com/chatsync/internal/core"
)

// ChatsStreamHandler pushes the full chat list on connect and after every
// change to it.
func (h *APIHandler) ChatsStreamHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	h.streamSnapshots(w, r, core.UserTopic(user.ID), func() (any, error) {
		return h.chatRecords(user.ID)
	})
}

// MessagesStreamHandler pushes the full message list of a chat. Once the chat
// is gone a final empty snapshot is sent and the stream ends.
func (h *APIHandler) MessagesStreamHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")
	h.streamSnapshots(w, r, core.ChatTopic(chatID), func() (any, error) {
		return h.messageRecords(chatID, user.ID)
	})
}

func (h *APIHandler) streamSnapshots(w http.ResponseWriter, r *http.Request, topic string, snapshot func() (any, error)) {
	changes, unsubscribe := h.chatService.Hub().Subscribe(topic)
	defer unsubscribe()

	first, err := snapshot()
	if err != nil {
		writeServiceError(w, "open stream", err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	h.metrics.streams.Inc()
	defer h.metrics.streams.Dec()

	send := func(v any) bool {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Printf("Error encoding %s snapshot: %v", topic, err)
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		return rc.Flush() == nil
	}
	if !send(first) {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil || rc.Flush() != nil {
				return
			}
		case <-changes:
			next, err := snapshot()
			if errors.Is(err, core.ErrChatNotFound) {
				send([]struct{}{})
				return
			}
			if err != nil {
				log.Printf("Error reading %s snapshot: %v", topic, err)
				continue
			}
			if !send(next) {
				return
			}
		}
	}
}
