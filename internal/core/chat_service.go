package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gwi.com/chatsync/internal/store"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrEmptyContent = errors.New("message content cannot be empty")
	ErrEmptyTitle   = errors.New("title cannot be empty")
	// ErrResponder wraps failures of the automated responder.
	ErrResponder = errors.New("responder failed")
)

// ChatService applies owner-scoped chat mutations and publishes every change
// to the hub.
type ChatService struct {
	dbStore   *store.SQLiteStore
	responder Responder
	hub       *Hub
}

func NewChatService(db *store.SQLiteStore, responder Responder, hub *Hub) *ChatService {
	return &ChatService{
		dbStore:   db,
		responder: responder,
		hub:       hub,
	}
}

func (s *ChatService) Hub() *Hub {
	return s.hub
}

func (s *ChatService) CreateUser(email, displayName, passwordHash string) (*store.User, error) {
	return s.dbStore.CreateUser(email, displayName, passwordHash)
}

func (s *ChatService) GetUserByEmail(email string) (*store.User, error) {
	return s.dbStore.GetUserByEmail(email)
}

func (s *ChatService) CreateChat(userID int64, title string) (*store.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	chat, err := s.dbStore.CreateChat(userID, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}
	s.hub.Publish(UserTopic(userID))
	return chat, nil
}

func (s *ChatService) ListChats(userID int64) ([]store.ChatSummary, error) {
	return s.dbStore.ListChatSummaries(userID)
}

// GetMessages returns every message of the chat in chronological order.
func (s *ChatService) GetMessages(chatID string, userID int64) ([]store.Message, error) {
	if err := s.ensureOwner(chatID, userID); err != nil {
		return nil, err
	}
	messages, err := s.dbStore.GetMessagesByChatID(chatID, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return messages, nil
}

// PostMessage stores a human-authored message.
func (s *ChatService) PostMessage(chatID string, userID int64, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if err := s.ensureOwner(chatID, userID); err != nil {
		return nil, err
	}

	msg := store.Message{
		ChatID:  chatID,
		Role:    store.RoleUser,
		Content: content,
	}
	if err := s.dbStore.CreateMessage(&msg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	s.hub.Publish(ChatTopic(chatID), UserTopic(userID))
	return &msg, nil
}

// Reply asks the responder to answer content in the context of the chat's
// recent history and stores the answer.
func (s *ChatService) Reply(ctx context.Context, chatID string, userID int64, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if err := s.ensureOwner(chatID, userID); err != nil {
		return nil, err
	}

	history, err := s.dbStore.GetLastNMessagesByChatID(chatID, HistoryLength)
	if err != nil {
		log.Printf("Error getting chat history for chat %s: %v. Proceeding without history.", chatID, err)
		history = nil
	}
	if n := len(history); n == 0 || history[n-1].Role != store.RoleUser || history[n-1].Content != content {
		history = append(history, store.Message{ChatID: chatID, Role: store.RoleUser, Content: content})
	}

	answer, err := s.responder.Respond(ctx, history)
	if err != nil {
		log.Printf("Error generating reply for chat %s: %v", chatID, err)
		return nil, fmt.Errorf("%w: %v", ErrResponder, err)
	}

	// The chat may have been deleted while the responder was working.
	if err := s.ensureOwner(chatID, userID); err != nil {
		return nil, err
	}
	reply := store.Message{
		ChatID:  chatID,
		Role:    store.RoleAssistant,
		Content: answer,
	}
	if err := s.dbStore.CreateMessage(&reply); err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}
	s.hub.Publish(ChatTopic(chatID), UserTopic(userID))
	return &reply, nil
}

func (s *ChatService) RenameChat(chatID string, userID int64, title string) (*store.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	chat, err := s.dbStore.UpdateChatTitle(chatID, userID, title)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rename chat: %w", err)
	}
	log.Printf("Chat %s renamed to '%s'", chatID, title)
	s.hub.Publish(UserTopic(userID))
	return chat, nil
}

func (s *ChatService) DeleteChat(chatID string, userID int64) error {
	err := s.dbStore.DeleteChat(chatID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	s.hub.Publish(UserTopic(userID), ChatTopic(chatID))
	return nil
}

func (s *ChatService) ensureOwner(chatID string, userID int64) error {
	chat, err := s.dbStore.GetChatByID(chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to verify chat: %w", err)
	}
	if chat == nil {
		return ErrChatNotFound
	}
	return nil
}
