package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gwi.com/chatsync/internal/store"
)

const (
	defaultChatModelName = "gemini-1.5-flash-latest"

	// HistoryLength is how many recent messages are handed to the responder.
	HistoryLength = 10

	chatSystemInstruction = "You are a friendly assistant in a chat application. " +
		"Answer the user's latest message using the conversation so far. " +
		"Keep answers concise and open your reply with a short sentence that summarizes the answer."
)

// Responder produces the automated reply to the last message of history.
type Responder interface {
	Respond(ctx context.Context, history []store.Message) (string, error)
}

// LLMService is the Gemini-backed Responder.
type LLMService struct {
	client    *genai.Client
	modelName string
}

func NewLLMService(ctx context.Context, apiKey string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &LLMService{
		client:    client,
		modelName: defaultChatModelName,
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

func (s *LLMService) Respond(ctx context.Context, history []store.Message) (string, error) {
	prior, last, err := splitHistory(history)
	if err != nil {
		return "", err
	}

	model := s.client.GenerativeModel(s.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	chatSession := model.StartChat()
	chatSession.History = historyContents(prior)

	resp, err := chatSession.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	return responseText(resp.Candidates[0].Content)
}

// splitHistory separates the message being answered from the turns before
// it.
func splitHistory(history []store.Message) ([]store.Message, store.Message, error) {
	if len(history) == 0 {
		return nil, store.Message{}, errors.New("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != store.RoleUser {
		return nil, store.Message{}, errors.New("last message in history is not from 'user', cannot proceed with chat completion")
	}
	return history[:len(history)-1], last, nil
}

func historyContents(msgs []store.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		role := "user"
		if msg.Role != store.RoleUser {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

func responseText(content *genai.Content) (string, error) {
	var text strings.Builder
	for _, part := range content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text.String(), nil
}
