package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gwi.com/chatsync/internal/auth"
	"gwi.com/chatsync/internal/chatsync"
	"gwi.com/chatsync/internal/core"
	"gwi.com/chatsync/internal/store"
)

type ctxKey int

const userKey ctxKey = iota

// MaxTitleLength bounds chat titles accepted by create and rename.
const MaxTitleLength = 200

type APIHandler struct {
	chatService *core.ChatService
	limiter     *userLimiter
	metrics     *metrics
	keepAlive   time.Duration
}

func NewAPIHandler(cs *core.ChatService, repliesPerMinute int) *APIHandler {
	return &APIHandler{
		chatService: cs,
		limiter:     newUserLimiter(repliesPerMinute),
		metrics:     newMetrics(),
		keepAlive:   15 * time.Second,
	}
}

func userFrom(ctx context.Context) *store.User {
	user, _ := ctx.Value(userKey).(*store.User)
	return user
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps chat service errors to status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, core.ErrChatNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrEmptyContent), errors.Is(err, core.ErrEmptyTitle):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrResponder):
		writeError(w, http.StatusBadGateway, "Failed to generate reply")
	default:
		log.Printf("Error during %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "Failed to "+op)
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		email, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := h.chatService.GetUserByEmail(email)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", email, err)
			writeError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to process password")
		return
	}

	user, err := h.chatService.CreateUser(req.Email, strings.TrimSpace(req.DisplayName), hashedPassword)
	if errors.Is(err, store.ErrUserExists) {
		writeError(w, http.StatusConflict, "User already exists")
		return
	}
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.chatService.GetUserByEmail(req.Email)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Email, err)
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := auth.GenerateJWT(user.Email)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

type TitleRequest struct {
	Title string `json:"title"`
}

func validTitle(w http.ResponseWriter, title string) bool {
	if len([]rune(title)) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "Title is too long")
		return false
	}
	return true
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	req := TitleRequest{Title: chatsync.DefaultTitle}
	if r.Body != http.NoBody {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	if !validTitle(w, req.Title) {
		return
	}

	chat, err := h.chatService.CreateChat(user.ID, req.Title)
	if err != nil {
		writeServiceError(w, "create chat", err)
		return
	}

	writeJSON(w, http.StatusCreated, chatsync.CreatedChat{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedAt: chat.CreatedAt,
	})
}

func (h *APIHandler) chatRecords(userID int64) ([]chatsync.ChatRecord, error) {
	summaries, err := h.chatService.ListChats(userID)
	if err != nil {
		return nil, err
	}
	records := make([]chatsync.ChatRecord, 0, len(summaries))
	for _, summary := range summaries {
		record := chatsync.ChatRecord{
			ID:        summary.ID,
			Title:     summary.Title,
			UpdatedAt: summary.UpdatedAt,
		}
		if summary.LatestContent != nil && summary.LatestCreatedAt != nil {
			record.LatestMessage = &chatsync.LatestMessage{
				Content:   *summary.LatestContent,
				CreatedAt: *summary.LatestCreatedAt,
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	records, err := h.chatRecords(user.ID)
	if err != nil {
		writeServiceError(w, "list chats", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) messageRecords(chatID string, userID int64) ([]chatsync.MessageRecord, error) {
	messages, err := h.chatService.GetMessages(chatID, userID)
	if err != nil {
		return nil, err
	}
	records := make([]chatsync.MessageRecord, 0, len(messages))
	for _, msg := range messages {
		records = append(records, chatsync.MessageRecord{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	return records, nil
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	records, err := h.messageRecords(chatID, user.ID)
	if err != nil {
		writeServiceError(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.chatService.PostMessage(chatID, user.ID, req.Content)
	if err != nil {
		writeServiceError(w, "post message", err)
		return
	}
	writeJSON(w, http.StatusCreated, chatsync.InsertedMessage{ID: msg.ID})
}

func (h *APIHandler) ReplyHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !h.limiter.Allow(user.ID) {
		log.Printf("Reply rate limit hit for user %d, chat %s", user.ID, chatID)
		h.metrics.replies.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reply, err := h.chatService.Reply(r.Context(), chatID, user.ID, req.Content)
	if err != nil {
		h.metrics.replies.WithLabelValues("error").Inc()
		writeServiceError(w, "reply", err)
		return
	}
	h.metrics.replies.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, chatsync.Reply{
		ID:        reply.ID,
		Content:   reply.Content,
		CreatedAt: reply.CreatedAt,
	})
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req TitleRequest
	if !decodeBody(w, r, &req) || !validTitle(w, req.Title) {
		return
	}

	chat, err := h.chatService.RenameChat(chatID, user.ID, req.Title)
	if err != nil {
		writeServiceError(w, "rename chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chatsync.RenamedChat{
		ID:        chat.ID,
		Title:     chat.Title,
		UpdatedAt: chat.UpdatedAt,
	})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	if err := h.chatService.DeleteChat(chatID, user.ID); err != nil {
		writeServiceError(w, "delete chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chatsync.DeletedChat{ID: chatID})
}
