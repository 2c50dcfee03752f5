package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gwi.com/chatsync/internal/chatsync"
)

const defaultBaseURL = "http://127.0.0.1:8080"

var ErrNotAuthenticated = errors.New("not signed in")

type User struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is what a successful sign-in yields and what is persisted between
// runs.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Client talks to the chat backend over HTTP and server-sent events. It
// implements chatsync.Backend.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	debug   bool

	mu      sync.RWMutex
	session *Session
}

var _ chatsync.Backend = (*Client)(nil)

func New(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		stream: &http.Client{},
	}
}

// NewWithSession returns a client already signed in as s.
func NewWithSession(baseURL string, s *Session) *Client {
	c := New(baseURL)
	c.session = s
	return c
}

// SetDebug enables stream tracing in the log.
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*User, error) {
	body := map[string]string{"email": email, "password": password, "display_name": displayName}
	var user User
	if err := c.doJSON(ctx, http.MethodPost, "/api/signup", body, false, &user); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	return &user, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", body, false, &session); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
	return &session, nil
}

func (c *Client) SignOut() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

func (c *Client) IsAuthenticated() bool {
	return c.token() != ""
}

func (c *Client) CurrentUser() (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, false
	}
	user := c.session.User
	return &user, true
}

// Verify checks the session against the server and refreshes the current
// user.
func (c *Client) Verify(ctx context.Context) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, true, &user); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.session != nil {
		c.session.User = user
	}
	c.mu.Unlock()
	return &user, nil
}

func (c *Client) CreateChat(ctx context.Context, title string) (*chatsync.CreatedChat, error) {
	var out chatsync.CreatedChat
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats", map[string]string{"title": title}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) InsertHumanMessage(ctx context.Context, chatID, content string) (*chatsync.InsertedMessage, error) {
	var out chatsync.InsertedMessage
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"content": content}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TriggerAutomatedReply(ctx context.Context, chatID, content string) (*chatsync.Reply, error) {
	var out chatsync.Reply
	path := "/api/chats/" + url.PathEscape(chatID) + "/reply"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"content": content}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameChat(ctx context.Context, chatID, title string) (*chatsync.RenamedChat, error) {
	var out chatsync.RenamedChat
	path := "/api/chats/" + url.PathEscape(chatID)
	if err := c.doJSON(ctx, http.MethodPatch, path, map[string]string{"title": title}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) (*chatsync.DeletedChat, error) {
	var out chatsync.DeletedChat
	path := "/api/chats/" + url.PathEscape(chatID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.Token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, requireAuth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if requireAuth {
		token := c.token()
		if token == "" {
			return nil, ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := c.newRequest(ctx, method, path, reader, requireAuth)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsUnauthorized reports whether the server rejected the session.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	apiErr := asAPIError(err)
	return apiErr != nil && apiErr.StatusCode == http.StatusUnauthorized
}

// IsPermanent reports errors that reopening a stream cannot fix.
func IsPermanent(err error) bool {
	if IsUnauthorized(err) {
		return true
	}
	apiErr := asAPIError(err)
	return apiErr != nil && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusNotFound)
}
