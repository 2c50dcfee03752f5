package chatsync

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between two accepted sends.
const DefaultCooldown = 1000 * time.Millisecond

// Backend carries the remote mutations.
type Backend interface {
	CreateChat(ctx context.Context, title string) (*CreatedChat, error)
	InsertHumanMessage(ctx context.Context, chatID, content string) (*InsertedMessage, error)
	TriggerAutomatedReply(ctx context.Context, chatID, content string) (*Reply, error)
	RenameChat(ctx context.Context, chatID, title string) (*RenamedChat, error)
	DeleteChat(ctx context.Context, chatID string) (*DeletedChat, error)
}

// RollbackPolicy decides what happens to optimistic renames and deletes
// whose remote call fails.
type RollbackPolicy int

const (
	// RollbackSymmetric reverts failed renames and deletes.
	RollbackSymmetric RollbackPolicy = iota
	// RollbackLegacy only reports failed renames and deletes.
	RollbackLegacy
)

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.cooldown = d }
}

func WithRollbackPolicy(p RollbackPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithTokenSource overrides how provisional tokens are generated.
func WithTokenSource(next func() string) Option {
	return func(e *Engine) { e.newToken = next }
}

// Engine holds the canonical client state and coordinates optimistic
// mutations against the backend. Every state transition is applied under a
// single lock as a function of the previous state; remote calls are made
// outside of it.
type Engine struct {
	backend  Backend
	pinStore PinStore
	notifier Notifier
	now      func() time.Time
	newToken func() string
	cooldown time.Duration
	policy   RollbackPolicy

	effects sync.WaitGroup

	mu       sync.Mutex
	state    State
	pins     PinSet
	lastSend time.Time

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// NewEngine creates an engine and loads the pin set. A pin store that fails
// to load leaves the pin set empty.
func NewEngine(ctx context.Context, backend Backend, pins PinStore, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		pinStore: pins,
		notifier: logNotifier{},
		now:      time.Now,
		newToken: func() string { return NewProvisional().value },
		cooldown: DefaultCooldown,
		pins:     PinSet{},
		subs:     make(map[chan struct{}]struct{}),
	}
	e.state = State{}.clone()
	for _, opt := range opts {
		opt(e)
	}

	if pins != nil {
		ids, err := pins.LoadPins(ctx)
		if err != nil {
			log.Printf("Failed to load pinned chats, starting with none: %v", err)
		} else {
			e.pins = NewPinSet(ids)
		}
	}
	return e
}

// Snapshot returns a copy of the canonical state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Changes registers a listener signalled after each state transition.
// Pending signals are coalesced. The returned func unregisters it.
func (e *Engine) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, ch)
		e.subMu.Unlock()
	}
}

// MessageStreamTarget returns the server id whose message stream is
// meaningful. ok is false while no chat is active or the active chat has no
// server identity yet.
func (e *Engine) MessageStreamTarget() (chatID string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Active.ServerID()
}

func (e *Engine) apply(fn func(State) State) {
	e.mu.Lock()
	e.state = fn(e.state)
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) signal() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) reject(op Op, kind Kind, err error, n Notice) error {
	e.notifier.Notify(n)
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Engine) remoteFailure(op Op, title string, err error) error {
	e.notifier.Notify(Notice{Level: NoticeError, Title: title, Description: err.Error()})
	return &Error{Kind: remoteKind(err), Op: op, Err: err}
}

// ApplyChatSnapshot reconciles an authoritative chat-list snapshot.
func (e *Engine) ApplyChatSnapshot(records []ChatRecord) {
	e.apply(func(s State) State {
		return ReconcileChats(s, records, e.pins)
	})
}

// ApplyMessageSnapshot reconciles the message snapshot of chatID and starts
// the effects it produces in the background. Effects outlive ctx being
// cancelled, so switching away from a chat does not abort its auto-title.
// Auto-title failures are logged only.
func (e *Engine) ApplyMessageSnapshot(ctx context.Context, chatID string, records []MessageRecord) {
	var effects []Effect
	e.apply(func(s State) State {
		next, eff := ReconcileMessages(s, chatID, records)
		effects = eff
		return next
	})
	if len(effects) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.effects.Add(1)
	go func() {
		defer e.effects.Done()
		e.runEffects(ctx, effects)
	}()
}

// Wait blocks until all background effects have finished.
func (e *Engine) Wait() {
	e.effects.Wait()
}

func (e *Engine) runEffects(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case RenameEffect:
			serverID, _ := eff.ChatID.ServerID()
			_, err := e.backend.RenameChat(ctx, serverID, eff.Title)
			e.apply(func(s State) State {
				next := s.clone()
				if next.renames[eff.ChatID] == eff.Title {
					delete(next.renames, eff.ChatID)
				}
				return next
			})
			if err != nil {
				log.Printf("Auto-title for chat %s failed: %v", serverID, err)
			}
		}
	}
}

// SetStale marks whether the chat-list stream is currently disconnected.
func (e *Engine) SetStale(stale bool) {
	e.apply(func(s State) State {
		next := s.clone()
		next.Stale = stale
		return next
	})
}

// Select opens a chat.
func (e *Engine) Select(id ID) error {
	e.mu.Lock()
	if e.state.index(id) < 0 {
		e.mu.Unlock()
		return &Error{Kind: KindValidation, Op: OpSelect, Err: ErrUnknownChat}
	}
	e.state = e.state.clone()
	e.state.Active = id
	e.mu.Unlock()
	e.signal()
	return nil
}

// CreateChat inserts a provisional chat at the head of the list, makes it
// active and asks the backend to create it. On success the provisional
// identity is replaced by the server identity and a title or pin given to the
// provisional chat is carried over; on failure the chat is removed.
func (e *Engine) CreateChat(ctx context.Context) error {
	id := Provisional(e.newToken())
	now := e.now()
	e.apply(func(s State) State {
		next := s.clone()
		chat := Chat{ID: id, Title: DefaultTitle, Timestamp: now}
		next.Chats = append([]Chat{chat}, next.Chats...)
		next.Active = id
		return next
	})

	created, err := e.backend.CreateChat(ctx, DefaultTitle)
	if err != nil {
		e.apply(func(s State) State {
			next := s.clone()
			if i := next.index(id); i >= 0 {
				next.Chats = append(next.Chats[:i], next.Chats[i+1:]...)
			}
			if next.Active == id {
				next.Active = firstChatID(next.Chats)
			}
			return next
		})
		return e.remoteFailure(OpCreateChat, "Failed to create chat", err)
	}

	confirmed := Confirmed(created.ID)
	var (
		abandoned bool
		title     string
		pinned    bool
	)
	e.apply(func(s State) State {
		next := s.clone()
		i := next.index(id)
		if i < 0 {
			// Deleted while provisional. The stream may already have
			// delivered the server chat.
			abandoned = true
			next.deleting[confirmed] = true
			if j := next.index(confirmed); j >= 0 {
				next.Chats = append(next.Chats[:j], next.Chats[j+1:]...)
				if next.Active == confirmed {
					next.Active = firstChatID(next.Chats)
				}
			}
			return next
		}
		title, pinned = next.Chats[i].Title, next.Chats[i].Pinned
		if j := next.index(confirmed); j >= 0 {
			// The chat-list stream delivered the chat first.
			if len(next.Chats[j].Messages) == 0 {
				next.Chats[j].Messages = next.Chats[i].Messages
			}
			if title != DefaultTitle {
				next.Chats[j].Title = title
			}
			next.Chats[j].Pinned = next.Chats[j].Pinned || pinned
			next.Chats = append(next.Chats[:i], next.Chats[i+1:]...)
		} else {
			next.Chats[i].ID = confirmed
		}
		if title != DefaultTitle {
			next.renames[confirmed] = title
		}
		if next.Active == id {
			next.Active = confirmed
		}
		SortChats(next.Chats)
		return next
	})

	if abandoned {
		log.Printf("Chat %s was deleted before its creation completed, deleting on server", created.ID)
		_, err := e.backend.DeleteChat(ctx, created.ID)
		e.apply(func(s State) State {
			next := s.clone()
			delete(next.deleting, confirmed)
			return next
		})
		if err != nil {
			log.Printf("Failed to delete abandoned chat %s: %v", created.ID, err)
		}
		return nil
	}

	if pinned {
		e.mu.Lock()
		added := !e.pins.Has(created.ID)
		if added {
			e.pins.Toggle(created.ID)
		}
		ids := e.pins.IDs()
		e.mu.Unlock()
		if added {
			e.savePins(ctx, ids)
		}
	}
	if title != DefaultTitle {
		return e.commitRename(ctx, confirmed, title, DefaultTitle, false)
	}
	return nil
}

// Rename updates a chat title optimistically and on the server.
func (e *Engine) Rename(ctx context.Context, id ID, title string) error {
	return e.rename(ctx, id, title, false)
}

// RenameActive renames the open chat and confirms success with a notice.
func (e *Engine) RenameActive(ctx context.Context, title string) error {
	e.mu.Lock()
	active := e.state.Active
	e.mu.Unlock()
	if active.IsZero() {
		return e.reject(OpRename, KindValidation, ErrNoActiveChat,
			Notice{Level: NoticeWarning, Title: "No active chat", Description: "Select or create a chat first."})
	}
	return e.rename(ctx, active, title, true)
}

func (e *Engine) rename(ctx context.Context, id ID, title string, confirm bool) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return e.reject(OpRename, KindValidation, ErrEmptyTitle,
			Notice{Level: NoticeWarning, Title: "Failed to rename chat", Description: "Title cannot be empty."})
	}

	var previous string
	e.mu.Lock()
	i := e.state.index(id)
	if i < 0 {
		e.mu.Unlock()
		return e.reject(OpRename, KindValidation, ErrUnknownChat,
			Notice{Level: NoticeWarning, Title: "Failed to rename chat", Description: ErrUnknownChat.Error()})
	}
	previous = e.state.Chats[i].Title
	next := e.state.clone()
	next.Chats[i].Title = title
	if id.IsConfirmed() {
		next.renames[id] = title
	}
	e.state = next
	e.mu.Unlock()
	e.signal()

	// A provisional chat sends its title once CreateChat confirms it.
	if id.IsProvisional() {
		return nil
	}
	return e.commitRename(ctx, id, title, previous, confirm)
}

// commitRename sends a rename already applied locally and settles the
// pending entry.
func (e *Engine) commitRename(ctx context.Context, id ID, title, previous string, confirm bool) error {
	serverID, _ := id.ServerID()
	_, err := e.backend.RenameChat(ctx, serverID, title)
	e.apply(func(s State) State {
		next := s.clone()
		if next.renames[id] == title {
			delete(next.renames, id)
		}
		if err != nil && e.policy == RollbackSymmetric {
			if i := next.index(id); i >= 0 && next.Chats[i].Title == title {
				next.Chats[i].Title = previous
			}
		}
		return next
	})
	if err != nil {
		return e.remoteFailure(OpRename, "Failed to rename chat", err)
	}
	if confirm {
		e.notifier.Notify(Notice{Level: NoticeInfo, Title: "Chat renamed"})
	}
	return nil
}

// TogglePin flips the pinned flag of a chat, persists the pin set and
// re-sorts the list. Pins never reach the server. A provisional chat is
// pinned locally and enters the pin set once it is confirmed.
func (e *Engine) TogglePin(ctx context.Context, id ID) error {
	serverID, confirmed := id.ServerID()

	e.mu.Lock()
	i := e.state.index(id)
	if i < 0 {
		e.mu.Unlock()
		return e.reject(OpPin, KindValidation, ErrUnknownChat,
			Notice{Level: NoticeWarning, Title: "Failed to pin chat", Description: ErrUnknownChat.Error()})
	}
	next := e.state.clone()
	var ids []string
	if confirmed {
		next.Chats[i].Pinned = e.pins.Toggle(serverID)
		ids = e.pins.IDs()
	} else {
		next.Chats[i].Pinned = !next.Chats[i].Pinned
	}
	SortChats(next.Chats)
	e.state = next
	e.mu.Unlock()
	e.signal()

	if confirmed {
		e.savePins(ctx, ids)
	}
	return nil
}

func (e *Engine) savePins(ctx context.Context, ids []string) {
	if e.pinStore == nil {
		return
	}
	if err := e.pinStore.SavePins(ctx, ids); err != nil {
		log.Printf("Failed to persist pinned chats: %v", err)
	}
}

// Delete removes a chat optimistically. When it was active the first
// remaining chat becomes active. A provisional chat is dropped locally only.
func (e *Engine) Delete(ctx context.Context, id ID) error {
	var removed Chat
	e.mu.Lock()
	i := e.state.index(id)
	if i < 0 {
		e.mu.Unlock()
		return e.reject(OpDelete, KindValidation, ErrUnknownChat,
			Notice{Level: NoticeWarning, Title: "Failed to delete chat", Description: ErrUnknownChat.Error()})
	}
	next := e.state.clone()
	removed = next.Chats[i]
	next.Chats = append(next.Chats[:i], next.Chats[i+1:]...)
	if next.Active == id {
		next.Active = firstChatID(next.Chats)
	}
	if id.IsConfirmed() {
		next.deleting[id] = true
	}
	e.state = next
	e.mu.Unlock()
	e.signal()

	serverID, confirmed := id.ServerID()
	if !confirmed {
		return nil
	}

	_, err := e.backend.DeleteChat(ctx, serverID)
	e.apply(func(s State) State {
		next := s.clone()
		delete(next.deleting, id)
		if err != nil && e.policy == RollbackSymmetric && next.index(id) < 0 {
			next.Chats = append(next.Chats, removed)
			SortChats(next.Chats)
		}
		return next
	})
	if err != nil {
		return e.remoteFailure(OpDelete, "Failed to delete chat", err)
	}

	e.mu.Lock()
	changed := e.pins.Remove(serverID)
	ids := e.pins.IDs()
	e.mu.Unlock()
	if changed {
		e.savePins(ctx, ids)
	}
	return nil
}

// Send appends a provisional human message to the active chat, inserts it on
// the server and, once the insert succeeds, requests an automated reply. The
// reply itself arrives through the message stream.
func (e *Engine) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return e.reject(OpSend, KindValidation, ErrEmptyMessage,
			Notice{Level: NoticeWarning, Title: "Failed to send", Description: "Message cannot be empty."})
	}

	msgID := Provisional(e.newToken())
	var (
		chatID      ID
		prevPreview string
		prevTime    time.Time
		rejectErr   error
		rejectKind  Kind
		notice      Notice
	)

	e.mu.Lock()
	now := e.now()
	chatID = e.state.Active
	i := e.state.index(chatID)
	switch {
	case chatID.IsZero() || i < 0:
		rejectKind, rejectErr = KindValidation, ErrNoActiveChat
		notice = Notice{Level: NoticeWarning, Title: "No active chat", Description: "Select or create a chat first."}
	case chatID.IsProvisional():
		rejectKind, rejectErr = KindValidation, ErrChatNotReady
		notice = Notice{Level: NoticeWarning, Title: "Chat not ready", Description: "Wait for the chat to be created and try again."}
	case !e.lastSend.IsZero() && now.Sub(e.lastSend) < e.cooldown:
		rejectKind, rejectErr = KindThrottled, ErrCooldown
		notice = Notice{Level: NoticeWarning, Title: "Please wait", Description: "You're sending messages too quickly. Try again in a second."}
	case hasUnacknowledged(e.state.Chats[i].Messages):
		rejectKind, rejectErr = KindThrottled, ErrSendInFlight
		notice = Notice{Level: NoticeWarning, Title: "Please wait", Description: "Your previous message is still being sent."}
	default:
		e.lastSend = now
		next := e.state.clone()
		chat := &next.Chats[i]
		prevPreview, prevTime = chat.Preview, chat.Timestamp
		chat.Messages = append(chat.Messages, Message{ID: msgID, Content: content, Timestamp: now})
		chat.Preview = FormatPreview(content)
		chat.Timestamp = now
		SortChats(next.Chats)
		e.state = next
	}
	e.mu.Unlock()
	if rejectErr != nil {
		return e.reject(OpSend, rejectKind, rejectErr, notice)
	}
	e.signal()

	serverID, _ := chatID.ServerID()
	inserted, err := e.backend.InsertHumanMessage(ctx, serverID, content)
	if err != nil {
		e.apply(func(s State) State {
			next := s.clone()
			i := next.index(chatID)
			if i < 0 {
				return next
			}
			chat := &next.Chats[i]
			chat.Messages = removeMessage(chat.Messages, msgID)
			if n := len(chat.Messages); n > 0 {
				chat.Preview = FormatPreview(chat.Messages[n-1].Content)
				chat.Timestamp = chat.Messages[n-1].Timestamp
			} else {
				chat.Preview, chat.Timestamp = prevPreview, prevTime
			}
			SortChats(next.Chats)
			return next
		})
		return e.remoteFailure(OpSend, "Failed to send", err)
	}

	e.apply(func(s State) State {
		next := s.clone()
		if i := next.index(chatID); i >= 0 {
			chat := &next.Chats[i]
			for j := range chat.Messages {
				if chat.Messages[j].ID == msgID {
					chat.Messages[j].serverID = inserted.ID
				}
			}
			chat.Typing = true
		}
		return next
	})

	_, err = e.backend.TriggerAutomatedReply(ctx, serverID, content)
	e.apply(func(s State) State {
		next := s.clone()
		if i := next.index(chatID); i >= 0 {
			next.Chats[i].Typing = false
		}
		return next
	})
	if err != nil {
		if IsRateLimited(err) {
			e.notifier.Notify(Notice{Level: NoticeError, Title: "Rate limit reached", Description: "Too many requests. Please wait a moment and try again."})
		} else {
			e.notifier.Notify(Notice{Level: NoticeError, Title: "Bot error", Description: err.Error()})
		}
		return &Error{Kind: remoteKind(err), Op: OpReply, Err: err}
	}
	return nil
}

func hasUnacknowledged(msgs []Message) bool {
	for _, m := range msgs {
		if m.ID.IsProvisional() && m.serverID == "" {
			return true
		}
	}
	return false
}

func removeMessage(msgs []Message, id ID) []Message {
	var out []Message
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func firstChatID(chats []Chat) ID {
	if len(chats) == 0 {
		return ID{}
	}
	return chats[0].ID
}
