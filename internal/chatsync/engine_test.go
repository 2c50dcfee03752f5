package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	createErr  error
	createID   string
	insertErr  error
	replyErr   error
	renameErr  error
	deleteErr  error
	onCreate   func()
	onInsert   func()
	insertedID string

	creates []string
	inserts []string
	replies []string
	renames []string
	deletes []string

	renameCtxErrs []error
}

func (b *fakeBackend) CreateChat(_ context.Context, title string) (*CreatedChat, error) {
	b.mu.Lock()
	b.creates = append(b.creates, title)
	hook := b.onCreate
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if b.createErr != nil {
		return nil, b.createErr
	}
	return &CreatedChat{ID: b.createID, Title: title, CreatedAt: at(10)}, nil
}

func (b *fakeBackend) InsertHumanMessage(_ context.Context, chatID, content string) (*InsertedMessage, error) {
	b.mu.Lock()
	b.inserts = append(b.inserts, chatID+":"+content)
	hook := b.onInsert
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if b.insertErr != nil {
		return nil, b.insertErr
	}
	id := b.insertedID
	if id == "" {
		id = "m-new"
	}
	return &InsertedMessage{ID: id}, nil
}

func (b *fakeBackend) TriggerAutomatedReply(_ context.Context, chatID, content string) (*Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, chatID+":"+content)
	if b.replyErr != nil {
		return nil, b.replyErr
	}
	return &Reply{ID: "r1", Content: "ok", CreatedAt: at(11)}, nil
}

func (b *fakeBackend) RenameChat(ctx context.Context, chatID, title string) (*RenamedChat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renames = append(b.renames, chatID+":"+title)
	b.renameCtxErrs = append(b.renameCtxErrs, ctx.Err())
	if b.renameErr != nil {
		return nil, b.renameErr
	}
	return &RenamedChat{ID: chatID, Title: title, UpdatedAt: at(12)}, nil
}

func (b *fakeBackend) DeleteChat(_ context.Context, chatID string) (*DeletedChat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, chatID)
	if b.deleteErr != nil {
		return nil, b.deleteErr
	}
	return &DeletedChat{ID: chatID}, nil
}

type memPins struct {
	ids     []string
	loadErr error
	saves   [][]string
}

func (p *memPins) LoadPins(context.Context) ([]string, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.ids, nil
}

func (p *memPins) SavePins(_ context.Context, ids []string) error {
	p.ids = ids
	p.saves = append(p.saves, ids)
	return nil
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Title
	}
	return out
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	engine   *Engine
	backend  *fakeBackend
	pins     *memPins
	notices  *noticeRecorder
	clock    *fakeClock
	tokenSeq int
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{createID: "c1"},
		pins:    &memPins{},
		notices: &noticeRecorder{},
		clock:   &fakeClock{now: at(100)},
	}
	all := append([]Option{
		WithNotifier(h.notices),
		WithClock(h.clock.Now),
		WithTokenSource(func() string {
			h.tokenSeq++
			return fmt.Sprintf("tok-%d", h.tokenSeq)
		}),
	}, opts...)
	h.engine = NewEngine(context.Background(), h.backend, h.pins, all...)
	return h
}

// seed loads a chat-list snapshot and opens the given chat.
func (h *harness) seed(t *testing.T, active string, records ...ChatRecord) {
	t.Helper()
	h.engine.ApplyChatSnapshot(records)
	require.NoError(t, h.engine.Select(Confirmed(active)))
}

func TestCreateChatConfirmsIdentityAtHead(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c0", ChatRecord{ID: "c0", Title: "Older", UpdatedAt: at(50)})

	var during State
	h.backend.onCreate = func() { during = h.engine.Snapshot() }

	require.NoError(t, h.engine.CreateChat(context.Background()))

	assert.Equal(t, SelectionProvisional, during.Selection())
	_, ok := h.engine.MessageStreamTarget()
	assert.True(t, ok)
	assert.Equal(t, []string{DefaultTitle}, h.backend.creates)

	s := h.engine.Snapshot()
	require.Len(t, s.Chats, 2)
	assert.Equal(t, Confirmed("c1"), s.Chats[0].ID)
	assert.Equal(t, DefaultTitle, s.Chats[0].Title)
	assert.Equal(t, Confirmed("c1"), s.Active)
	assert.Equal(t, SelectionConfirmed, s.Selection())

	// The server snapshot then includes the chat: still exactly one.
	h.engine.ApplyChatSnapshot([]ChatRecord{
		{ID: "c1", Title: DefaultTitle, UpdatedAt: at(100)},
		{ID: "c0", Title: "Older", UpdatedAt: at(50)},
	})
	s = h.engine.Snapshot()
	assert.Equal(t, []string{"c1", "c0"}, chatIDs(s.Chats))
}

func TestCreateChatSuppressesMessageStreamWhileProvisional(t *testing.T) {
	h := newHarness(t)
	var target string
	var targetOK bool
	h.backend.onCreate = func() { target, targetOK = h.engine.MessageStreamTarget() }

	require.NoError(t, h.engine.CreateChat(context.Background()))
	assert.False(t, targetOK)
	assert.Empty(t, target)

	target, targetOK = h.engine.MessageStreamTarget()
	assert.True(t, targetOK)
	assert.Equal(t, "c1", target)
}

func TestCreateChatFoldsIntoStreamedChat(t *testing.T) {
	h := newHarness(t)
	h.backend.onCreate = func() {
		h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c1", Title: DefaultTitle, UpdatedAt: at(100)}})
	}

	require.NoError(t, h.engine.CreateChat(context.Background()))

	s := h.engine.Snapshot()
	require.Len(t, s.Chats, 1)
	assert.Equal(t, Confirmed("c1"), s.Chats[0].ID)
	assert.Equal(t, Confirmed("c1"), s.Active)
}

func TestCreateChatFailureRemovesProvisional(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c0", ChatRecord{ID: "c0", UpdatedAt: at(1)})
	h.backend.createErr = errors.New("server unavailable")

	err := h.engine.CreateChat(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindRemote, KindOf(err))

	s := h.engine.Snapshot()
	assert.Equal(t, []string{"c0"}, chatIDs(s.Chats))
	assert.Equal(t, Confirmed("c0"), s.Active)
	assert.Equal(t, []string{"Failed to create chat"}, h.notices.titles())
}

func TestDeleteProvisionalChatDeletesOnServerAfterCreate(t *testing.T) {
	h := newHarness(t)
	h.backend.onCreate = func() {
		s := h.engine.Snapshot()
		require.NoError(t, h.engine.Delete(context.Background(), s.Active))
	}

	require.NoError(t, h.engine.CreateChat(context.Background()))

	s := h.engine.Snapshot()
	assert.Empty(t, s.Chats)
	assert.Equal(t, SelectionNone, s.Selection())
	assert.Equal(t, []string{"c1"}, h.backend.deletes)
}

func TestDeletedProvisionalHidesStreamedChat(t *testing.T) {
	h := newHarness(t)
	h.backend.onCreate = func() {
		require.NoError(t, h.engine.Delete(context.Background(), h.engine.Snapshot().Active))
		// The stream delivers the server chat before the create ack.
		h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c1", Title: DefaultTitle, UpdatedAt: at(100)}})
	}
	var during State
	h.engine.backend = &snapshotOnDelete{fakeBackend: h.backend, apply: func() {
		h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c1", Title: DefaultTitle, UpdatedAt: at(100)}})
		during = h.engine.Snapshot()
	}}

	require.NoError(t, h.engine.CreateChat(context.Background()))

	assert.Empty(t, during.Chats)
	assert.Equal(t, SelectionNone, during.Selection())
	assert.Equal(t, []string{"c1"}, h.backend.deletes)
	assert.Empty(t, h.engine.Snapshot().Chats)
}

func TestRenameAndPinCarriedOverFromProvisional(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c0", ChatRecord{ID: "c0", Title: "Older", UpdatedAt: at(150)})

	var during State
	h.backend.onCreate = func() {
		id := h.engine.Snapshot().Active
		require.True(t, id.IsProvisional())
		require.NoError(t, h.engine.Rename(context.Background(), id, "Trip plans"))
		require.NoError(t, h.engine.TogglePin(context.Background(), id))
		// Pins of provisional chats survive a snapshot that does not list them.
		h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c0", Title: "Older", UpdatedAt: at(150)}})
		during = h.engine.Snapshot()
	}

	require.NoError(t, h.engine.CreateChat(context.Background()))

	require.Len(t, during.Chats, 2)
	assert.True(t, during.Chats[0].Pinned)
	assert.Equal(t, "Trip plans", during.Chats[0].Title)
	assert.Empty(t, h.backend.renames, "nothing is sent before the chat exists")
	assert.Empty(t, h.pins.saves)

	s := h.engine.Snapshot()
	assert.Equal(t, []string{"c1", "c0"}, chatIDs(s.Chats))
	assert.Equal(t, "Trip plans", s.Chats[0].Title)
	assert.True(t, s.Chats[0].Pinned)
	assert.Equal(t, []string{"c1:Trip plans"}, h.backend.renames)
	assert.Equal(t, []string{"c1"}, h.pins.ids)
}

func TestTogglePinMovesChatAboveNewer(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1",
		ChatRecord{ID: "c2", UpdatedAt: at(5)},
		ChatRecord{ID: "c1", UpdatedAt: at(1)},
	)
	assert.Equal(t, []string{"c2", "c1"}, chatIDs(h.engine.Snapshot().Chats))

	require.NoError(t, h.engine.TogglePin(context.Background(), Confirmed("c1")))

	s := h.engine.Snapshot()
	assert.Equal(t, []string{"c1", "c2"}, chatIDs(s.Chats))
	assert.True(t, s.Chats[0].Pinned)
	assert.Equal(t, []string{"c1"}, h.pins.ids)
	assert.True(t, IsOrdered(s.Chats))

	// The pin survives the next snapshot.
	h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c2", UpdatedAt: at(6)}, {ID: "c1", UpdatedAt: at(1)}})
	assert.Equal(t, []string{"c1", "c2"}, chatIDs(h.engine.Snapshot().Chats))

	require.NoError(t, h.engine.TogglePin(context.Background(), Confirmed("c1")))
	assert.Empty(t, h.pins.ids)
	assert.Equal(t, []string{"c2", "c1"}, chatIDs(h.engine.Snapshot().Chats))
}

func TestPinsLoadedAtStartup(t *testing.T) {
	pins := &memPins{ids: []string{"c1"}}
	e := NewEngine(context.Background(), &fakeBackend{}, pins, WithNotifier(&noticeRecorder{}))
	e.ApplyChatSnapshot([]ChatRecord{{ID: "c2", UpdatedAt: at(5)}, {ID: "c1", UpdatedAt: at(1)}})
	assert.Equal(t, []string{"c1", "c2"}, chatIDs(e.Snapshot().Chats))
}

func TestPinsLoadFailureStartsEmpty(t *testing.T) {
	pins := &memPins{loadErr: errors.New("corrupt")}
	e := NewEngine(context.Background(), &fakeBackend{}, pins, WithNotifier(&noticeRecorder{}))
	e.ApplyChatSnapshot([]ChatRecord{{ID: "c1", UpdatedAt: at(1)}})
	assert.False(t, e.Snapshot().Chats[0].Pinned)
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Chat", UpdatedAt: at(1)})
	before, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	h.backend.insertErr = errors.New("network down")

	var during Chat
	h.backend.onInsert = func() { during, _ = h.engine.Snapshot().Chat(Confirmed("c1")) }

	err := h.engine.Send(context.Background(), "Hello")
	require.Error(t, err)
	assert.Equal(t, KindRemote, KindOf(err))

	require.Len(t, during.Messages, 1)
	assert.True(t, during.Messages[0].ID.IsProvisional())
	assert.Equal(t, "Hello", during.Preview)

	after, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Empty(t, after.Messages)
	assert.Equal(t, "", after.Preview)
	assert.Equal(t, before.Preview, after.Preview)
	assert.Equal(t, before.Timestamp, after.Timestamp)
	assert.Empty(t, h.backend.replies)
	assert.Equal(t, []string{"Failed to send"}, h.notices.titles())
}

func TestSendFailureRecomputesFromRemainingMessage(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Chat", UpdatedAt: at(1)})
	h.engine.ApplyMessageSnapshot(context.Background(), "c1", []MessageRecord{
		{ID: "m1", Role: RoleAssistant, Content: "Earlier reply", CreatedAt: at(2)},
	})
	h.backend.insertErr = errors.New("boom")

	require.Error(t, h.engine.Send(context.Background(), "Hello"))

	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "Earlier reply", c.Preview)
	assert.Equal(t, at(2), c.Timestamp)
}

func TestSendSuccessRequestsReply(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Chat", UpdatedAt: at(1)})

	require.NoError(t, h.engine.Send(context.Background(), "Hello"))

	assert.Equal(t, []string{"c1:Hello"}, h.backend.inserts)
	assert.Equal(t, []string{"c1:Hello"}, h.backend.replies)
	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	require.Len(t, c.Messages, 1, "provisional message stays until the stream confirms it")
	assert.False(t, c.Typing)
	assert.Empty(t, h.notices.titles())

	h.engine.ApplyMessageSnapshot(context.Background(), "c1", []MessageRecord{
		{ID: "m-new", Role: RoleUser, Content: "Hello", CreatedAt: at(100)},
		{ID: "r1", Role: RoleAssistant, Content: "Hi!", CreatedAt: at(101)},
	})
	c, _ = h.engine.Snapshot().Chat(Confirmed("c1"))
	require.Len(t, c.Messages, 2)
	assert.True(t, c.Messages[0].ID.IsConfirmed())
	assert.Equal(t, "Hi!", c.Preview)
}

func TestSendCooldown(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Chat", UpdatedAt: at(1)})

	require.NoError(t, h.engine.Send(context.Background(), "one"))
	h.clock.Advance(999 * time.Millisecond)
	err := h.engine.Send(context.Background(), "two")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Equal(t, KindThrottled, KindOf(err))
	assert.Len(t, h.backend.inserts, 1)
	assert.Equal(t, []string{"Please wait"}, h.notices.titles())

	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.engine.Send(context.Background(), "three"))
	assert.Len(t, h.backend.inserts, 2)
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)

	err := h.engine.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoActiveChat)
	assert.Equal(t, KindValidation, KindOf(err))

	h.seed(t, "c1", ChatRecord{ID: "c1"})
	err = h.engine.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.backend.inserts)
}

func TestSendOnProvisionalChatRejected(t *testing.T) {
	h := newHarness(t)
	var err error
	h.backend.onCreate = func() { err = h.engine.Send(context.Background(), "too early") }

	require.NoError(t, h.engine.CreateChat(context.Background()))
	assert.ErrorIs(t, err, ErrChatNotReady)
	assert.Empty(t, h.backend.inserts)
}

func TestSendWhileInsertInFlightRejected(t *testing.T) {
	h := newHarness(t, WithCooldown(0))
	h.seed(t, "c1", ChatRecord{ID: "c1"})
	var inner error
	h.backend.onInsert = func() {
		h.backend.onInsert = nil
		inner = h.engine.Send(context.Background(), "second")
	}

	require.NoError(t, h.engine.Send(context.Background(), "first"))
	assert.ErrorIs(t, inner, ErrSendInFlight)
	assert.Len(t, h.backend.inserts, 1)
}

func TestSendReplyFailureKeepsMessage(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1"})
	h.backend.replyErr = errors.New("responder crashed")

	err := h.engine.Send(context.Background(), "Hello")
	require.Error(t, err)
	assert.Equal(t, KindRemote, KindOf(err))

	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Len(t, c.Messages, 1)
	assert.False(t, c.Typing)
	assert.Equal(t, []string{"Bot error"}, h.notices.titles())
}

func TestSendReplyRateLimited(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1"})
	h.backend.replyErr = errors.New("api error (429): rate limit exceeded")

	err := h.engine.Send(context.Background(), "Hello")
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, []string{"Rate limit reached"}, h.notices.titles())
}

func TestAutoTitleIssuesRenameOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: DefaultTitle})
	records := []MessageRecord{
		{ID: "m1", Role: RoleUser, Content: "Capital of France?", CreatedAt: at(1)},
		{ID: "m2", Role: RoleAssistant, Content: "Paris is the capital of France, a historic city.", CreatedAt: at(2)},
	}

	h.engine.ApplyMessageSnapshot(context.Background(), "c1", records)
	h.engine.ApplyMessageSnapshot(context.Background(), "c1", records)
	h.engine.Wait()

	assert.Equal(t, []string{"c1:Paris is the capital of France"}, h.backend.renames)
	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Equal(t, "Paris is the capital of France", c.Title)
}

func TestAutoTitleFailureIsSilent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: ""})
	h.backend.renameErr = errors.New("denied")

	h.engine.ApplyMessageSnapshot(context.Background(), "c1", []MessageRecord{
		{ID: "m1", Role: RoleAssistant, Content: "Hello there, friend of mine."},
	})
	h.engine.Wait()

	assert.Empty(t, h.notices.titles())
	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Equal(t, "Hello there, friend of mine", c.Title)
}

func TestAutoTitleOutlivesSnapshotContext(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: DefaultTitle})
	ctx, cancel := context.WithCancel(context.Background())

	h.engine.ApplyMessageSnapshot(ctx, "c1", []MessageRecord{
		{ID: "m1", Role: RoleAssistant, Content: "Rome was not built in a day, so be patient with it."},
	})
	cancel()
	h.engine.Wait()

	assert.Equal(t, []string{"c1:Rome was not built in a day"}, h.backend.renames)
	assert.Equal(t, []error{nil}, h.backend.renameCtxErrs)

	// Once settled the server title is authoritative again.
	h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c1", Title: "Rome was not built in a day"}})
	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Equal(t, "Rome was not built in a day", c.Title)
}

func TestRenameActiveNotifiesSuccess(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Old"})

	require.NoError(t, h.engine.RenameActive(context.Background(), "  Trip to Rome "))

	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Equal(t, "Trip to Rome", c.Title)
	assert.Equal(t, []string{"c1:Trip to Rome"}, h.backend.renames)
	assert.Equal(t, []string{"Chat renamed"}, h.notices.titles())
}

func TestRenameFailureRollback(t *testing.T) {
	tests := []struct {
		name   string
		policy RollbackPolicy
		want   string
	}{
		{name: "symmetric", policy: RollbackSymmetric, want: "Old"},
		{name: "legacy", policy: RollbackLegacy, want: "New"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, WithRollbackPolicy(tt.policy))
			h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Old"})
			h.backend.renameErr = errors.New("forbidden")

			err := h.engine.Rename(context.Background(), Confirmed("c1"), "New")
			assert.Equal(t, KindRemote, KindOf(err))

			c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
			assert.Equal(t, tt.want, c.Title)
			assert.Equal(t, []string{"Failed to rename chat"}, h.notices.titles())
		})
	}
}

func TestRenameValidation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: "Old"})

	assert.ErrorIs(t, h.engine.Rename(context.Background(), Confirmed("c1"), "  "), ErrEmptyTitle)
	assert.ErrorIs(t, h.engine.Rename(context.Background(), Confirmed("nope"), "x"), ErrUnknownChat)
	assert.Empty(t, h.backend.renames)
}

func TestDeleteActiveSelectsNext(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c2",
		ChatRecord{ID: "c2", UpdatedAt: at(5)},
		ChatRecord{ID: "c1", UpdatedAt: at(1)},
	)
	require.NoError(t, h.engine.TogglePin(context.Background(), Confirmed("c2")))

	require.NoError(t, h.engine.Delete(context.Background(), Confirmed("c2")))

	s := h.engine.Snapshot()
	assert.Equal(t, []string{"c1"}, chatIDs(s.Chats))
	assert.Equal(t, Confirmed("c1"), s.Active)
	assert.Equal(t, []string{"c2"}, h.backend.deletes)
	assert.Empty(t, h.pins.ids)

	require.NoError(t, h.engine.Delete(context.Background(), Confirmed("c1")))
	s = h.engine.Snapshot()
	assert.Empty(t, s.Chats)
	assert.Equal(t, SelectionNone, s.Selection())
	_, ok := h.engine.MessageStreamTarget()
	assert.False(t, ok)
}

func TestDeleteHidesChatFromStaleSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1"}, ChatRecord{ID: "c2"})

	var during State
	stale := []ChatRecord{{ID: "c1"}, {ID: "c2"}}

	// Deliver a snapshot that still contains the chat while the delete is in flight.
	wrapped := &snapshotOnDelete{fakeBackend: h.backend, apply: func() {
		h.engine.ApplyChatSnapshot(stale)
		during = h.engine.Snapshot()
	}}
	h.engine.backend = wrapped

	require.NoError(t, h.engine.Delete(context.Background(), Confirmed("c2")))
	assert.Equal(t, []string{"c1"}, chatIDs(during.Chats))
}

type snapshotOnDelete struct {
	*fakeBackend
	apply func()
}

func (b *snapshotOnDelete) DeleteChat(ctx context.Context, chatID string) (*DeletedChat, error) {
	b.apply()
	return b.fakeBackend.DeleteChat(ctx, chatID)
}

func TestDeleteFailureRollback(t *testing.T) {
	tests := []struct {
		name   string
		policy RollbackPolicy
		want   []string
	}{
		{name: "symmetric", policy: RollbackSymmetric, want: []string{"c2", "c1"}},
		{name: "legacy", policy: RollbackLegacy, want: []string{"c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, WithRollbackPolicy(tt.policy))
			h.seed(t, "c1",
				ChatRecord{ID: "c2", UpdatedAt: at(5)},
				ChatRecord{ID: "c1", UpdatedAt: at(1)},
			)
			h.backend.deleteErr = errors.New("forbidden")

			err := h.engine.Delete(context.Background(), Confirmed("c2"))
			assert.Equal(t, KindRemote, KindOf(err))
			assert.Equal(t, tt.want, chatIDs(h.engine.Snapshot().Chats))
			assert.Equal(t, Confirmed("c1"), h.engine.Snapshot().Active)
		})
	}
}

func TestMessageSnapshotAfterSwitchIgnored(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "c1", ChatRecord{ID: "c1", Title: DefaultTitle}, ChatRecord{ID: "c2", Title: "Two"})
	require.NoError(t, h.engine.Select(Confirmed("c2")))

	h.engine.ApplyMessageSnapshot(context.Background(), "c1", []MessageRecord{{ID: "m1", Role: RoleAssistant, Content: "Late reply for c1"}})

	c, _ := h.engine.Snapshot().Chat(Confirmed("c1"))
	assert.Empty(t, c.Messages)
	assert.Empty(t, h.backend.renames)
}

func TestSelectUnknownChat(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Select(Confirmed("missing"))
	assert.ErrorIs(t, err, ErrUnknownChat)
}

func TestChangesSignalled(t *testing.T) {
	h := newHarness(t)
	first, cancelFirst := h.engine.Changes()
	defer cancelFirst()
	second, cancelSecond := h.engine.Changes()
	cancelSecond()

	h.engine.ApplyChatSnapshot([]ChatRecord{{ID: "c1"}})
	select {
	case <-first:
	default:
		t.Fatal("expected a change signal")
	}
	assert.Len(t, second, 0)
}

func TestSetStale(t *testing.T) {
	h := newHarness(t)
	h.engine.SetStale(true)
	assert.True(t, h.engine.Snapshot().Stale)
	h.engine.ApplyChatSnapshot(nil)
	assert.False(t, h.engine.Snapshot().Stale)
}
