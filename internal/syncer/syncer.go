package syncer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gwi.com/chatsync/internal/chatsync"
)

var errStreamClosed = errors.New("stream closed")

// Source opens the live snapshot streams. Each channel is closed when its
// stream ends; the cancel func releases it early.
type Source interface {
	ChatsStream(ctx context.Context) (<-chan []chatsync.ChatRecord, func(), error)
	MessagesStream(ctx context.Context, chatID string) (<-chan []chatsync.MessageRecord, func(), error)
}

// Engine is the part of chatsync.Engine the syncer drives.
type Engine interface {
	ApplyChatSnapshot(records []chatsync.ChatRecord)
	ApplyMessageSnapshot(ctx context.Context, chatID string, records []chatsync.MessageRecord)
	SetStale(stale bool)
	Changes() (<-chan struct{}, func())
	MessageStreamTarget() (string, bool)
}

type Option func(*Syncer)

// WithBackOff overrides the reconnect policy. The factory is called once
// per stream.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Syncer) { s.newBackOff = newBackOff }
}

// WithPermanent marks errors after which a stream is not reopened.
func WithPermanent(permanent func(error) bool) Option {
	return func(s *Syncer) { s.permanent = permanent }
}

func WithDebug(debug bool) Option {
	return func(s *Syncer) { s.debug = debug }
}

// DefaultBackOff retries every stream forever, from 500ms up to 30s apart.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Syncer keeps the chat-list stream open and follows the active chat with a
// message stream.
type Syncer struct {
	source     Source
	engine     Engine
	newBackOff func() backoff.BackOff
	permanent  func(error) bool
	debug      bool
}

func New(source Source, engine Engine, opts ...Option) *Syncer {
	s := &Syncer{
		source:     source,
		engine:     engine,
		newBackOff: DefaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) debugf(format string, args ...any) {
	if s.debug {
		log.Printf(format, args...)
	}
}

// Run blocks until ctx is done or the chat-list stream fails permanently.
func (s *Syncer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, unsubscribe := s.engine.Changes()
	defer unsubscribe()

	var wg sync.WaitGroup
	defer wg.Wait()

	fatal := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.runChats(ctx); err != nil {
			fatal <- err
		}
	}()

	var (
		current    string
		stopStream context.CancelFunc
	)
	follow := func() {
		target, ok := s.engine.MessageStreamTarget()
		if ok && target == current && stopStream != nil {
			return
		}
		if stopStream != nil {
			s.debugf("closing message stream for chat %s", current)
			stopStream()
			stopStream = nil
		}
		current = ""
		if !ok {
			return
		}
		current = target
		streamCtx, stop := context.WithCancel(ctx)
		stopStream = stop
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runMessages(streamCtx, target)
		}()
	}
	defer func() {
		if stopStream != nil {
			stopStream()
		}
	}()

	follow()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fatal:
			return err
		case <-changes:
			follow()
		}
	}
}

func (s *Syncer) runChats(ctx context.Context) error {
	return s.reconnect(ctx, "chat list", func(ctx context.Context) (bool, error) {
		ch, cancel, err := s.source.ChatsStream(ctx)
		if err != nil {
			return false, err
		}
		defer cancel()
		s.debugf("chat list stream open")

		delivered := false
		for records := range ch {
			s.engine.ApplyChatSnapshot(records)
			delivered = true
		}
		return delivered, errStreamClosed
	}, func() {
		s.engine.SetStale(true)
	})
}

func (s *Syncer) runMessages(ctx context.Context, chatID string) {
	err := s.reconnect(ctx, "messages of chat "+chatID, func(ctx context.Context) (bool, error) {
		ch, cancel, err := s.source.MessagesStream(ctx, chatID)
		if err != nil {
			return false, err
		}
		defer cancel()
		s.debugf("message stream open for chat %s", chatID)

		delivered := false
		for records := range ch {
			// Results of a stream that has been switched away from are dropped.
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			s.engine.ApplyMessageSnapshot(ctx, chatID, records)
			delivered = true
		}
		return delivered, errStreamClosed
	}, nil)
	if err != nil {
		log.Printf("Message stream for chat %s stopped: %v", chatID, err)
	}
}

// reconnect runs connect until ctx is done, waiting between attempts as the
// backoff policy says. A connection that delivered data resets the policy.
// It returns nil when ctx is done and the last error otherwise.
func (s *Syncer) reconnect(ctx context.Context, name string, connect func(context.Context) (bool, error), down func()) error {
	b := s.newBackOff()
	for {
		healthy, err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if down != nil {
			down()
		}
		if s.permanent != nil && s.permanent(err) {
			return err
		}
		if healthy {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		log.Printf("%s stream down: %v; reconnecting in %s", name, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
