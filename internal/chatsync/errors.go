package chatsync

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind classifies failures of user-initiated operations.
type Kind int

const (
	// KindValidation is input rejected before any remote call.
	KindValidation Kind = iota + 1
	// KindThrottled is a send rejected locally by the cooldown.
	KindThrottled
	// KindRemote is a failed remote mutation.
	KindRemote
	// KindRateLimited is a remote failure reported as throttling by the server.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindThrottled:
		return "throttled"
	case KindRemote:
		return "remote"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

type Op string

const (
	OpCreateChat Op = "create chat"
	OpRename     Op = "rename chat"
	OpPin        Op = "pin chat"
	OpDelete     Op = "delete chat"
	OpSelect     Op = "select chat"
	OpSend       Op = "send message"
	OpReply      Op = "request reply"
)

var (
	ErrNoActiveChat = errors.New("no active chat")
	ErrUnknownChat  = errors.New("chat not found")
	ErrChatNotReady = errors.New("chat is still being created")
	ErrEmptyMessage = errors.New("message is empty")
	ErrEmptyTitle   = errors.New("title is empty")
	ErrCooldown     = errors.New("sending too quickly")
	ErrSendInFlight = errors.New("previous message is still being sent")
)

type Error struct {
	Kind Kind
	Op   Op
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

var rateLimitPattern = regexp.MustCompile(`(?i)429|rate limit`)

// IsRateLimited reports whether a remote error message indicates throttling.
func IsRateLimited(err error) bool {
	return err != nil && rateLimitPattern.MatchString(err.Error())
}

func remoteKind(err error) Kind {
	if IsRateLimited(err) {
		return KindRateLimited
	}
	return KindRemote
}
