package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"gwi.com/chatsync/internal/chatsync"
)

var (
	// Colors.
	promptColor = color.New(color.Bold)
	userColor   = color.New(color.Bold)
	botColor    = color.New(color.FgCyan)
	infoColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

type colorNotifier struct {
	out io.Writer
}

func newColorNotifier(out io.Writer) colorNotifier {
	return colorNotifier{out: out}
}

func (n colorNotifier) Notify(notice chatsync.Notice) {
	c := infoColor
	switch notice.Level {
	case chatsync.NoticeWarning:
		c = warnColor
	case chatsync.NoticeError:
		c = errorColor
	}
	if notice.Description == "" {
		c.Fprintf(n.out, "! %s\n", notice.Title)
		return
	}
	c.Fprintf(n.out, "! %s: %s\n", notice.Title, notice.Description)
}

func formatChatLine(n int, chat chatsync.Chat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d ", n)
	if chat.Pinned {
		b.WriteString("* ")
	} else {
		b.WriteString("  ")
	}
	b.WriteString(chat.Title)
	if chat.ID.IsProvisional() {
		b.WriteString(" (creating)")
	}
	if chat.Preview != "" {
		b.WriteString("  | ")
		b.WriteString(chat.Preview)
	}
	if !chat.Timestamp.IsZero() {
		b.WriteString("  ")
		b.WriteString(chat.Timestamp.Local().Format("Jan 2 15:04"))
	}
	return b.String()
}

// renderer prints what changed in the open chat since the last state it saw.
type renderer struct {
	out io.Writer

	mu      sync.Mutex
	active  chatsync.ID
	title   string
	printed map[chatsync.ID]bool
	typing  bool
	stale   bool
	// sent counts lines typed here whose authoritative copy has not been
	// seen yet; the terminal already shows them.
	sent map[string]int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: map[chatsync.ID]bool{}, sent: map[string]int{}}
}

func (r *renderer) noteSent(content string) {
	r.mu.Lock()
	r.sent[content]++
	r.mu.Unlock()
}

func (r *renderer) render(s chatsync.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Stale != r.stale {
		r.stale = s.Stale
		if s.Stale {
			warnColor.Fprintln(r.out, "Connection lost, reconnecting...")
		} else {
			infoColor.Fprintln(r.out, "Reconnected.")
		}
	}

	chat, ok := s.ActiveChat()
	if !ok {
		r.active = chatsync.ID{}
		return
	}

	if chat.ID != r.active {
		// A provisional chat that gained its server identity is the same chat.
		adopted := r.active.IsProvisional() && chat.ID.IsConfirmed() && len(chat.Messages) == 0
		r.active = chat.ID
		r.title = chat.Title
		r.typing = false
		if !adopted {
			r.printed = map[chatsync.ID]bool{}
			infoColor.Fprintf(r.out, "== %s ==\n", chat.Title)
			for _, m := range chat.Messages {
				r.printMessage(m)
			}
			return
		}
	}

	if chat.Title != r.title {
		r.title = chat.Title
		dimColor.Fprintf(r.out, "(chat title: %s)\n", chat.Title)
	}

	for _, m := range chat.Messages {
		if m.ID.IsProvisional() || r.printed[m.ID] {
			continue
		}
		if !m.IsBot && r.sent[m.Content] > 0 {
			r.sent[m.Content]--
			r.printed[m.ID] = true
			continue
		}
		r.printMessage(m)
	}

	if chat.Typing && !r.typing {
		dimColor.Fprintln(r.out, "assistant is typing...")
	}
	r.typing = chat.Typing
}

func (r *renderer) printMessage(m chatsync.Message) {
	r.printed[m.ID] = true
	if m.IsBot {
		botColor.Fprintf(r.out, "assistant: %s\n", m.Content)
		return
	}
	userColor.Fprintf(r.out, "you: %s\n", m.Content)
}
