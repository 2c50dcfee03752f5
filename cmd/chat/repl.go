package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"gwi.com/chatsync/internal/chatsync"
	"gwi.com/chatsync/internal/client"
	"gwi.com/chatsync/internal/config"
	"gwi.com/chatsync/internal/syncer"
)

const helpText = `Commands:
  /new                  start a new chat
  /list                 list chats
  /open N               open chat N
  /rename TITLE         rename the open chat
  /rename-chat N TITLE  rename chat N
  /pin N                pin or unpin chat N
  /delete N             delete chat N
  /quit                 leave
Anything else is sent to the open chat.
`

var errQuit = errors.New("quit")

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Open the interactive chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd.Context())
		},
	}
}

func runRepl(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	local, err := openLocal()
	if err != nil {
		return err
	}
	defer local.Close()

	c, err := resumeSession(ctx, local)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptColor.Sprint("> "),
		InterruptPrompt:   "^C",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	out := rl.Stdout()

	engine := chatsync.NewEngine(ctx, c, local,
		chatsync.WithNotifier(newColorNotifier(out)),
		chatsync.WithCooldown(time.Duration(config.AppConfig.SendCooldownMS)*time.Millisecond),
	)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- syncer.New(c, engine,
			syncer.WithPermanent(client.IsPermanent),
			syncer.WithDebug(config.AppConfig.Debug()),
		).Run(ctx)
	}()

	r := &repl{engine: engine, out: out, render: newRenderer(out)}
	go r.watch(ctx)

	if user, ok := c.CurrentUser(); ok {
		infoColor.Fprintf(out, "Signed in as %s. Type /help for commands.\n", user.Email)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := rl.Readline()
			if err != nil {
				readErr <- err
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-syncErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("lost connection to chat service: %w", err)
			}
			return nil
		case err := <-readErr:
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if err := r.handle(ctx, line); errors.Is(err, errQuit) {
				return nil
			} else if err != nil {
				warnColor.Fprintf(out, "%v\n", err)
			}
		}
	}
}

// Engine is what the REPL drives.
type Engine interface {
	Snapshot() chatsync.State
	Changes() (<-chan struct{}, func())
	Select(id chatsync.ID) error
	CreateChat(ctx context.Context) error
	Rename(ctx context.Context, id chatsync.ID, title string) error
	RenameActive(ctx context.Context, title string) error
	TogglePin(ctx context.Context, id chatsync.ID) error
	Delete(ctx context.Context, id chatsync.ID) error
	Send(ctx context.Context, content string) error
}

type repl struct {
	engine Engine
	out    io.Writer
	render *renderer

	// listing is the order chats were shown in by the last /list.
	listing []chatsync.ID
	sends   sync.WaitGroup
}

func (r *repl) watch(ctx context.Context) {
	changes, stop := r.engine.Changes()
	defer stop()
	r.render.render(r.engine.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			r.render.render(r.engine.Snapshot())
		}
	}
}

func splitCommand(line string) (name, rest string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, rest, _ = strings.Cut(line, " ")
	return name, strings.TrimSpace(rest)
}

// chatAt resolves a 1-based position in the last listing, falling back to
// the current order.
func (r *repl) chatAt(arg string) (chatsync.ID, error) {
	ids := r.listing
	if len(ids) == 0 {
		for _, c := range r.engine.Snapshot().Chats {
			ids = append(ids, c.ID)
		}
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(ids) {
		return chatsync.ID{}, fmt.Errorf("no chat number %q; use /list", arg)
	}
	return ids[n-1], nil
}

func (r *repl) handle(ctx context.Context, line string) error {
	name, rest := splitCommand(line)
	switch name {
	case "":
		if rest == "" {
			return nil
		}
		r.render.noteSent(rest)
		r.sends.Add(1)
		go func() {
			defer r.sends.Done()
			if err := quiet(r.engine.Send(ctx, rest)); err != nil {
				warnColor.Fprintf(r.out, "%v\n", err)
			}
		}()
		return nil
	case "/help":
		fmt.Fprint(r.out, helpText)
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/new":
		return quiet(r.engine.CreateChat(ctx))
	case "/list":
		chats := r.engine.Snapshot().Chats
		r.listing = r.listing[:0]
		for i, c := range chats {
			r.listing = append(r.listing, c.ID)
			fmt.Fprintln(r.out, formatChatLine(i+1, c))
		}
		if len(chats) == 0 {
			fmt.Fprintln(r.out, "No chats yet. Use /new to start one.")
		}
		return nil
	case "/open":
		id, err := r.chatAt(rest)
		if err != nil {
			return err
		}
		return r.engine.Select(id)
	case "/rename":
		return quiet(r.engine.RenameActive(ctx, rest))
	case "/rename-chat":
		arg, title, _ := strings.Cut(rest, " ")
		id, err := r.chatAt(arg)
		if err != nil {
			return err
		}
		return quiet(r.engine.Rename(ctx, id, strings.TrimSpace(title)))
	case "/pin":
		id, err := r.chatAt(rest)
		if err != nil {
			return err
		}
		return quiet(r.engine.TogglePin(ctx, id))
	case "/delete":
		id, err := r.chatAt(rest)
		if err != nil {
			return err
		}
		return quiet(r.engine.Delete(ctx, id))
	default:
		return fmt.Errorf("unknown command %s; try /help", name)
	}
}

// quiet drops engine errors of mutations, which the notifier has already
// reported.
func quiet(err error) error {
	var syncErr *chatsync.Error
	if errors.As(err, &syncErr) {
		return nil
	}
	return err
}
