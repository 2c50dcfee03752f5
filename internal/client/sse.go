package client

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"gwi.com/chatsync/internal/chatsync"
)

// ChatsStream subscribes to live chat-list snapshots. The channel is closed
// when the stream ends; cancel stops it early.
func (c *Client) ChatsStream(ctx context.Context) (<-chan []chatsync.ChatRecord, func(), error) {
	return openStream[[]chatsync.ChatRecord](ctx, c, "/api/chats/stream")
}

// MessagesStream subscribes to live message snapshots of one chat.
func (c *Client) MessagesStream(ctx context.Context, chatID string) (<-chan []chatsync.MessageRecord, func(), error) {
	return openStream[[]chatsync.MessageRecord](ctx, c, "/api/chats/"+url.PathEscape(chatID)+"/messages/stream")
}

func (c *Client) streamLogf(format string, args ...any) {
	if c.debug {
		log.Printf(format, args...)
	}
}

// openStream reads server-sent events whose data lines carry a JSON
// snapshot. Only the newest undelivered snapshot is kept.
func openStream[T any](ctx context.Context, c *Client, path string) (<-chan T, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	c.streamLogf("stream open path=%s", path)
	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		c.streamLogf("stream error path=%s status=%d", path, resp.StatusCode)
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan T, 1)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		count := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		var dataLines []string

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if len(dataLines) == 0 {
					continue
				}
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				var snapshot T
				if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
					log.Printf("Dropping malformed snapshot on %s: %v", path, err)
					continue
				}
				count++
				if !deliverLatest(ctx, ch, snapshot) {
					return
				}
				continue
			}
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				dataLines = append(dataLines, strings.TrimPrefix(data, " "))
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.streamLogf("stream read error path=%s: %v", path, err)
		}
		c.streamLogf("stream closed path=%s snapshots=%d", path, count)
	}()

	return ch, cancel, nil
}

// deliverLatest hands v to the reader, replacing a snapshot that has not
// been read yet. The stream goroutine is the only sender.
func deliverLatest[T any](ctx context.Context, ch chan T, v T) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
