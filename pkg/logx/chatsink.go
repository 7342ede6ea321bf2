package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TextSender delivers operator log lines to a chat.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxText     = 3500
)

type chatLine struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink forwards warn+ records to a chat. It never blocks logging: lines
// over the rate limit or beyond a full queue are dropped.
type chatSink struct {
	mu       sync.Mutex
	sender   TextSender
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc

	queue chan chatLine
	wg    sync.WaitGroup
}

func newChatSink() *chatSink {
	return &chatSink{minLevel: zerolog.WarnLevel, queue: make(chan chatLine, chatQueueSize)}
}

func (c *chatSink) setSender(sender TextSender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

// apply updates the destination and limits, and starts the delivery
// goroutine the first time the sink is enabled.
func (c *chatSink) apply(cfg TelegramConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatID = cfg.ChatID
	c.threadID = cfg.ThreadID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.RatePerSec)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if !cfg.Enabled || c.cancel != nil {
		return
	}
	if cfg.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled without logging.telegram.chat_id")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.deliver(ctx)
	}()
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.queue:
			c.mu.Lock()
			sender := c.sender
			c.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = sender.SendText(sctx, line.chatID, line.threadID, line.text)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	line := chatLine{chatID: c.chatID, threadID: c.threadID}
	ok := line.chatID != 0 && level >= c.minLevel && c.limiter != nil && c.limiter.Allow()
	c.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if line.text = renderRecord(p); line.text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- line:
	default:
	}
	return len(p), nil
}

// renderRecord turns a JSON record into "[LEVEL] message" followed by one
// "- key=value" line per field, sorted by key. Non-JSON input is passed
// through trimmed.
func renderRecord(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return clip(raw, chatMaxText)
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != "time" && k != "level" && k != "message" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", clip(fmt.Sprint(rec[k]), 900))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), 600))
	}
	return clip(b.String(), chatMaxText)
}

// clip shortens s to at most n bytes, marking the cut with "...".
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
