// Package telegram sends plain text through the Telegram Bot API. upwatch
// only talks to Telegram to deliver notices and mirrored log records, so
// there is no update polling here.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	logx "upwatch/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token string
	// Timeout bounds each Bot API call.
	Timeout time.Duration
	// APIURL overrides the Bot API endpoint (tests, local Bot API servers).
	APIURL string
	// Offline skips the getMe handshake at construction.
	Offline bool
}

type Client struct {
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

// SendText posts text to a chat, or to a forum topic when threadID is set.
// Long texts go out as several messages.
func (c *Client) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	chat := &tele.Chat{ID: chatID}
	opt := &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              threadID,
	}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(chat, chunk, opt); err != nil {
			c.log.Debug("send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
