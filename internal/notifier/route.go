package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNoRoute = errors.New("notifier: no sender for target")

// Sender delivers one notice over one channel.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n Notice) error

func (f SenderFunc) Send(ctx context.Context, n Notice) error { return f(ctx, n) }

const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelWebhook  = "webhook"
)

// Senders holds the configured channels. Nil entries are disabled.
type Senders struct {
	Telegram Sender
	Email    Sender
	Webhook  Sender
}

// Route picks the channel for a requester identity.
func (s Senders) Route(target string) (string, Sender, error) {
	target = strings.TrimSpace(target)
	var (
		ch     string
		sender Sender
	)
	switch {
	case strings.HasPrefix(target, TelegramPrefix):
		ch, sender = ChannelTelegram, s.Telegram
	case strings.Contains(target, "@"):
		ch, sender = ChannelEmail, s.Email
	default:
		ch, sender = ChannelWebhook, s.Webhook
	}
	if sender == nil {
		return ch, nil, fmt.Errorf("%w: %s channel not configured", ErrNoRoute, ch)
	}
	return ch, sender, nil
}

// TelegramPrefix marks a Telegram chat target.
const TelegramPrefix = "tg:"

// ParseTelegramTarget parses "tg:<chat id>[/<thread id>]".
func ParseTelegramTarget(target string) (chatID int64, threadID int, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(target), TelegramPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not a telegram target: %q", target)
	}
	chat, thread, hasThread := strings.Cut(rest, "/")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("bad telegram chat id in %q", target)
	}
	if hasThread {
		threadID, err = strconv.Atoi(thread)
		if err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("bad telegram thread id in %q", target)
		}
	}
	return chatID, threadID, nil
}
