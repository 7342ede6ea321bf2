package notifier

import "context"

// TextSender is the slice of the Telegram transport the notifier needs.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

// TelegramSender posts notices to "tg:" targets.
type TelegramSender struct {
	client TextSender
}

func NewTelegramSender(client TextSender) *TelegramSender {
	return &TelegramSender{client: client}
}

func (s *TelegramSender) Send(ctx context.Context, n Notice) error {
	chatID, threadID, err := ParseTelegramTarget(n.Target)
	if err != nil {
		return err
	}
	subject, body := Render(n)
	return s.client.SendText(ctx, chatID, threadID, subject+"\n\n"+body)
}
