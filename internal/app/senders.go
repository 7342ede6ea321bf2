package app

import (
	"strings"
	"time"

	"upwatch/internal/config"
	"upwatch/internal/notifier"
	"upwatch/internal/transport/telegram"
	logx "upwatch/pkg/logx"
	"upwatch/pkg/tokencache"
)

type webhookPlan struct {
	Enabled bool
	URL     string
	Timeout time.Duration
	Skew    time.Duration
	// Either Token or the client credentials triple is set.
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

func mapWebhook(cfg *config.Config) (webhookPlan, error) {
	wc := cfg.Notifier.Webhook
	if !wc.Enabled {
		return webhookPlan{}, nil
	}
	timeout, err := config.ParseDurationOrDefault("notifier.webhook.timeout", wc.Timeout, 10*time.Second)
	if err != nil {
		return webhookPlan{}, err
	}
	skew, err := config.ParseDurationOrDefault("notifier.webhook.token_skew", wc.TokenSkew, 30*time.Second)
	if err != nil {
		return webhookPlan{}, err
	}
	return webhookPlan{
		Enabled:      true,
		URL:          strings.TrimSpace(wc.URL),
		Timeout:      timeout,
		Skew:         skew,
		Token:        strings.TrimSpace(wc.Token),
		TokenURL:     strings.TrimSpace(wc.TokenURL),
		ClientID:     wc.ClientID,
		ClientSecret: wc.ClientSecret,
	}, nil
}

// buildSenders wires the notice channels enabled in cfg. tg may be nil.
func buildSenders(cfg *config.Config, tg *telegram.Client, log logx.Logger) (notifier.Senders, error) {
	var s notifier.Senders

	if sc := cfg.Notifier.SMTP; sc.Enabled {
		s.Email = notifier.NewSMTPSender(notifier.SMTPConfig{
			Host:     sc.Host,
			Port:     sc.Port,
			From:     sc.From,
			Username: sc.Username,
			Password: sc.Password,
			StartTLS: sc.StartTLS,
		})
	}
	if tg != nil {
		s.Telegram = notifier.NewTelegramSender(tg)
	}

	wp, err := mapWebhook(cfg)
	if err != nil {
		return notifier.Senders{}, err
	}
	if wp.Enabled {
		client := notifier.NewHTTPClient(wp.Timeout)
		var tokens *tokencache.Cache
		switch {
		case wp.TokenURL != "":
			tokens = tokencache.New(notifier.ClientCredentials(client, wp.TokenURL, wp.ClientID, wp.ClientSecret), tokencache.WithSkew(wp.Skew))
		case wp.Token != "":
			tokens = tokencache.New(notifier.StaticToken(wp.Token))
		}
		s.Webhook = notifier.NewWebhookSender(wp.URL, client, tokens)
	}

	log.Info("notice channels",
		logx.Bool("email", s.Email != nil),
		logx.Bool("telegram", s.Telegram != nil),
		logx.Bool("webhook", s.Webhook != nil),
	)
	return s, nil
}
