// Package sdnotify reports service state to systemd (Type=notify units).
// Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	logx "upwatch/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Config struct {
	Notify   bool
	Watchdog bool
}

type Notifier struct {
	cfg Config
	log logx.Logger

	send     func(unsetEnv bool, state string) (bool, error)
	interval func(unsetEnv bool) (time.Duration, error)
}

func New(cfg Config, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "sdnotify")),
		send:     daemon.SdNotify,
		interval: daemon.SdWatchdogEnabled,
	}
}

func (n *Notifier) Ready() { n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) {
	if n == nil || !n.cfg.Notify {
		return
	}
	sent, err := n.send(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Watchdog pings systemd at half of WatchdogSec until ctx is done. It
// returns immediately when the unit has no watchdog configured.
func (n *Notifier) Watchdog(ctx context.Context) {
	if n == nil || !n.cfg.Notify || !n.cfg.Watchdog {
		return
	}
	every, err := n.interval(false)
	if err != nil {
		n.log.Warn("watchdog interval unavailable", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Info("watchdog enabled", logx.Duration("every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := n.send(false, daemon.SdNotifyWatchdog); err != nil {
				n.log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
