package config

import (
	"reflect"
	"sort"
	"strings"

	logx "upwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.EffectiveMode() != newCfg.EffectiveMode() {
		changed = append(changed, "mode")
		attrs = append(attrs, logx.String("mode", newCfg.EffectiveMode()))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage is applied at startup only; the app warns about it.
	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Controller != newCfg.Controller {
		changed = append(changed, "controller")
		attrs = append(attrs,
			logx.Int("controller.multiplier", newCfg.Controller.Multiplier),
			logx.String("controller.idle_interval", newCfg.Controller.IdleInterval),
			logx.String("controller.max_sleep", newCfg.Controller.MaxSleep),
			logx.Int("controller.default_tries", newCfg.Controller.DefaultTries),
			logx.String("controller.default_delay", newCfg.Controller.DefaultDelay),
		)
	}

	if oldCfg.Probe != newCfg.Probe {
		changed = append(changed, "probe")
		attrs = append(attrs, logx.String("probe.timeout", newCfg.Probe.Timeout))
	}

	if oldCfg.Pool != newCfg.Pool {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.min_workers", newCfg.Pool.MinWorkers),
			logx.Int("pool.max_workers", newCfg.Pool.MaxWorkers),
			logx.Int("pool.preferred_depth", newCfg.Pool.PreferredDepth),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		n := newCfg.Notifier
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.NotifierEnabled()),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
			logx.Bool("notifier.smtp", n.SMTP.Enabled),
			logx.Bool("notifier.telegram", n.Telegram.Enabled),
			logx.Bool("notifier.webhook", n.Webhook.Enabled),
			logx.Bool("notifier.webhook_token_set", n.Webhook.Token != "" || n.Webhook.ClientSecret != ""),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.retention", newCfg.Maintenance.Retention),
			logx.String("maintenance.purge_spec", newCfg.Maintenance.PurgeSpec),
			logx.String("maintenance.stats_spec", newCfg.Maintenance.StatsSpec),
		)
	}

	// Pprof (never log token)
	op, np := oldCfg.Pprof, newCfg.Pprof
	op.Token, np.Token = tokenMark(op.Token), tokenMark(np.Token)
	if op != np {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}

// EffectiveMode returns the normalized mode, ModeDurable when unset.
func (c *Config) EffectiveMode() string {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	if m == "" {
		return ModeDurable
	}
	return m
}

// tokenMark compares secrets by presence only.
func tokenMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
