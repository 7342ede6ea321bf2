package app

import (
	"fmt"
	"strings"
	"time"

	"upwatch/internal/config"
	"upwatch/internal/notifier"
	"upwatch/internal/observability/pprof"
	"upwatch/internal/retry"
	"upwatch/internal/runtime/sdnotify"
	"upwatch/internal/task/engine"
	"upwatch/internal/task/scheduler"
	"upwatch/internal/transport/telegram"
	logx "upwatch/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		JSON:    lc.JSON,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapMode(cfg *config.Config) (string, error) {
	switch m := cfg.EffectiveMode(); m {
	case config.ModeDurable, config.ModeInProcess:
		return m, nil
	default:
		return "", fmt.Errorf("mode: unknown %q (want %s or %s)", cfg.Mode, config.ModeDurable, config.ModeInProcess)
	}
}

func mapPolicy(cfg *config.Config) (retry.Policy, error) {
	cc := cfg.Controller
	d := retry.DefaultPolicy()
	if cc.Multiplier < 0 || cc.DefaultTries < 0 || cc.MaxURLLength < 0 {
		return retry.Policy{}, fmt.Errorf("controller: multiplier, default_tries and max_url_length must be >= 0")
	}
	idle, err := config.ParseDurationOrDefault("controller.idle_interval", cc.IdleInterval, d.IdleInterval)
	if err != nil {
		return retry.Policy{}, err
	}
	maxSleep, err := config.ParseDurationOrDefault("controller.max_sleep", cc.MaxSleep, d.MaxSleep)
	if err != nil {
		return retry.Policy{}, err
	}
	delay, err := config.ParseDurationOrDefault("controller.default_delay", cc.DefaultDelay, d.DefaultDelay)
	if err != nil {
		return retry.Policy{}, err
	}
	if delay < time.Second {
		return retry.Policy{}, fmt.Errorf("controller.default_delay must be at least 1s")
	}
	probeTimeout, err := config.ParseDurationOrDefault("probe.timeout", cfg.Probe.Timeout, d.ProbeTimeout)
	if err != nil {
		return retry.Policy{}, err
	}
	p := retry.Policy{
		Multiplier:   cc.Multiplier,
		IdleInterval: idle,
		MaxSleep:     maxSleep,
		ProbeTimeout: probeTimeout,
		DefaultTries: cc.DefaultTries,
		DefaultDelay: delay,
		MaxURLLength: cc.MaxURLLength,
	}
	if p.Multiplier == 0 {
		p.Multiplier = d.Multiplier
	}
	if p.DefaultTries == 0 {
		p.DefaultTries = d.DefaultTries
	}
	if p.MaxURLLength == 0 {
		p.MaxURLLength = d.MaxURLLength
	}
	return p, nil
}

func mapPoolConfig(cfg *config.Config) (engine.Config, error) {
	pc := cfg.Pool
	if pc.MinWorkers < 0 || pc.MaxWorkers < 0 || pc.PreferredDepth < 0 || pc.QueueSize < 0 || pc.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("pool: sizes must be >= 0")
	}
	if pc.MaxWorkers > 0 && pc.MinWorkers > pc.MaxWorkers {
		return engine.Config{}, fmt.Errorf("pool.min_workers (%d) exceeds pool.max_workers (%d)", pc.MinWorkers, pc.MaxWorkers)
	}
	pull, err := config.ParseDurationField("pool.pull_timeout", pc.PullTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	grace, err := config.ParseDurationField("pool.shutdown_grace", pc.ShutdownGrace)
	if err != nil {
		return engine.Config{}, err
	}
	timeout, err := config.ParseDurationField("pool.default_timeout", pc.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	// Zero fields take the engine defaults.
	return engine.Config{
		MinWorkers:     pc.MinWorkers,
		MaxWorkers:     pc.MaxWorkers,
		PreferredDepth: pc.PreferredDepth,
		QueueSize:      pc.QueueSize,
		PullTimeout:    pull,
		ShutdownGrace:  grace,
		DefaultTimeout: timeout,
		HistorySize:    pc.HistorySize,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	out := notifier.Config{
		Enabled:         cfg.NotifierEnabled(),
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", nc.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	if nc.SMTP.Enabled && nc.SMTP.Port < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.smtp.port must be >= 0")
	}
	if nc.Webhook.Enabled && strings.TrimSpace(nc.Webhook.URL) == "" {
		return notifier.Config{}, fmt.Errorf("notifier.webhook.url is required when the webhook is enabled")
	}
	if nc.Telegram.Enabled && strings.TrimSpace(nc.Telegram.Token) == "" {
		return notifier.Config{}, fmt.Errorf("notifier.telegram.token is required when telegram is enabled")
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Notifier.Telegram
	if !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("notifier.telegram.timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: strings.TrimSpace(tc.Token), Timeout: timeout}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	mc := cfg.Maintenance
	if tz := strings.TrimSpace(mc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Timezone: mc.Timezone, DefaultTimeout: time.Minute}, nil
}

// maintenancePlan is the resolved housekeeping schedule. Empty specs are off.
type maintenancePlan struct {
	Retention time.Duration
	PurgeSpec string
	StatsSpec string
}

func mapMaintenance(cfg *config.Config) (maintenancePlan, error) {
	mc := cfg.Maintenance
	retention, err := config.ParseDurationField("maintenance.retention", mc.Retention)
	if err != nil {
		return maintenancePlan{}, err
	}
	plan := maintenancePlan{Retention: retention}
	if retention > 0 {
		plan.PurgeSpec = specOrDefault(mc.PurgeSpec, "@daily")
	}
	plan.StatsSpec = specOrDefault(mc.StatsSpec, "@every 1h")
	for key, spec := range map[string]string{"maintenance.purge_spec": plan.PurgeSpec, "maintenance.stats_spec": plan.StatsSpec} {
		if spec == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return maintenancePlan{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	return plan, nil
}

func specOrDefault(raw, def string) string {
	s := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(s, "off"):
		return ""
	case s == "":
		return def
	}
	return s
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	// WriteTimeout stays 0 by default so /profile works.
	write, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
	}, nil
}

func mapSystemdConfig(cfg *config.Config) sdnotify.Config {
	return sdnotify.Config{Notify: cfg.Systemd.Notify, Watchdog: cfg.Systemd.Watchdog}
}

// validate runs every mapper; a config that passes can be applied live.
func validate(cfg *config.Config) error {
	if _, err := mapMode(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	policy, err := mapPolicy(cfg)
	if err != nil {
		return err
	}
	pool, err := mapPoolConfig(cfg)
	if err != nil {
		return err
	}
	// An attempt runs as one pool task and must outlive its probe.
	if pool.DefaultTimeout > 0 && pool.DefaultTimeout <= policy.ProbeTimeout {
		return fmt.Errorf("pool.default_timeout (%s) must exceed probe.timeout (%s)", pool.DefaultTimeout, policy.ProbeTimeout)
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenance(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWebhook(cfg); err != nil {
		return err
	}
	if lt := cfg.Logging.Telegram; lt.Enabled && !cfg.Notifier.Telegram.Enabled {
		return fmt.Errorf("logging.telegram needs notifier.telegram enabled (it shares the bot)")
	}
	return nil
}
