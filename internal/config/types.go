package config

// Config is the upwatch configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "30m").
// Omitted fields take the defaults documented on each section.
type Config struct {
	// Mode selects the retry driver: "durable" (default) polls the job store;
	// "inprocess" keeps chains in memory on the deadline queue.
	Mode string `json:"mode,omitempty"`

	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Controller  ControllerConfig  `json:"controller"`
	Probe       ProbeConfig       `json:"probe"`
	Pool        PoolConfig        `json:"pool"`
	Notifier    NotifierConfig    `json:"notifier"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Pprof       PprofConfig       `json:"pprof,omitempty"`
	Systemd     SystemdConfig     `json:"systemd,omitempty"`
}

const (
	ModeDurable   = "durable"
	ModeInProcess = "inprocess"
)

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
	// Telegram mirrors warn+ records to a chat through the notifier's bot.
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the job store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/upwatch.db }
//
// Defaults: driver "sqlite", path "./data/upwatch.db", busy_timeout "5s".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ControllerConfig tunes the retry scheduler.
//
// Defaults: multiplier 2, idle_interval "10s", max_sleep "30s",
// default_tries 10, default_delay "30m", max_url_length 2000.
type ControllerConfig struct {
	Multiplier   int    `json:"multiplier,omitempty"`
	IdleInterval string `json:"idle_interval,omitempty"`
	MaxSleep     string `json:"max_sleep,omitempty"`
	DefaultTries int    `json:"default_tries,omitempty"`
	DefaultDelay string `json:"default_delay,omitempty"`
	MaxURLLength int    `json:"max_url_length,omitempty"`
}

// ProbeConfig tunes the HTTP prober. Default timeout "10s".
type ProbeConfig struct {
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// PoolConfig sizes the elastic worker pool used by the in-process driver
// and the maintenance jobs.
//
// Defaults: min_workers 1, max_workers 20, preferred_depth 5,
// queue_size 1024, pull_timeout "1s", shutdown_grace "3s", history_size 200.
type PoolConfig struct {
	MinWorkers     int    `json:"min_workers,omitempty"`
	MaxWorkers     int    `json:"max_workers,omitempty"`
	PreferredDepth int    `json:"preferred_depth,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	PullTimeout    string `json:"pull_timeout,omitempty"`
	ShutdownGrace  string `json:"shutdown_grace,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// Enabled is a pointer so an omitted key (default on) differs from an
// explicit false.
type NotifierConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`

	SMTP     SMTPConfig     `json:"smtp"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
}

// SMTPConfig. Defaults: host "localhost", port 25.
type SMTPConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	From     string `json:"from,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	StartTLS bool   `json:"starttls,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // do not log
	// Timeout bounds each Bot API call.
	Timeout string `json:"timeout,omitempty"`
}

// WebhookConfig sends notices for opaque requester ids to a send API.
// Use either a static token or client credentials (token_url, client_id,
// client_secret).
type WebhookConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	Token        string `json:"token,omitempty"` // do not log
	TokenURL     string `json:"token_url,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"` // do not log
	TokenSkew    string `json:"token_skew,omitempty"`
}

// MaintenanceConfig schedules housekeeping with cron specs or "@every"
// intervals.
//
// Retention "0s" or empty keeps done jobs forever.
type MaintenanceConfig struct {
	Timezone  string `json:"timezone,omitempty"`
	Retention string `json:"retention,omitempty"`
	PurgeSpec string `json:"purge_spec,omitempty"` // default "@daily"
	StatsSpec string `json:"stats_spec,omitempty"` // default "@every 1h"; "off" disables
}

// PprofConfig controls the optional pprof HTTP server, which also serves
// the /debug/upwatch status document.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts. WriteTimeout defaults to 0 (disabled) so /profile
	// (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// SystemdConfig controls sd_notify integration. It is a no-op outside
// systemd (NOTIFY_SOCKET unset).
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// NotifierEnabled reports the effective notifier switch.
func (c *Config) NotifierEnabled() bool {
	return c.Notifier.Enabled == nil || *c.Notifier.Enabled
}
