package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"upwatch/internal/config"
	"upwatch/internal/notifier"
	"upwatch/internal/probe"
	"upwatch/internal/retry"
)

func writeConfig(t *testing.T, body string) *config.ConfigManager {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upwatch.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.NewConfigManager(p)
}

func parse(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := writeConfig(t, body).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty is valid", `{}`, ""},
		{"unknown mode", `mode: cluster`, "mode"},
		{"bad duration", `controller: { idle_interval: soon }`, "controller.idle_interval"},
		{"delay below a second", `controller: { default_delay: 500ms }`, "default_delay"},
		{"pool bounds", `pool: { min_workers: 5, max_workers: 2 }`, "pool.min_workers"},
		{"pool timeout below probe", `{ pool: { default_timeout: 5s }, probe: { timeout: 10s } }`, "pool.default_timeout"},
		{"pool timeout above probe", `{ pool: { default_timeout: 30s }, probe: { timeout: 10s } }`, ""},
		{"webhook without url", `notifier: { webhook: { enabled: true } }`, "notifier.webhook.url"},
		{"telegram without token", `notifier: { telegram: { enabled: true } }`, "notifier.telegram.token"},
		{"log sink without bot", `logging: { telegram: { enabled: true, chat_id: 1 } }`, "logging.telegram"},
		{"bad timezone", `maintenance: { timezone: Mars/Olympus }`, "maintenance.timezone"},
		{"bad stats spec", `maintenance: { stats_spec: sometimes }`, "maintenance.stats_spec"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validate(parse(t, tt.yaml))
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("validate() error = %v, want nil", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestMapPolicy(t *testing.T) {
	t.Parallel()

	p, err := mapPolicy(parse(t, `{}`))
	if err != nil {
		t.Fatalf("mapPolicy() error = %v", err)
	}
	if p != retry.DefaultPolicy() {
		t.Fatalf("mapPolicy(empty) = %+v, want %+v", p, retry.DefaultPolicy())
	}

	p, err = mapPolicy(parse(t, `
controller: { multiplier: 3, default_tries: 4, default_delay: 90s, max_sleep: 1m }
probe: { timeout: 2s }
`))
	if err != nil {
		t.Fatalf("mapPolicy() error = %v", err)
	}
	if p.Multiplier != 3 || p.DefaultTries != 4 || p.DefaultDelay != 90*time.Second || p.MaxSleep != time.Minute || p.ProbeTimeout != 2*time.Second {
		t.Fatalf("mapPolicy() = %+v", p)
	}
}

func TestMapMaintenance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		purge string
		stats string
	}{
		{"defaults keep everything", `{}`, "", "@every 1h"},
		{"retention enables purge", `maintenance: { retention: 720h }`, "@daily", "@every 1h"},
		{"custom specs", `maintenance: { retention: 24h, purge_spec: "0 3 * * *", stats_spec: "off" }`, "0 3 * * *", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan, err := mapMaintenance(parse(t, tt.yaml))
			if err != nil {
				t.Fatalf("mapMaintenance() error = %v", err)
			}
			if plan.PurgeSpec != tt.purge || plan.StatsSpec != tt.stats {
				t.Fatalf("plan = %+v, want purge %q stats %q", plan, tt.purge, tt.stats)
			}
		})
	}
}

type noticeSink struct {
	mu  sync.Mutex
	got []notifier.Notice
	ch  chan notifier.Notice
}

func newNoticeSink() *noticeSink { return &noticeSink{ch: make(chan notifier.Notice, 8)} }

func (s *noticeSink) Send(_ context.Context, n notifier.Notice) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	s.ch <- n
	return nil
}

func (s *noticeSink) await(t *testing.T) notifier.Notice {
	t.Helper()
	select {
	case n := <-s.ch:
		return n
	case <-time.After(10 * time.Second):
		t.Fatalf("no notice delivered")
		return notifier.Notice{}
	}
}

func runApp(t *testing.T, yaml string, prober probe.Prober, sink *noticeSink) *App {
	t.Helper()
	a, err := NewApp(writeConfig(t, yaml),
		WithProber(prober),
		WithSenders(notifier.Senders{Webhook: sink, Email: sink}),
	)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

const quietLogs = `
logging: { level: error, console: false }
maintenance: { stats_spec: "off" }
`

func TestAppDrivesChainToNotice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"durable sqlite", "mode: durable\n"},
		{"inprocess", "mode: inprocess\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			yaml := tt.yaml + quietLogs
			if strings.Contains(tt.yaml, "durable") {
				yaml += "storage: { driver: sqlite, path: \"" + filepath.Join(t.TempDir(), "jobs.db") + "\" }\n"
			}

			var mu sync.Mutex
			calls := 0
			prober := probe.Func(func(ctx context.Context, url string) probe.Outcome {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls == 1 {
					return probe.Classify(503)
				}
				return probe.Classify(200)
			})
			sink := newNoticeSink()
			a := runApp(t, yaml, prober, sink)

			id, err := a.Enqueue(context.Background(), "ops@example.com", "http://svc.example/health", 3, time.Second)
			if err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}

			st, err := a.Status(context.Background())
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if st.Store.Pending != 1 || len(st.Pending) != 1 || st.Pending[0].ID != id {
				t.Fatalf("Status() after enqueue = %+v", st)
			}

			n := sink.await(t)
			if n.Kind != notifier.KindSuccess || n.URL != "http://svc.example/health" || n.Target != "ops@example.com" {
				t.Fatalf("notice = %+v", n)
			}
			if n.JobID == id {
				t.Fatalf("notice job id = head id, want the successor's")
			}

			chain, err := a.store.Chain(context.Background(), id)
			if err != nil {
				t.Fatalf("Chain() error = %v", err)
			}
			if len(chain) != 2 || chain[0].Outcome != "retry" || chain[1].Outcome != string(notifier.KindSuccess) {
				t.Fatalf("chain = %+v", chain)
			}
			if got := chain[1].RunAt.Sub(chain[0].RunAt); got != 2*time.Second {
				t.Fatalf("successor run_at offset = %v, want 2s", got)
			}
		})
	}
}

func TestAppEnqueueDefaults(t *testing.T) {
	t.Parallel()

	yaml := "mode: inprocess\ncontroller: { default_tries: 7, default_delay: 1h }\n" + quietLogs
	a := runApp(t, yaml, probe.Func(func(context.Context, string) probe.Outcome { return probe.Classify(200) }), newNoticeSink())

	id, err := a.Enqueue(context.Background(), "u-42", "http://svc.example", 0, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	j, err := a.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if j.TriesRemaining != 7 || j.Delay != time.Hour {
		t.Fatalf("head = tries %d delay %v, want 7 and 1h", j.TriesRemaining, j.Delay)
	}
	if _, err := a.Enqueue(context.Background(), "u-42", " ", 0, 0); err == nil {
		t.Fatalf("Enqueue with empty url error = nil")
	}
}
