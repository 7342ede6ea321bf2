package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"upwatch/internal/eventbus"
	"upwatch/internal/storage"
	logx "upwatch/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Notice
	fails atomic.Int32
	got   chan Notice
}

func newRecordingSender() *recordingSender { return &recordingSender{got: make(chan Notice, 16)} }

func (r *recordingSender) Send(_ context.Context, n Notice) error {
	if r.fails.Load() > 0 {
		r.fails.Add(-1)
		return errors.New("relay busy")
	}
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	r.got <- n
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func startService(t *testing.T, cfg Config, senders Senders, bus eventbus.Bus, notices storage.NoticeLog) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	s := New(cfg, senders, logx.Nop(), bus, notices)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func awaitNotice(t *testing.T, ch <-chan Notice) Notice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(3 * time.Second):
		t.Fatalf("notice not delivered")
	}
	return Notice{}
}

func TestNotifyDeliversOncePerJob(t *testing.T) {
	t.Parallel()

	mail := newRecordingSender()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startService(t, Config{}, Senders{Email: mail}, bus, nil)

	n := Notice{JobID: "j1", Target: "ops@example.com", URL: "http://a", Kind: KindExhausted}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got := awaitNotice(t, mail.got); got.JobID != "j1" {
		t.Fatalf("delivered %+v", got)
	}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("second Notify() error = %v", err)
	}

	var sawDedup bool
	deadline := time.After(2 * time.Second)
	for !sawDedup {
		select {
		case e := <-events:
			sawDedup = e.Type == eventbus.NoticeDedup && e.JobID == "j1"
		case <-deadline:
			t.Fatalf("no %s event", eventbus.NoticeDedup)
		}
	}
	if got := mail.count(); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Channel != ChannelEmail {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyDedupsAcrossRestartViaNoticeLog(t *testing.T) {
	t.Parallel()

	notices := storage.NewMemory()
	mail := newRecordingSender()
	n := Notice{JobID: "j2", Target: "ops@example.com", Kind: KindSuccess, Status: 200}

	first := startService(t, Config{}, Senders{Email: mail}, nil, notices)
	if err := first.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	awaitNotice(t, mail.got)
	// MarkNotified runs right after the send returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ok, _ := notices.Notified(context.Background(), "j2")
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notice log never recorded j2")
		}
		time.Sleep(time.Millisecond)
	}

	second := startService(t, Config{}, Senders{Email: mail}, nil, notices)
	if err := second.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	select {
	case got := <-mail.got:
		t.Fatalf("duplicate delivery %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyRetriesFailedSend(t *testing.T) {
	t.Parallel()

	hook := newRecordingSender()
	hook.fails.Store(2)
	s := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, Senders{Webhook: hook}, nil, nil)

	if err := s.Notify(context.Background(), Notice{JobID: "j3", Target: "user-1", Kind: KindUnexpected}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	awaitNotice(t, hook.got)
}

func TestNotifyErrors(t *testing.T) {
	t.Parallel()

	off := New(Config{}, Senders{}, logx.Nop(), nil, nil)
	if err := off.Notify(context.Background(), Notice{JobID: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify() on disabled error = %v, want ErrDisabled", err)
	}

	notStarted := New(Config{Enabled: true}, Senders{}, logx.Nop(), nil, nil)
	if err := notStarted.Notify(context.Background(), Notice{JobID: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() before Start error = %v, want ErrStopped", err)
	}

	s := startService(t, Config{}, Senders{}, nil, nil)
	if err := s.Notify(context.Background(), Notice{JobID: "x", Target: "tg:1"}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("Notify() without sender error = %v, want ErrNoRoute", err)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retryDelay(%d) = %v, want (0, %v]", attempt, d, cfg.RetryMaxDelay)
		}
	}
}
