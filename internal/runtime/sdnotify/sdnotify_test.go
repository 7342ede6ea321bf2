package sdnotify

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "upwatch/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type sentStates struct {
	mu     sync.Mutex
	states []string
}

func (s *sentStates) send(_ bool, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return true, nil
}

func (s *sentStates) count(state string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.states {
		if v == state {
			n++
		}
	}
	return n
}

func TestNotifyRespectsConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"enabled", Config{Notify: true}, 1},
		{"disabled", Config{}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &sentStates{}
			n := New(tt.cfg, logx.Nop())
			n.send = rec.send
			n.Ready()
			if got := rec.count(daemon.SdNotifyReady); got != tt.want {
				t.Fatalf("READY sent %d times, want %d", got, tt.want)
			}
		})
	}
}

func TestWatchdogPingsUntilCancelled(t *testing.T) {
	t.Parallel()

	rec := &sentStates{}
	n := New(Config{Notify: true, Watchdog: true}, logx.Nop())
	n.send = rec.send
	n.interval = func(bool) (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count(daemon.SdNotifyWatchdog) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("watchdog pings = %d, want >= 2", rec.count(daemon.SdNotifyWatchdog))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Watchdog did not return after cancel")
	}
}

func TestWatchdogWithoutUnitSetting(t *testing.T) {
	t.Parallel()

	n := New(Config{Notify: true, Watchdog: true}, logx.Nop())
	n.interval = func(bool) (time.Duration, error) { return 0, nil }
	n.send = func(bool, string) (bool, error) {
		t.Errorf("unexpected ping")
		return false, nil
	}
	n.Watchdog(context.Background())
}
