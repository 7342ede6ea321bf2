package retry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"upwatch/internal/notifier"
	"upwatch/internal/task/deadline"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c  *fakeClock
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) deadline.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.ch <- c.now
			continue
		}
		kept = append(kept, t)
	}
	c.timers = kept
}

func (c *fakeClock) waitTimerAt(t *testing.T, at time.Time) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, tm := range c.timers {
			if tm.at.Equal(at) {
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no timer armed for %v", at)
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, tm := range c.timers {
		if tm == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notifier.Notice
	ch  chan notifier.Notice
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan notifier.Notice, 16)}
}

func (r *recordingNotifier) Notify(_ context.Context, n notifier.Notice) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	r.ch <- n
	return nil
}

func (r *recordingNotifier) notices() []notifier.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifier.Notice(nil), r.got...)
}

func (r *recordingNotifier) await(t *testing.T) notifier.Notice {
	t.Helper()
	select {
	case n := <-r.ch:
		return n
	case <-time.After(3 * time.Second):
		t.Fatalf("no notice")
	}
	return notifier.Notice{}
}

// seqIDs returns job-1, job-2, ...
func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("job-%d", n.Add(1)) }
}
