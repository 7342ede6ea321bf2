package deadline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	ch    chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
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

// waitTimerAt blocks until a timer armed for at exists.
func (c *fakeClock) waitTimerAt(t *testing.T, at time.Time) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
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
	c := t.clock
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

type recorder struct {
	mu    sync.Mutex
	names []string
	fail  int
	got   chan string
}

func newRecorder() *recorder { return &recorder{got: make(chan string, 16)} }

func (r *recorder) Submit(name string, priority int, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.fail > 0 {
		r.fail--
		r.mu.Unlock()
		return errors.New("pool full")
	}
	r.names = append(r.names, name)
	r.mu.Unlock()
	r.got <- name
	return nil
}

func (r *recorder) await(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.got:
		if got != want {
			t.Fatalf("dispatched %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%q not dispatched", want)
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case got := <-r.got:
		t.Fatalf("unexpected dispatch of %q", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func noop(context.Context) error { return nil }

func startQueue(t *testing.T, rec *recorder, clk *fakeClock) *Queue {
	t.Helper()
	q := New(rec, WithClock(clk))
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		_ = q.Shutdown(sctx)
	})
	return q
}

func TestEarlierInsertWakesController(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	rec := newRecorder()
	q := startQueue(t, rec, clk)
	start := clk.Now()

	if err := q.Schedule(start.Add(time.Hour), "late", noop); err != nil {
		t.Fatalf("Schedule error = %v", err)
	}
	clk.waitTimerAt(t, start.Add(time.Hour))

	if err := q.Schedule(start.Add(time.Second), "early", noop); err != nil {
		t.Fatalf("Schedule error = %v", err)
	}
	clk.waitTimerAt(t, start.Add(time.Second))

	clk.Advance(999 * time.Millisecond)
	rec.none(t)

	clk.Advance(time.Millisecond)
	rec.await(t, "early")
	rec.none(t)
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestDispatchesInDeadlineOrder(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	rec := newRecorder()
	q := New(rec, WithClock(clk))
	start := clk.Now()
	for _, s := range []struct {
		name string
		at   time.Duration
	}{{"c", 3 * time.Second}, {"a", time.Second}, {"b", 2 * time.Second}, {"b2", 2 * time.Second}} {
		if err := q.Schedule(start.Add(s.at), s.name, noop); err != nil {
			t.Fatalf("Schedule error = %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	clk.waitTimerAt(t, start.Add(time.Second))
	clk.Advance(5 * time.Second)

	for _, want := range []string{"a", "b", "b2", "c"} {
		rec.await(t, want)
	}
	_ = q.Shutdown(context.Background())
}

func TestEmptyQueueDispatchesOnInsert(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	rec := newRecorder()
	q := startQueue(t, rec, clk)

	if err := q.Schedule(clk.Now(), "now", noop); err != nil {
		t.Fatalf("Schedule error = %v", err)
	}
	rec.await(t, "now")
}

func TestRejectedDispatchIsRetried(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	rec := newRecorder()
	rec.fail = 1
	q := New(rec, WithClock(clk), WithRetryDelay(5*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = q.Shutdown(context.Background())
	})
	start := clk.Now()

	if err := q.Schedule(start, "rejected", noop); err != nil {
		t.Fatalf("Schedule error = %v", err)
	}
	clk.waitTimerAt(t, start.Add(5*time.Second))
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() after rejection = %d, want 1", got)
	}

	// The controller keeps serving other actions meanwhile.
	if err := q.Schedule(start, "kept", noop); err != nil {
		t.Fatalf("Schedule error = %v", err)
	}
	rec.await(t, "kept")
	rec.none(t)

	clk.waitTimerAt(t, start.Add(5*time.Second))
	clk.Advance(5 * time.Second)
	rec.await(t, "rejected")
	if got := q.Dispatched(); got != 2 {
		t.Fatalf("Dispatched() = %d, want 2", got)
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestScheduleAfterShutdown(t *testing.T) {
	t.Parallel()

	q := New(newRecorder(), WithClock(newFakeClock()))
	q.Start(context.Background())
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error = %v", err)
	}
	if err := q.Schedule(time.Now(), "x", noop); !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule after Shutdown error = %v, want ErrStopped", err)
	}
}
