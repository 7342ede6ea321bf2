package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	logx "upwatch/pkg/logx"
)

type heldPool struct {
	mu    sync.Mutex
	fns   []func(ctx context.Context) error
	names []string
	err   error
}

func (p *heldPool) Submit(name string, priority int, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.names = append(p.names, name)
	p.fns = append(p.fns, fn)
	return nil
}

func (p *heldPool) runAll(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	fns := p.fns
	p.fns = nil
	p.mu.Unlock()
	for _, fn := range fns {
		if err := fn(context.Background()); err != nil {
			t.Fatalf("job error = %v", err)
		}
	}
}

func TestFireSkipsWhilePreviousRunActive(t *testing.T) {
	t.Parallel()

	pool := &heldPool{}
	s := New(Config{}, pool, logx.Nop())
	runs := 0
	if err := s.Add("retention.purge", "@daily", time.Minute, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("job ctx has no deadline")
		}
		runs++
		return nil
	}); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	d := s.defs[0]

	s.fire(d)
	s.fire(d)
	if got := len(pool.names); got != 1 {
		t.Fatalf("submitted = %d, want 1", got)
	}
	if got := d.skipped.Load(); got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}

	pool.runAll(t)
	s.fire(d)
	pool.runAll(t)
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestFireReleasesOnRejectedSubmit(t *testing.T) {
	t.Parallel()

	pool := &heldPool{err: errors.New("queue full")}
	s := New(Config{}, pool, logx.Nop())
	if err := s.Add("stats", "1h", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	d := s.defs[0]
	s.fire(d)
	if d.running.Load() {
		t.Fatalf("running = true after rejected submit")
	}
}

func TestAddReplacesAndValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, &heldPool{}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.Add("stats", "61 * * * *", 0, noop); err == nil {
		t.Fatalf("Add with bad cron error = nil")
	}
	if err := s.Add(" ", "1h", 0, noop); err == nil {
		t.Fatalf("Add with empty name error = nil")
	}
	if err := s.Add("stats", "1h", 0, noop); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := s.Add("stats", "30m", 0, noop); err != nil {
		t.Fatalf("Add error = %v", err)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if snap.Timezone != "UTC" {
		t.Fatalf("Timezone = %q, want UTC", snap.Timezone)
	}
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 30m0s" {
		t.Fatalf("Schedules = %+v", snap.Schedules)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatalf("Next is zero after Start")
	}
	if !s.Remove("stats") || s.Remove("stats") {
		t.Fatalf("Remove did not report existence correctly")
	}
}

func TestApplyTimezoneReregisters(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, &heldPool{}, logx.Nop())
	if err := s.Add("retention.purge", "0 3 * * *", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Apply(Config{Timezone: "Asia/Tokyo"})
	snap := s.Snapshot()
	if snap.Timezone != "Asia/Tokyo" {
		t.Fatalf("Timezone = %q, want Asia/Tokyo", snap.Timezone)
	}
	next := snap.Schedules[0].Next
	if next.IsZero() || next.Hour() != 3 {
		t.Fatalf("Next = %v, want 03:00 Tokyo", next)
	}
}
