package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upwatch/internal/eventbus"
	"upwatch/internal/probe"
	"upwatch/internal/storage"
	logx "upwatch/pkg/logx"
)

// Scheduler is the deadline queue as seen by the Runner.
type Scheduler interface {
	Schedule(at time.Time, name string, fn func(ctx context.Context) error) error
}

const resumeLimit = 100000

// Runner drives chains in process memory: each attempt is a deadline-queue
// action executed by the worker pool. The store keeps the audit trail and
// the chain invariants; nothing survives a restart unless the store does.
type Runner struct {
	base
	queue Scheduler
}

// NewRunner wires a Runner to a started deadline queue. Pass the queue's
// clock with WithClock so head run_at and dispatch agree.
func NewRunner(queue Scheduler, store storage.JobStore, prober probe.Prober, notify Notifier, opts ...Option) *Runner {
	r := &Runner{queue: queue}
	r.init(store, prober, notify, "retry.runner", opts)
	return r
}

// Enqueue has the Controller contract.
func (r *Runner) Enqueue(ctx context.Context, target, url string, tries int, delay time.Duration) (string, error) {
	j, err := r.newHead(target, url, tries, delay)
	if err != nil {
		return "", err
	}
	if err := r.store.Insert(ctx, j); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if err := r.schedule(j); err != nil {
		// Nothing would ever run the head; close it instead of leaving it pending.
		if ferr := r.store.Finish(context.WithoutCancel(ctx), j.ID, OutcomeAborted, nil); ferr != nil {
			r.log.Error("unscheduled job left pending", logx.Job(j.ID), logx.Err(ferr))
		}
		return "", err
	}
	r.log.Info("job enqueued",
		logx.Job(j.ID),
		logx.String("url", j.URL),
		logx.Int("tries", j.TriesRemaining),
		logx.Duration("delay", j.Delay),
	)
	eventbus.Publish(r.bus, eventbus.JobEnqueued, j.ID, map[string]any{"url": j.URL, "run_at": j.RunAt, "tries": j.TriesRemaining})
	return j.ID, nil
}

// Resume schedules every pending job already in the store.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	pending, err := r.store.ListPending(ctx, resumeLimit)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	for _, j := range pending {
		if err := r.schedule(j); err != nil {
			return 0, err
		}
	}
	if len(pending) > 0 {
		r.log.Info("pending jobs resumed", logx.Int("count", len(pending)))
	}
	return len(pending), nil
}

func (r *Runner) schedule(j storage.Job) error {
	return r.scheduleAt(j.ID, j.RunAt)
}

func (r *Runner) scheduleAt(id string, at time.Time) error {
	err := r.queue.Schedule(at, "attempt."+id, func(ctx context.Context) error {
		return r.run(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", id, err)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, id string) error {
	j, err := r.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil {
		return r.rearm(ctx, id, err)
	}
	if j.Status != storage.StatusPending {
		return nil
	}
	next, err := r.attempt(ctx, j)
	if err != nil {
		return r.rearm(ctx, id, err)
	}
	if next == nil {
		return nil
	}
	return r.schedule(*next)
}

// rearm gives a job whose run failed another turn IdleInterval from now, so
// the chain still reaches a terminal notice. Cancellation means shutdown and
// leaves the job pending.
func (r *Runner) rearm(ctx context.Context, id string, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return cause
	}
	at := r.clock.Now().Add(r.Policy().IdleInterval)
	if err := r.scheduleAt(id, at); err != nil {
		return errors.Join(cause, err)
	}
	r.log.Warn("job attempt failed; rescheduled", logx.Job(id), logx.Time("run_at", at), logx.Err(cause))
	return nil
}
