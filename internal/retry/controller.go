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

// Controller polls the job store and runs whatever is due. Several
// controllers may share one store; Finish decides which of them wins.
type Controller struct {
	base

	// wake lets a local Enqueue cut the current sleep short.
	wake chan struct{}
}

func NewController(store storage.JobStore, prober probe.Prober, notify Notifier, opts ...Option) *Controller {
	c := &Controller{wake: make(chan struct{}, 1)}
	c.init(store, prober, notify, "retry", opts)
	return c
}

// Enqueue inserts a chain head due after delay and returns its job id.
func (c *Controller) Enqueue(ctx context.Context, target, url string, tries int, delay time.Duration) (string, error) {
	j, err := c.newHead(target, url, tries, delay)
	if err != nil {
		return "", err
	}
	if err := c.store.Insert(ctx, j); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	c.log.Info("job enqueued",
		logx.Job(j.ID),
		logx.String("url", j.URL),
		logx.Int("tries", j.TriesRemaining),
		logx.Duration("delay", j.Delay),
		logx.Time("run_at", j.RunAt),
	)
	eventbus.Publish(c.bus, eventbus.JobEnqueued, j.ID, map[string]any{"url": j.URL, "run_at": j.RunAt, "tries": j.TriesRemaining})

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return j.ID, nil
}

// Step runs at most one due job and reports how long to sleep before the
// next step.
func (c *Controller) Step(ctx context.Context) (time.Duration, error) {
	p := c.Policy()
	j, ok, err := c.store.FindNextPending(ctx)
	if err != nil {
		return p.IdleInterval, fmt.Errorf("find next pending: %w", err)
	}
	if !ok {
		return p.IdleInterval, nil
	}
	if wait := j.RunAt.Sub(c.clock.Now()); wait > 0 {
		return min(wait, p.MaxSleep), nil
	}
	if _, err := c.attempt(ctx, j); err != nil {
		return p.IdleInterval, err
	}
	return 0, nil
}

// Run steps until ctx ends. Step errors are logged and followed by the idle
// sleep.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("retry controller started", logx.Duration("idle", c.Policy().IdleInterval), logx.Duration("max_sleep", c.Policy().MaxSleep))
	defer c.log.Info("retry controller stopped")

	for {
		sleep, err := c.Step(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.log.Error("retry step failed", logx.Err(err), logx.Duration("sleep", sleep))
		}
		if sleep <= 0 {
			continue
		}

		t := c.clock.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		case <-c.wake:
			t.Stop()
		}
	}
}

// IsStopped reports whether err is a normal Run exit.
func IsStopped(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
