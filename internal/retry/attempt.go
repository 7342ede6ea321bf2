package retry

import (
	"context"
	"errors"
	"fmt"

	"upwatch/internal/eventbus"
	"upwatch/internal/notifier"
	"upwatch/internal/probe"
	"upwatch/internal/storage"
	logx "upwatch/pkg/logx"
)

// Outcome values stored on finished jobs.
const (
	OutcomeRetry       = "retry"
	OutcomeSuccess     = string(notifier.KindSuccess)
	OutcomeClientError = string(notifier.KindClientError)
	OutcomeExhausted   = string(notifier.KindExhausted)
	OutcomeUnexpected  = string(notifier.KindUnexpected)
	// OutcomeAborted closes a head that could not be scheduled.
	OutcomeAborted = "aborted"
)

// attempt probes a due job and finishes it. It returns the successor when
// the chain goes on. A lost race on Finish yields (nil, nil): another
// driver already handled the job.
func (b *base) attempt(ctx context.Context, j storage.Job) (*storage.Job, error) {
	p := b.Policy()
	log := b.log.With(logx.Job(j.ID), logx.String("url", j.URL))

	pctx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
	out := b.prober.Probe(pctx, j.URL)
	cancel()
	if err := ctx.Err(); err != nil {
		// Shutting down; the job stays pending for the next run.
		return nil, err
	}

	var (
		successor *storage.Job
		outcome   string
		kind      notifier.Kind
	)
	switch out.Kind {
	case probe.Transient:
		if j.TriesRemaining > 1 {
			next := p.next(j, b.newID())
			successor = &next
			outcome = OutcomeRetry
		} else {
			outcome, kind = OutcomeExhausted, notifier.KindExhausted
		}
	case probe.Success:
		outcome, kind = OutcomeSuccess, notifier.KindSuccess
	case probe.ClientError:
		outcome, kind = OutcomeClientError, notifier.KindClientError
	default:
		outcome, kind = OutcomeUnexpected, notifier.KindUnexpected
		log.Error("probe returned an unexpected response", logx.Int("status", out.Status), logx.String("reason", out.Reason))
		eventbus.Publish(b.bus, eventbus.JobAnomaly, j.ID, map[string]any{"status": out.Status, "reason": out.Reason})
	}

	err := b.store.Finish(ctx, j.ID, outcome, successor)
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		log.Info("job already handled elsewhere, attempt discarded", logx.String("outcome", outcome))
		eventbus.Publish(b.bus, eventbus.JobConflict, j.ID, map[string]any{"outcome": outcome})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finish job %s: %w", j.ID, err)
	}

	if successor != nil {
		log.Info("job retry scheduled",
			logx.String("probe", out.String()),
			logx.String("next_job_id", successor.ID),
			logx.Time("run_at", successor.RunAt),
			logx.Int("tries_remaining", successor.TriesRemaining),
		)
		eventbus.Publish(b.bus, eventbus.JobRetried, j.ID, map[string]any{
			"next_job_id":     successor.ID,
			"run_at":          successor.RunAt,
			"tries_remaining": successor.TriesRemaining,
		})
		return successor, nil
	}

	log.Info("job finished", logx.String("outcome", outcome), logx.Int("status", out.Status))
	eventbus.Publish(b.bus, eventbus.JobFinished, j.ID, map[string]any{"outcome": outcome, "status": out.Status})

	// Only after Finish committed.
	if b.notify != nil {
		n := notifier.Notice{JobID: j.ID, Target: j.Target, URL: j.URL, Kind: kind, Status: out.Status}
		if err := b.notify.Notify(ctx, n); err != nil {
			log.Warn("notice not queued", logx.Err(err))
		}
	}
	return nil, nil
}
