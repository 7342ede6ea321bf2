package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"upwatch/internal/eventbus"
	logx "upwatch/pkg/logx"
)

type worker struct {
	id   int
	quit chan struct{} // closed on retirement
	done chan struct{} // closed when the loop returns
}

func (p *Pool) work(ctx context.Context, stopCh <-chan struct{}, w *worker) {
	p.mu.Lock()
	pull := p.cfg.PullTimeout
	p.mu.Unlock()

	t := time.NewTimer(pull)
	defer t.Stop()
	for {
		// A closed stop or quit wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-w.quit:
			return
		default:
		}

		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(pull)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-w.quit:
			return
		case <-t.C:
			// Idle; loop to re-check quit/stop.
		case <-p.tokens:
			if qt := p.pop(); qt != nil {
				p.exec(ctx, w, qt)
			}
		}
	}
}

func (p *Pool) exec(ctx context.Context, w *worker, qt *queuedTask) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	p.mu.Lock()
	timeout := p.cfg.DefaultTimeout
	p.mu.Unlock()

	eventbus.Publish(p.bus, eventbus.TaskStarted, "", map[string]any{"task": qt.name, "worker": w.id})

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.panicked.Add(1)
				err = fmt.Errorf("panic: %v", r)
				p.log.Error("task panicked", logx.String("task", qt.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = qt.run(runCtx)
	}()
	cancel()

	dur := time.Since(start)
	item := HistoryItem{Name: qt.name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		p.failed.Add(1)
		p.log.Warn("task failed", logx.String("task", qt.name), logx.Err(err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		eventbus.Publish(p.bus, eventbus.TaskFailed, "", map[string]any{"task": qt.name, "error": item.Error})
	} else {
		p.completed.Add(1)
		p.log.Debug("task completed", logx.String("task", qt.name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		eventbus.Publish(p.bus, eventbus.TaskFinished, "", map[string]any{"task": qt.name, "dur": dur.String()})
	}
	p.record(item)
}
