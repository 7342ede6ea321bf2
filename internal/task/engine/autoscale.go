package engine

import (
	"context"
	"fmt"

	logx "upwatch/pkg/logx"
)

type scaleStep int

const (
	scaleHold scaleStep = iota
	scaleUp
	scaleDown
)

// decide is the single-step sizing rule applied after each submission.
func decide(workers, depth int, cfg Config) scaleStep {
	switch {
	case workers < cfg.MaxWorkers && depth >= cfg.PreferredDepth:
		return scaleUp
	case workers > cfg.MinWorkers && depth < cfg.PreferredDepth:
		return scaleDown
	default:
		return scaleHold
	}
}

func (p *Pool) adjustLocked() {
	switch decide(len(p.workers), p.items.Len(), p.cfg) {
	case scaleUp:
		p.spawnLocked()
		p.log.Debug("worker added", logx.Int("workers", len(p.workers)), logx.Int("depth", p.items.Len()))
	case scaleDown:
		p.retireLocked()
		p.log.Debug("worker retired", logx.Int("workers", len(p.workers)), logx.Int("depth", p.items.Len()))
	}
}

func (p *Pool) spawnLocked() {
	p.nextID++
	w := &worker{
		id:   p.nextID,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.workers = append(p.workers, w)
	p.spawned.Add(1)

	stopCh := p.stopCh
	p.sup.Go0(fmt.Sprintf("worker.%d", w.id), func(ctx context.Context) {
		defer close(w.done)
		p.work(ctx, stopCh, w)
	})
}

// retireLocked stops the most recently created worker. It finishes the task
// it is running, if any.
func (p *Pool) retireLocked() {
	n := len(p.workers)
	if n == 0 {
		return
	}
	w := p.workers[n-1]
	p.workers = p.workers[:n-1]
	close(w.quit)
	p.retired.Add(1)
}
