// Package engine is an elastic worker pool: a priority queue drained by a
// set of workers whose size follows queue depth between configured bounds.
//
// Task failures stop here. A task that returns an error or panics is logged
// and counted; the worker keeps running and the submitter never sees it.
package engine

import (
	"container/heap"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"upwatch/internal/eventbus"
	rtsup "upwatch/internal/runtime/supervisor"
	logx "upwatch/pkg/logx"
)

type Pool struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	items  taskHeap
	seq    uint64
	tokens chan struct{} // one token per queued item

	workers []*worker // creation order; the tail is retired first
	nextID  int

	sup     *rtsup.Supervisor
	stopCh  chan struct{}
	stopped bool

	inFlight  atomic.Int32
	spawned   atomic.Uint64
	retired   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	queueFull atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		cfg: cfg,
		log: log.With(logx.String("comp", "pool")),
		bus: bus,
	}
}

// Start spawns MinWorkers workers. It is idempotent.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sup != nil || p.stopped {
		return
	}

	p.tokens = make(chan struct{}, p.cfg.QueueSize)
	p.stopCh = make(chan struct{})
	p.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(p.log))
	for len(p.workers) < p.cfg.MinWorkers {
		p.spawnLocked()
	}
	p.log.Info("worker pool started",
		logx.Int("workers", len(p.workers)),
		logx.Int("max_workers", p.cfg.MaxWorkers),
		logx.Int("preferred_depth", p.cfg.PreferredDepth),
		logx.Int("queue", p.cfg.QueueSize),
	)
}

// Submit queues fn without blocking. Lower priority values run first.
func (p *Pool) Submit(name string, priority int, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("task func is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "task"
	}

	p.mu.Lock()
	if p.sup == nil || p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.items.Len() >= p.cfg.QueueSize {
		depth := p.items.Len()
		p.mu.Unlock()
		p.queueFull.Add(1)
		p.log.Warn("task dropped: queue full", logx.String("task", name), logx.Int("depth", depth))
		return ErrQueueFull
	}
	p.seq++
	heap.Push(&p.items, &queuedTask{name: name, priority: priority, seq: p.seq, enqueuedAt: time.Now(), run: fn})
	// Never blocks: tokens never outnumber queued items and the channel
	// holds QueueSize of them.
	p.tokens <- struct{}{}
	p.adjustLocked()
	p.mu.Unlock()
	return nil
}

// pop takes the highest priority item. Callers hold a token, so the heap is
// not empty.
func (p *Pool) pop() *queuedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&p.items).(*queuedTask)
}

// Apply updates the sizing bounds of a running pool. QueueSize is fixed at
// Start.
func (p *Pool) Apply(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg = cfg.withDefaults()
	cfg.QueueSize = p.cfg.QueueSize
	p.cfg = cfg
	if p.sup == nil || p.stopped {
		return
	}
	for len(p.workers) < p.cfg.MinWorkers {
		p.spawnLocked()
	}
	for len(p.workers) > p.cfg.MaxWorkers {
		p.retireLocked()
	}
	p.log.Info("worker pool resized", logx.Int("workers", len(p.workers)), logx.Int("min_workers", cfg.MinWorkers), logx.Int("max_workers", cfg.MaxWorkers))
}

// Stop stops pulling, waits up to ShutdownGrace for each worker, then
// cancels whatever is still running. Queued tasks are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.sup == nil || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	workers := append([]*worker(nil), p.workers...)
	p.workers = nil
	dropped := p.items.Len()
	p.items = nil
	grace := p.cfg.ShutdownGrace
	sup := p.sup
	p.mu.Unlock()

	stuck := 0
	for _, w := range workers {
		t := time.NewTimer(grace)
		select {
		case <-w.done:
		case <-t.C:
			stuck++
		case <-ctx.Done():
			stuck++
		}
		t.Stop()
	}

	sup.Cancel()
	err := sup.Wait(ctx)
	if stuck > 0 {
		p.log.Warn("worker pool stop: workers still busy after grace", logx.Int("stuck", stuck), logx.Duration("grace", grace))
	}
	p.log.Info("worker pool stopped", logx.Int("dropped", dropped), logx.Uint64("completed", p.completed.Load()))
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	cfg := p.cfg
	snap := Snapshot{
		Workers:        len(p.workers),
		MinWorkers:     cfg.MinWorkers,
		MaxWorkers:     cfg.MaxWorkers,
		PreferredDepth: cfg.PreferredDepth,
		Depth:          p.items.Len(),
		QueueCap:       cfg.QueueSize,
	}
	p.mu.Unlock()

	snap.InFlight = int(p.inFlight.Load())
	snap.Spawned = p.spawned.Load()
	snap.Retired = p.retired.Load()
	snap.Completed = p.completed.Load()
	snap.Failed = p.failed.Load()
	snap.Panicked = p.panicked.Load()
	snap.DroppedQueueFull = p.queueFull.Load()

	p.hmu.Lock()
	snap.History = append([]HistoryItem(nil), p.history...)
	p.hmu.Unlock()
	return snap
}

// Supervisor exposes the worker goroutines for diagnostics (nil before Start).
func (p *Pool) Supervisor() *rtsup.Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sup
}

func (p *Pool) record(item HistoryItem) {
	p.mu.Lock()
	size := p.cfg.HistorySize
	p.mu.Unlock()

	p.hmu.Lock()
	p.history = append(p.history, item)
	if len(p.history) > size {
		p.history = p.history[len(p.history)-size:]
	}
	p.hmu.Unlock()
}
