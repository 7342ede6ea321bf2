package engine

import (
	"context"
	"time"
)

// Config sizes the pool.
//
// After every Submit the pool moves one step toward its target: it adds a
// worker when the queue is at least PreferredDepth deep and removes the
// newest worker when it is shallower, always within [MinWorkers, MaxWorkers].
type Config struct {
	MinWorkers     int
	MaxWorkers     int
	PreferredDepth int
	QueueSize      int

	// PullTimeout bounds how long an idle worker blocks before re-checking
	// whether it should exit.
	PullTimeout time.Duration
	// ShutdownGrace is how long Stop waits for each worker.
	ShutdownGrace time.Duration
	// DefaultTimeout bounds each task run. 0 means no limit.
	DefaultTimeout time.Duration
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 20
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.PreferredDepth <= 0 {
		c.PreferredDepth = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 3 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type HistoryItem struct {
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers        int `json:"workers"`
	MinWorkers     int `json:"min_workers"`
	MaxWorkers     int `json:"max_workers"`
	PreferredDepth int `json:"preferred_depth"`
	Depth          int `json:"depth"`
	QueueCap       int `json:"queue_cap"`
	InFlight       int `json:"in_flight"`

	Spawned          uint64 `json:"spawned"`
	Retired          uint64 `json:"retired"`
	Completed        uint64 `json:"completed"`
	Failed           uint64 `json:"failed"`
	Panicked         uint64 `json:"panicked"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`

	History []HistoryItem `json:"history,omitempty"`
}

type queuedTask struct {
	name       string
	priority   int
	seq        uint64
	enqueuedAt time.Time
	run        func(ctx context.Context) error
}

// taskHeap orders by priority (lower first), then submission order.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
