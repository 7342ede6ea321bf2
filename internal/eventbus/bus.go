// Package eventbus fans out in-process domain events (job lifecycle, pool
// tasks, notices) to observers such as the app's event log loop.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by upwatch components.
const (
	JobEnqueued  = "job.enqueued"
	JobRetried   = "job.retried"
	JobFinished  = "job.finished"
	JobConflict  = "job.conflict"
	JobAnomaly   = "job.anomaly"
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	NoticeQueued = "notifier.queued"
	NoticeSent   = "notifier.sent"
	NoticeFailed = "notifier.failed"
	NoticeDedup  = "notifier.deduped"
)

// Event is a small in-memory signal.
//
// Publish never blocks. Slow subscribers drop events.
type Event struct {
	Type  string
	Time  time.Time
	JobID string
	Data  map[string]any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe takes the write lock
	// before closing, so a send never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ, jobID string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, JobID: jobID, Data: data})
}
