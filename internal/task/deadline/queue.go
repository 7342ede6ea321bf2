// Package deadline holds actions until their deadline and then hands them to
// a worker pool. It is the in-memory counterpart of the durable job store:
// nothing survives a restart.
package deadline

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	rtsup "upwatch/internal/runtime/supervisor"
	logx "upwatch/pkg/logx"
)

var ErrStopped = errors.New("deadline queue stopped")

// Dispatcher accepts due actions without blocking. engine.Pool implements it.
type Dispatcher interface {
	Submit(name string, priority int, fn func(ctx context.Context) error) error
}

type Option func(*Queue)

func WithClock(c Clock) Option { return func(q *Queue) { q.clock = c } }

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }

// WithRetryDelay sets how long a dispatch the pool rejected waits before it
// is offered again.
func WithRetryDelay(d time.Duration) Option { return func(q *Queue) { q.retryDelay = d } }

const defaultRetryDelay = time.Second

// Queue dispatches actions no earlier than their deadline.
type Queue struct {
	pool       Dispatcher
	clock      Clock
	log        logx.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	items   actionHeap
	seq     uint64
	stopped bool

	// wake has room for one pending signal; an insertion never blocks and
	// never gets lost while the controller is between checks.
	wake chan struct{}

	dispatched atomic.Uint64
	rejected   atomic.Uint64

	sup *rtsup.Supervisor
}

func New(pool Dispatcher, opts ...Option) *Queue {
	q := &Queue{
		pool:       pool,
		clock:      RealClock{},
		log:        logx.Nop(),
		retryDelay: defaultRetryDelay,
		wake:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	if q.retryDelay <= 0 {
		q.retryDelay = defaultRetryDelay
	}
	q.log = q.log.With(logx.String("comp", "deadline"))
	return q
}

// Start launches the controller goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.sup != nil {
		q.mu.Unlock()
		return
	}
	q.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(q.log))
	sup := q.sup
	q.mu.Unlock()

	sup.Go0("deadline.controller", q.run)
	q.log.Info("deadline queue started")
}

// Schedule inserts fn to run no earlier than at.
func (q *Queue) Schedule(at time.Time, name string, fn func(ctx context.Context) error) error {
	return q.ScheduleP(at, name, 0, fn)
}

// ScheduleP is Schedule with a pool priority (lower runs first).
func (q *Queue) ScheduleP(at time.Time, name string, priority int, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("nil action")
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.seq++
	heap.Push(&q.items, &action{deadline: at, seq: q.seq, name: name, priority: priority, fn: fn})
	q.mu.Unlock()

	// The new action may be the earliest; make the controller recompute.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Dispatched reports how many actions were handed to the pool.
func (q *Queue) Dispatched() uint64 { return q.dispatched.Load() }

func (q *Queue) run(ctx context.Context) {
	for {
		for _, a := range q.takeDue(q.clock.Now()) {
			q.dispatch(a)
		}

		// Read after dispatch: a rejected action may be back in the heap.
		next, hasNext := q.nextDeadline()
		if !hasNext {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		t := q.clock.NewTimer(next.Sub(q.clock.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C():
		case <-q.wake:
			t.Stop()
		}
	}
}

// takeDue pops every action whose deadline is not after now.
func (q *Queue) takeDue(now time.Time) []*action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*action
	for {
		top := q.items.peek()
		if top == nil || top.deadline.After(now) {
			return due
		}
		due = append(due, heap.Pop(&q.items).(*action))
	}
}

func (q *Queue) nextDeadline() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	top := q.items.peek()
	if top == nil {
		return time.Time{}, false
	}
	return top.deadline, true
}

// dispatch hands a to the pool. A rejected action goes back into the heap
// retryDelay from now, so a full pool delays work instead of losing it.
func (q *Queue) dispatch(a *action) {
	err := q.pool.Submit(a.name, a.priority, a.fn)
	if err == nil {
		q.dispatched.Add(1)
		return
	}
	q.rejected.Add(1)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.log.Error("dispatch rejected during shutdown", logx.String("action", a.name), logx.Err(err))
		return
	}
	a.deadline = q.clock.Now().Add(q.retryDelay)
	q.seq++
	a.seq = q.seq
	heap.Push(&q.items, a)
	q.mu.Unlock()
	q.log.Warn("dispatch rejected; will retry", logx.String("action", a.name), logx.Duration("after", q.retryDelay), logx.Err(err))
}

// Shutdown stops the controller and drops undispatched actions.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	dropped := q.items.Len()
	q.items = nil
	sup := q.sup
	q.mu.Unlock()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}
	q.log.Info("deadline queue stopped",
		logx.Int("dropped", dropped),
		logx.Uint64("dispatched", q.dispatched.Load()),
		logx.Uint64("rejected", q.rejected.Load()),
	)
	return err
}
