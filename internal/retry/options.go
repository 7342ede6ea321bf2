package retry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"upwatch/internal/eventbus"
	"upwatch/internal/notifier"
	"upwatch/internal/probe"
	"upwatch/internal/storage"
	"upwatch/internal/task/deadline"
	logx "upwatch/pkg/logx"

	"github.com/google/uuid"
)

// Notifier receives terminal notices. notifier.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notice) error
}

type Option func(*base)

func WithPolicy(p Policy) Option { return func(b *base) { b.policy = p } }

func WithClock(c deadline.Clock) Option { return func(b *base) { b.clock = c } }

func WithLogger(log logx.Logger) Option { return func(b *base) { b.log = log } }

// WithIDs replaces the job id generator (random UUIDs by default).
func WithIDs(newID func() string) Option { return func(b *base) { b.newID = newID } }

func WithBus(bus eventbus.Bus) Option { return func(b *base) { b.bus = bus } }

// base is shared by Controller and Runner.
type base struct {
	store  storage.JobStore
	prober probe.Prober
	notify Notifier

	clock deadline.Clock
	log   logx.Logger
	bus   eventbus.Bus
	newID func() string

	pmu    sync.RWMutex
	policy Policy
}

func (b *base) init(store storage.JobStore, prober probe.Prober, notify Notifier, comp string, opts []Option) {
	b.store = store
	b.prober = prober
	b.notify = notify
	b.clock = deadline.RealClock{}
	b.log = logx.Nop()
	b.newID = uuid.NewString
	for _, o := range opts {
		o(b)
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	b.log = b.log.With(logx.String("comp", comp))
	b.policy = b.policy.withDefaults()
}

// Policy returns the active policy.
func (b *base) Policy() Policy {
	b.pmu.RLock()
	defer b.pmu.RUnlock()
	return b.policy
}

// SetPolicy swaps the policy. The next step picks it up.
func (b *base) SetPolicy(p Policy) {
	b.pmu.Lock()
	b.policy = p.withDefaults()
	b.pmu.Unlock()
}

// newHead validates an enqueue request and builds the chain head.
func (b *base) newHead(target, url string, tries int, delay time.Duration) (storage.Job, error) {
	p := b.Policy()
	url = strings.TrimSpace(url)
	delay = delay.Truncate(time.Second)
	switch {
	case url == "":
		return storage.Job{}, fmt.Errorf("%w: empty url", ErrInvalidJob)
	case len(url) > p.MaxURLLength:
		return storage.Job{}, fmt.Errorf("%w: url longer than %d", ErrInvalidJob, p.MaxURLLength)
	case tries < 1:
		return storage.Job{}, fmt.Errorf("%w: tries must be at least 1", ErrInvalidJob)
	case delay < time.Second:
		return storage.Job{}, fmt.Errorf("%w: delay must be at least 1s", ErrInvalidJob)
	case delay > maxDelay:
		return storage.Job{}, fmt.Errorf("%w: delay above %s", ErrInvalidJob, maxDelay)
	}
	id := b.newID()
	return storage.Job{
		ID:             id,
		ChainID:        id,
		Status:         storage.StatusPending,
		RunAt:          b.clock.Now().Add(delay),
		Target:         strings.TrimSpace(target),
		URL:            url,
		TriesRemaining: tries,
		Delay:          delay,
	}, nil
}
