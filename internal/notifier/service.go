package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"upwatch/internal/eventbus"
	rtsup "upwatch/internal/runtime/supervisor"
	"upwatch/internal/storage"
	logx "upwatch/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	n       Notice
	channel string
	sender  Sender
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	senders Senders
	bus     eventbus.Bus
	notices storage.NoticeLog

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// job id -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a stopped service. notices may be nil; dedup is then
// process-local.
func New(cfg Config, senders Senders, log logx.Logger, bus eventbus.Bus, notices storage.NoticeLog) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		senders: senders,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		notices: notices,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the notifier's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps limits and retry settings. Worker count and queue size take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetSenders replaces the channel table, e.g. after a config reload.
func (s *Service) SetSenders(senders Senders) {
	s.mu.Lock()
	s.senders = senders
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Notice delivery is best-effort; a failing worker must not stop the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop internal loops.
		sup.Cancel()
	}
}

// Notify queues n for delivery without blocking. A job id that was already
// notified is dropped silently.
func (s *Service) Notify(ctx context.Context, n Notice) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	senders := s.senders
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	log := s.log.With(logx.Job(n.JobID), logx.String("kind", string(n.Kind)))
	channel, sender, err := senders.Route(n.Target)
	if err != nil {
		log.Warn("notice dropped", logx.String("target", n.Target), logx.Err(err))
		return err
	}

	if !s.claim(ctx, n, window, maxEntries) {
		eventbus.Publish(s.bus, eventbus.NoticeDedup, n.JobID, map[string]any{"channel": channel, "kind": string(n.Kind)})
		log.Debug("notice deduped")
		return nil
	}

	select {
	case q <- job{n: n, channel: channel, sender: sender}:
		eventbus.Publish(s.bus, eventbus.NoticeQueued, n.JobID, map[string]any{"channel": channel, "kind": string(n.Kind)})
		return nil
	default:
		s.release(n.JobID)
		eventbus.Publish(s.bus, eventbus.NoticeFailed, n.JobID, map[string]any{"channel": channel, "error": ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(j job) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), JobID: j.n.JobID, Channel: j.channel, Kind: j.n.Kind})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	log := s.log.With(logx.Job(j.n.JobID), logx.String("channel", j.channel))
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		err := j.sender.Send(callCtx, j.n)
		cancel()
		if err == nil {
			s.record(runCtx, j.n)
			s.appendHistory(j)
			eventbus.Publish(s.bus, eventbus.NoticeSent, j.n.JobID, map[string]any{"channel": j.channel, "kind": string(j.n.Kind), "attempt": attempt})
			log.Info("notice sent", logx.String("kind", string(j.n.Kind)))
			return
		}
		lastErr = err
		log.Debug("notice send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}

	log.Warn("notice delivery failed", logx.Err(lastErr), logx.Int("attempts", maxAttempts))
	eventbus.Publish(s.bus, eventbus.NoticeFailed, j.n.JobID, map[string]any{"channel": j.channel, "error": lastErr.Error()})
}

// claim reserves n for delivery. It returns false when the job id was
// already claimed in this process or recorded in the notice log.
func (s *Service) claim(ctx context.Context, n Notice, window time.Duration, maxEntries int) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[n.JobID]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dedup[n.JobID] = now.Add(window)
	s.pruneLocked(now, maxEntries)
	s.dmu.Unlock()

	if s.notices == nil {
		return true
	}
	cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	seen, err := s.notices.Notified(cctx, n.JobID)
	cancel()
	if err != nil {
		s.log.Warn("notice log read failed", logx.Job(n.JobID), logx.Err(err))
		return true
	}
	return !seen
}

// record marks a delivered notice in the notice log.
func (s *Service) record(ctx context.Context, n Notice) {
	if s.notices == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if _, err := s.notices.MarkNotified(cctx, n.JobID, string(n.Kind)); err != nil {
		s.log.Warn("notice log write failed", logx.Job(n.JobID), logx.Err(err))
	}
}

// release forgets an in-memory claim after the notice could not be queued.
func (s *Service) release(jobID string) {
	s.dmu.Lock()
	delete(s.dedup, jobID)
	s.dmu.Unlock()
}

func (s *Service) pruneLocked(now time.Time, maxEntries int) {
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for maxEntries > 0 && len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		delete(s.dedup, minKey)
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
