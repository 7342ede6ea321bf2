package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "upwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Config controls the trigger service.
type Config struct {
	Timezone       string // IANA TZ, e.g. "Europe/Berlin"; empty means local
	DefaultTimeout time.Duration
}

// Dispatcher runs triggered work. engine.Pool implements it.
type Dispatcher interface {
	Submit(name string, priority int, fn func(ctx context.Context) error) error
}

// maintenancePriority sorts maintenance behind probes in a shared pool.
const maintenancePriority = 10

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	running atomic.Bool
	skipped atomic.Uint64
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	loc  *time.Location
	pool Dispatcher

	c    *cron.Cron
	defs []*scheduleDef
}

type ScheduleInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
	Running bool      `json:"running"`
	Skipped uint64    `json:"skipped"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

func New(cfg Config, pool Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "scheduler")),
		pool: pool,
	}
}

// Add registers job under name, replacing any schedule with the same name.
// A run is skipped while the previous one is still queued or running.
func (s *Service) Add(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return err
		}
		s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	}
	return nil
}

// Remove drops the named schedule. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) registerLocked(d *scheduleDef) error {
	id, err := s.c.AddFunc(d.spec, func() { s.fire(d) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	d.entryID = id
	return nil
}

// Start begins triggering. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocation(s.cfg.Timezone)
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		_ = s.registerLocked(d)
	}
	s.c.Start()
}

// Stop stops triggering and waits (bounded by ctx) for cron callbacks to
// return. Work already handed to the pool is the pool's to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply updates the config. A timezone change restarts cron with the
// schedules re-registered.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	old := s.c
	old.Stop()
	s.startLocked()
	s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()))
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) fire(d *scheduleDef) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("schedule skipped: previous run active", logx.String("name", d.name))
		return
	}
	s.mu.Lock()
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.mu.Unlock()

	err := s.pool.Submit(d.name, maintenancePriority, func(ctx context.Context) error {
		defer d.running.Store(false)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return d.job(ctx)
	})
	if err != nil {
		d.running.Store(false)
		s.log.Warn("schedule enqueue failed", logx.String("name", d.name), logx.Err(err))
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Timezone: s.loadLocationName()}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Running: d.running.Load(), Skipped: d.skipped.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	return snap
}

func (s *Service) loadLocationName() string {
	if s.loc != nil {
		return s.loc.String()
	}
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		return tz
	}
	return time.Local.String()
}
