// Package retry drives retry chains: it probes due jobs, finishes them in
// the job store and appends a successor while tries remain.
//
// Two drivers share one attempt routine. Controller polls a durable
// storage.JobStore and may run in several processes against one database.
// Runner keeps chains in process memory on top of a deadline queue and an
// elastic worker pool.
package retry

import (
	"errors"
	"time"

	"upwatch/internal/storage"
)

// ErrInvalidJob rejects an enqueue request.
var ErrInvalidJob = errors.New("retry: invalid job")

// maxDelay caps the backoff so the interval never overflows.
const maxDelay = 365 * 24 * time.Hour

// Policy holds the scheduling knobs. The zero value means defaults.
type Policy struct {
	// Multiplier scales the delay at each retry.
	Multiplier int
	// IdleInterval is the sleep when no job is pending or a step failed.
	IdleInterval time.Duration
	// MaxSleep caps the sleep until the next job is due.
	MaxSleep     time.Duration
	ProbeTimeout time.Duration

	DefaultTries int
	DefaultDelay time.Duration
	MaxURLLength int
}

func DefaultPolicy() Policy {
	return Policy{
		Multiplier:   2,
		IdleInterval: 10 * time.Second,
		MaxSleep:     30 * time.Second,
		ProbeTimeout: 10 * time.Second,
		DefaultTries: 10,
		DefaultDelay: 30 * time.Minute,
		MaxURLLength: storage.MaxURLLength,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.IdleInterval <= 0 {
		p.IdleInterval = d.IdleInterval
	}
	if p.MaxSleep <= 0 {
		p.MaxSleep = d.MaxSleep
	}
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = d.ProbeTimeout
	}
	if p.DefaultTries < 1 {
		p.DefaultTries = d.DefaultTries
	}
	if p.DefaultDelay < time.Second {
		p.DefaultDelay = d.DefaultDelay
	}
	if p.MaxURLLength <= 0 || p.MaxURLLength > storage.MaxURLLength {
		p.MaxURLLength = storage.MaxURLLength
	}
	return p
}

// next returns the successor of j for a transient outcome. The backoff is
// chained on the previous run_at, not on the attempt time.
func (p Policy) next(j storage.Job, id string) storage.Job {
	delay := j.Delay * time.Duration(p.Multiplier)
	if delay > maxDelay || delay < j.Delay {
		delay = maxDelay
	}
	if delay < time.Second {
		delay = time.Second
	}
	return storage.Job{
		ID:             id,
		ChainID:        j.ChainID,
		Status:         storage.StatusPending,
		RunAt:          j.RunAt.Add(delay),
		Target:         j.Target,
		URL:            j.URL,
		TriesRemaining: j.TriesRemaining - 1,
		Delay:          delay,
	}
}
