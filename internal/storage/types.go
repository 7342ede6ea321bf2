package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConstraint reports a duplicate job id or a row that violates the schema.
	ErrConstraint = errors.New("storage: constraint violation")
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("storage: job not found")
	// ErrConflict reports a finish on a job that is no longer pending.
	ErrConflict = errors.New("storage: job already finished")
)

// MaxURLLength bounds Job.URL.
const MaxURLLength = 2000

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Job is one attempt of a retry chain.
type Job struct {
	ID             string
	ChainID        string
	Status         Status
	RunAt          time.Time
	Target         string
	URL            string
	TriesRemaining int
	// Delay is kept in whole seconds.
	Delay time.Duration

	// Audit columns. Outcome is empty while pending.
	Outcome    string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Validate checks the fields every stored row must satisfy.
func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.ID) == "":
		return fmt.Errorf("%w: empty job id", ErrConstraint)
	case j.Status != StatusPending && j.Status != StatusDone:
		return fmt.Errorf("%w: bad status %q", ErrConstraint, j.Status)
	case strings.TrimSpace(j.URL) == "":
		return fmt.Errorf("%w: empty url", ErrConstraint)
	case len(j.URL) > MaxURLLength:
		return fmt.Errorf("%w: url longer than %d", ErrConstraint, MaxURLLength)
	case j.TriesRemaining < 0:
		return fmt.Errorf("%w: negative tries", ErrConstraint)
	case j.Delay < 0:
		return fmt.Errorf("%w: negative delay", ErrConstraint)
	case j.RunAt.IsZero():
		return fmt.Errorf("%w: zero run_at", ErrConstraint)
	}
	return nil
}

// normalize applies the storage resolution: UTC millis for times, whole
// seconds for delay, chain head defaults.
func (j Job) normalize(now time.Time) Job {
	j.RunAt = j.RunAt.UTC().Truncate(time.Millisecond)
	j.Delay = j.Delay.Truncate(time.Second)
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.ChainID == "" {
		j.ChainID = j.ID
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.CreatedAt = j.CreatedAt.UTC().Truncate(time.Millisecond)
	return j
}

func prepareInsert(j Job, now time.Time) (Job, error) {
	j = j.normalize(now)
	if j.Status != StatusPending {
		return Job{}, fmt.Errorf("%w: insert of %s job", ErrConstraint, j.Status)
	}
	return j, j.Validate()
}

// checkSuccessor enforces the chain invariants on a retry row.
func checkSuccessor(pred Job, succ Job) error {
	if succ.ID == pred.ID {
		return fmt.Errorf("%w: successor reuses job id", ErrConstraint)
	}
	if succ.TriesRemaining >= pred.TriesRemaining {
		return fmt.Errorf("%w: successor tries %d not below %d", ErrConstraint, succ.TriesRemaining, pred.TriesRemaining)
	}
	if !succ.RunAt.After(pred.RunAt) {
		return fmt.Errorf("%w: successor run_at not after predecessor", ErrConstraint)
	}
	if succ.ChainID != pred.ChainID {
		return fmt.Errorf("%w: successor chain %q differs from %q", ErrConstraint, succ.ChainID, pred.ChainID)
	}
	return nil
}

type Stats struct {
	Pending   int64     `json:"pending"`
	Done      int64     `json:"done"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
}

// JobStore holds retry chains.
type JobStore interface {
	// Insert stores a new pending job. Duplicate ids fail with ErrConstraint.
	Insert(ctx context.Context, j Job) error
	// FindNextPending returns the pending job with the earliest run_at.
	FindNextPending(ctx context.Context) (Job, bool, error)
	// Finish marks id done and inserts successor (if any) atomically.
	// It fails with ErrNotFound for unknown ids and ErrConflict when the job
	// is no longer pending.
	Finish(ctx context.Context, id, outcome string, successor *Job) error

	Get(ctx context.Context, id string) (Job, error)
	Chain(ctx context.Context, chainID string) ([]Job, error)
	ListPending(ctx context.Context, limit int) ([]Job, error)
	Stats(ctx context.Context) (Stats, error)
	// PurgeDone deletes done rows finished before the cutoff.
	PurgeDone(ctx context.Context, before time.Time) (int64, error)
}

// NoticeLog remembers delivered terminal notices by job id.
type NoticeLog interface {
	// MarkNotified records a notice. It returns false if one was already recorded.
	MarkNotified(ctx context.Context, jobID, kind string) (bool, error)
	Notified(ctx context.Context, jobID string) (bool, error)
}

type Store interface {
	JobStore
	NoticeLog
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite file via modernc.org/sqlite (default)
//   - "sqlite3": SQLite file via mattn/go-sqlite3 (build tag cgo_sqlite)
//   - "memory": process memory, lost on exit
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}
