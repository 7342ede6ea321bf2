package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store. It follows the same transition rules as
// the SQL store and backs in-process mode and tests.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]Job
	notices map[string]notice
	now     func() time.Time
}

type notice struct {
	kind string
	at   time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs:    map[string]Job{},
		notices: map[string]notice{},
		now:     time.Now,
	}
}

func (m *Memory) Insert(ctx context.Context, j Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j, err := prepareInsert(j, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return fmt.Errorf("%w: duplicate job id %s", ErrConstraint, j.ID)
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) FindNextPending(ctx context.Context) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		best  Job
		found bool
	)
	for _, j := range m.jobs {
		if j.Status != StatusPending {
			continue
		}
		if !found || j.RunAt.Before(best.RunAt) || (j.RunAt.Equal(best.RunAt) && j.ID < best.ID) {
			best, found = j, true
		}
	}
	return best, found, nil
}

func (m *Memory) Finish(ctx context.Context, id, outcome string, successor *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	pred, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if pred.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}

	// Validate the successor before touching anything so the pair stays atomic.
	var succ Job
	if successor != nil {
		var err error
		if succ, err = prepareInsert(*successor, now); err != nil {
			return err
		}
		if err := checkSuccessor(pred, succ); err != nil {
			return err
		}
		if _, dup := m.jobs[succ.ID]; dup {
			return fmt.Errorf("%w: duplicate job id %s", ErrConstraint, succ.ID)
		}
	}

	pred.Status = StatusDone
	pred.Outcome = outcome
	pred.FinishedAt = now.UTC().Truncate(time.Millisecond)
	m.jobs[id] = pred
	if successor != nil {
		m.jobs[succ.ID] = succ
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

func (m *Memory) Chain(ctx context.Context, chainID string) ([]Job, error) {
	return m.collect(0, func(j Job) bool { return j.ChainID == chainID }), nil
}

func (m *Memory) ListPending(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return m.collect(limit, func(j Job) bool { return j.Status == StatusPending }), nil
}

func (m *Memory) collect(limit int, keep func(Job) bool) []Job {
	m.mu.Lock()
	var out []Job
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].RunAt.Equal(out[b].RunAt) {
			return out[a].RunAt.Before(out[b].RunAt)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, j := range m.jobs {
		switch j.Status {
		case StatusPending:
			st.Pending++
			if st.NextRunAt.IsZero() || j.RunAt.Before(st.NextRunAt) {
				st.NextRunAt = j.RunAt
			}
		case StatusDone:
			st.Done++
		}
	}
	return st, nil
}

func (m *Memory) PurgeDone(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.Status == StatusDone && j.FinishedAt.Before(before) {
			delete(m.jobs, id)
			n++
		}
	}
	for id, nt := range m.notices {
		if nt.at.Before(before) {
			delete(m.notices, id)
		}
	}
	return n, nil
}

func (m *Memory) MarkNotified(ctx context.Context, jobID, kind string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notices[jobID]; ok {
		return false, nil
	}
	m.notices[jobID] = notice{kind: kind, at: m.now()}
	return true, nil
}

func (m *Memory) Notified(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.notices[jobID]
	return ok, nil
}

func (m *Memory) Close() error { return nil }
