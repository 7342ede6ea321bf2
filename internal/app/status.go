package app

import (
	"context"
	"time"

	"upwatch/internal/notifier"
	rtsup "upwatch/internal/runtime/supervisor"
	"upwatch/internal/storage"
	"upwatch/internal/task/engine"
	"upwatch/internal/task/scheduler"
)

const statusPendingLimit = 20

// Status is the /debug/upwatch document.
type Status struct {
	Mode        string                    `json:"mode"`
	Version     string                    `json:"version"`
	Store       storage.Stats             `json:"store"`
	Pending     []JobView                 `json:"pending"`
	Pool        engine.Snapshot           `json:"pool"`
	Scheduler   scheduler.Snapshot        `json:"scheduler"`
	Notices     []notifier.HistoryItem    `json:"notices"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

// JobView is the JSON shape of a job row.
type JobView struct {
	ID             string    `json:"id"`
	ChainID        string    `json:"chain_id"`
	Status         string    `json:"status"`
	RunAt          time.Time `json:"run_at"`
	Target         string    `json:"target"`
	URL            string    `json:"url"`
	TriesRemaining int       `json:"tries_remaining"`
	DelaySeconds   int64     `json:"delay_seconds"`
	Outcome        string    `json:"outcome,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

func ViewJob(j storage.Job) JobView {
	return JobView{
		ID:             j.ID,
		ChainID:        j.ChainID,
		Status:         string(j.Status),
		RunAt:          j.RunAt,
		Target:         j.Target,
		URL:            j.URL,
		TriesRemaining: j.TriesRemaining,
		DelaySeconds:   int64(j.Delay / time.Second),
		Outcome:        j.Outcome,
		FinishedAt:     j.FinishedAt,
	}
}

func (a *App) status(ctx context.Context) (any, error) {
	return a.Status(ctx)
}

func (a *App) Status(ctx context.Context) (Status, error) {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	pending, err := a.store.ListPending(ctx, statusPendingLimit)
	if err != nil {
		return Status{}, err
	}
	out := Status{
		Mode:        a.mode,
		Version:     Version,
		Store:       st,
		Pending:     make([]JobView, 0, len(pending)),
		Pool:        a.pool.Snapshot(),
		Scheduler:   a.sched.Snapshot(),
		Notices:     a.notif.Snapshot(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	for _, j := range pending {
		out.Pending = append(out.Pending, ViewJob(j))
	}
	for name, sup := range map[string]*rtsup.Supervisor{
		"app":      a.sup,
		"pool":     a.pool.Supervisor(),
		"notifier": a.notif.Supervisor(),
		"pprof":    a.pprof.Supervisor(),
	} {
		if sup != nil {
			out.Supervisors[name] = sup.Snapshot()
		}
	}
	return out, nil
}
