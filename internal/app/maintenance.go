package app

import (
	"context"
	"time"

	logx "upwatch/pkg/logx"
)

const (
	jobPurge = "maintenance.purge"
	jobStats = "maintenance.stats"
)

// applyMaintenance (re)registers the housekeeping schedules. An empty spec
// removes the schedule.
func (a *App) applyMaintenance(plan maintenancePlan) {
	if plan.PurgeSpec == "" {
		a.sched.Remove(jobPurge)
	} else if err := a.sched.Add(jobPurge, plan.PurgeSpec, 0, a.purgeJob(plan.Retention)); err != nil {
		a.log.Warn("maintenance purge not scheduled", logx.Err(err))
	}
	if plan.StatsSpec == "" {
		a.sched.Remove(jobStats)
	} else if err := a.sched.Add(jobStats, plan.StatsSpec, 0, a.statsJob); err != nil {
		a.log.Warn("maintenance stats not scheduled", logx.Err(err))
	}
}

func (a *App) purgeJob(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		n, err := a.store.PurgeDone(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("done jobs purged", logx.Int64("rows", n), logx.Time("before", cutoff))
		}
		return nil
	}
}

func (a *App) statsJob(ctx context.Context) error {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	fields := []logx.Field{logx.Int64("pending", st.Pending), logx.Int64("done", st.Done)}
	if !st.NextRunAt.IsZero() {
		fields = append(fields, logx.Time("next_run_at", st.NextRunAt))
	}
	a.log.Info("job store stats", fields...)
	return nil
}
