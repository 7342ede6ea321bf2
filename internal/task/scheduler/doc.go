// Package scheduler triggers recurring maintenance work (retention purge,
// store statistics) on cron or interval schedules. It only triggers: each
// run is handed to the worker pool, which executes it.
package scheduler
