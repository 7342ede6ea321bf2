package app

import (
	"context"
	"fmt"
	"time"

	"upwatch/internal/config"
	"upwatch/internal/probe"
	"upwatch/internal/retry"
	"upwatch/internal/storage"
	logx "upwatch/pkg/logx"
)

// The helpers below back the one-shot CLI commands. They share the
// daemon's config mapping but start no background services.

// OpenStore opens the durable job store named by cfg.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	sc, _ := mapStorageConfig(cfg)
	if sc.Driver == "memory" {
		return nil, fmt.Errorf("storage.driver memory is private to a running daemon")
	}
	return storage.Open(sc, log)
}

// Intake inserts chain heads for a daemon running against the same store.
type Intake struct {
	ctrl *retry.Controller
}

func NewIntake(cfg *config.Config, store storage.JobStore, log logx.Logger) (*Intake, error) {
	policy, err := mapPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return &Intake{ctrl: retry.NewController(store, nil, nil, retry.WithPolicy(policy), retry.WithLogger(log))}, nil
}

// Enqueue behaves like App.Enqueue.
func (in *Intake) Enqueue(ctx context.Context, target, url string, tries int, delay time.Duration) (string, error) {
	tries, delay = withDefaults(in.ctrl.Policy(), tries, delay)
	return in.ctrl.Enqueue(ctx, target, url, tries, delay)
}

// Check probes url once with the configured timeout and user agent.
func Check(ctx context.Context, cfg *config.Config, url string) (probe.Outcome, error) {
	policy, err := mapPolicy(cfg)
	if err != nil {
		return probe.Outcome{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, policy.ProbeTimeout)
	defer cancel()
	return newProber(cfg).Probe(ctx, url), nil
}
