// Package app wires upwatch together: config, logging, the job store, the
// retry driver, the notifier and the supporting services, plus live config
// reload and ordered shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"upwatch/internal/config"
	"upwatch/internal/eventbus"
	"upwatch/internal/notifier"
	"upwatch/internal/observability/pprof"
	"upwatch/internal/probe"
	"upwatch/internal/retry"
	"upwatch/internal/runtime/sdnotify"
	rtsup "upwatch/internal/runtime/supervisor"
	"upwatch/internal/storage"
	"upwatch/internal/task/deadline"
	"upwatch/internal/task/engine"
	"upwatch/internal/task/scheduler"
	"upwatch/internal/transport/telegram"
	logx "upwatch/pkg/logx"
)

// Version is reported in the probe User-Agent and by the version command.
var Version = "dev"

// driver is the active retry driver: retry.Controller (durable) or
// retry.Runner (inprocess).
type driver interface {
	Enqueue(ctx context.Context, target, url string, tries int, delay time.Duration) (string, error)
	Policy() retry.Policy
	SetPolicy(p retry.Policy)
}

type App struct {
	opts options
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	mode string

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	tg    *telegram.Client

	prober probe.Prober
	pool   *engine.Pool
	sched  *scheduler.Service
	notif  *notifier.Service
	pprof  *pprof.Service
	sd     *sdnotify.Notifier

	drv    driver
	ctrl   *retry.Controller
	queue  *deadline.Queue
	runner *retry.Runner
}

// Option customizes NewApp. Tests use it to replace the network edges.
type Option func(*options)

type options struct {
	prober   probe.Prober
	senders  *notifier.Senders
	logTweak func(*logx.Config)
}

func WithProber(p probe.Prober) Option { return func(o *options) { o.prober = p } }

func WithSenders(s notifier.Senders) Option { return func(o *options) { o.senders = &s } }

// WithLogTweak adjusts the logging config on every (re)load. The CLI uses it
// for --json and --verbose.
func WithLogTweak(fn func(*logx.Config)) Option { return func(o *options) { o.logTweak = fn } }

func NewApp(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	mode, _ := mapMode(cfg)

	logSvc, log := logx.New(o.loggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	var tg *telegram.Client
	if tc, ok, _ := mapTelegramConfig(cfg); ok {
		tg, err = telegram.New(tc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		// The operator log sink shares the notifier's bot.
		logSvc.SetSender(tg)
	}

	bus := eventbus.New()

	var store storage.Store
	if mode == config.ModeInProcess {
		store = storage.NewMemory()
	} else {
		sc, _ := mapStorageConfig(cfg)
		store, err = storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	senders := notifier.Senders{}
	if o.senders != nil {
		senders = *o.senders
	} else if senders, err = buildSenders(cfg, tg, appLog); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	ncfg, _ := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, senders, log, bus, store)

	poolCfg, _ := mapPoolConfig(cfg)
	pool := engine.New(poolCfg, log, bus)
	schedCfg, _ := mapSchedulerConfig(cfg)
	sched := scheduler.New(schedCfg, pool, log)

	prober := o.prober
	if prober == nil {
		prober = newProber(cfg)
	}

	a := &App{
		opts:   o,
		cfgm:   cfgm,
		mode:   mode,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		tg:     tg,
		prober: prober,
		pool:   pool,
		sched:  sched,
		notif:  notif,
		sd:     sdnotify.New(mapSystemdConfig(cfg), log),
	}

	policy, _ := mapPolicy(cfg)
	ropts := []retry.Option{retry.WithPolicy(policy), retry.WithLogger(log), retry.WithBus(bus)}
	if mode == config.ModeInProcess {
		a.queue = deadline.New(pool, deadline.WithLogger(log))
		a.runner = retry.NewRunner(a.queue, store, prober, notif, ropts...)
		a.drv = a.runner
	} else {
		a.ctrl = retry.NewController(store, prober, notif, ropts...)
		a.drv = a.ctrl
	}

	ppc, _ := mapPprofConfig(cfg)
	a.pprof = pprof.New(ppc, log, a.status)
	return a, nil
}

func (o options) loggingConfig(cfg *config.Config) logx.Config {
	lc := mapLoggingConfig(cfg)
	if o.logTweak != nil {
		o.logTweak(&lc)
	}
	return lc
}

// newProber builds the HTTP prober from the probe section.
func newProber(cfg *config.Config) *probe.HTTP {
	ua := strings.TrimSpace(cfg.Probe.UserAgent)
	if ua == "" {
		ua = "upwatch/" + Version
	}
	return probe.NewHTTP(probe.WithUserAgent(ua))
}

// Mode reports the active retry driver.
func (a *App) Mode() string { return a.mode }

// Enqueue starts a retry chain. Zero tries or delay take the policy
// defaults.
func (a *App) Enqueue(ctx context.Context, target, url string, tries int, delay time.Duration) (string, error) {
	tries, delay = withDefaults(a.drv.Policy(), tries, delay)
	return a.drv.Enqueue(ctx, target, url, tries, delay)
}

func withDefaults(p retry.Policy, tries int, delay time.Duration) (int, time.Duration) {
	if tries == 0 {
		tries = p.DefaultTries
	}
	if delay == 0 {
		delay = p.DefaultDelay
	}
	return tries, delay
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reload re-reads the config file now instead of waiting for the watcher.
// Changes reach the services through the same path as a file edit.
func (a *App) Reload(ctx context.Context) error {
	changed, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.log.Warn("config reload failed", logx.Err(err))
		return err
	}
	if !changed {
		a.log.Info("config reload: no changes")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	cfg := a.cfgm.Get()
	// The notifier outlives the app context so Stop can drain notices of
	// attempts that finished during shutdown.
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(ctx))
	}
	a.pool.Start(runCtx)
	plan, _ := mapMaintenance(cfg)
	a.applyMaintenance(plan)
	a.sched.Start(runCtx)

	switch a.mode {
	case config.ModeInProcess:
		a.queue.Start(runCtx)
		if n, err := a.runner.Resume(runCtx); err != nil {
			return err
		} else if n > 0 {
			a.log.Info("pending jobs resumed", logx.Int("jobs", n))
		}
	default:
		a.sup.GoRestart("retry.controller", a.ctrl.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithStopOnCleanExit(false),
		)
	}

	a.pprof.Start(runCtx)

	// Domain events at debug level; job lifecycle is already logged at info.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if e.JobID != "" {
					fields = append(fields, logx.Job(e.JobID))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.log.Info("app started", logx.String("mode", a.mode), logx.String("version", Version))
	return nil
}

// applyConfig pushes a validated config to the running services.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" || s == "mode" {
			a.log.Warn("config section needs a restart to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(a.opts.loggingConfig(newCfg))

	if p, err := mapPolicy(newCfg); err == nil {
		a.drv.SetPolicy(p)
	}
	if pc, err := mapPoolConfig(newCfg); err == nil {
		a.pool.Apply(pc)
	}
	if sc, err := mapSchedulerConfig(newCfg); err == nil {
		a.sched.Apply(sc)
	}
	if plan, err := mapMaintenance(newCfg); err == nil {
		a.applyMaintenance(plan)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err == nil {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		if senders, err := buildSenders(newCfg, a.tg, a.log); err == nil {
			a.notif.SetSenders(senders)
		} else {
			a.log.Warn("notice channels not rebuilt; keeping previous", logx.Err(err))
		}
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(context.WithoutCancel(ctx))
		}
	}

	if ppc, err := mapPprofConfig(newCfg); err == nil {
		a.pprof.Reconfigure(ctx, ppc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so the controller loop and background goroutines unwind.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	// Producers first: nothing new reaches the pool or the notifier after
	// these return.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.queue != nil {
		step("deadline", 2*time.Second, a.queue.Shutdown)
	}
	step("pool", 5*time.Second, a.pool.Stop)
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
