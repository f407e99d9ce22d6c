// Package app wires the reminder bot together: config, logging, transport,
// storage, the reminder registry, the chat router and the optional digest and
// ops server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/observability/ops"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/digest"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	prom  *prometheus.Registry
	m     *metrics.Metrics

	adapter *telegram.Adapter
	notif   *notifier.Service

	// Built in Start; they need the run context.
	reg    *scheduler.Registry
	router *router.Router
	digest *digest.Service
	ops    *ops.Service

	loc     *time.Location
	started time.Time
	updates chan kit.Update
}

// Load reads and validates the config file without starting anything.
func Load(path string) (*config.ConfigManager, *config.Config, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfgm.Commit(cfg)
	return cfgm, cfg, nil
}

func New(cfgPath string) (*App, error) {
	cfgm, cfg, err := Load(cfgPath)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The telegram sink warns when enabled without a target, so it is
	// switched on only after the target is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, ok := mapStorageConfig(cfg); ok {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(prom)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	notif := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), bus, store, m)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		prom:    prom,
		m:       m,
		adapter: ad,
		notif:   notif,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()
	loc := cfg.Location()
	a.loc = loc

	opts := []scheduler.Option{
		scheduler.WithLogger(a.log.With(logx.String("comp", "scheduler"))),
		scheduler.WithLocation(loc),
		scheduler.WithBus(a.bus),
		scheduler.WithMetrics(a.m),
	}
	if a.store != nil {
		opts = append(opts, scheduler.WithStore(a.store))
	}
	a.reg = scheduler.New(runCtx, a.notif, opts...)
	if a.store != nil {
		rctx, cancel := context.WithTimeout(runCtx, 30*time.Second)
		_, err := a.reg.Restore(rctx)
		cancel()
		if err != nil {
			return fmt.Errorf("restore reminders: %w", err)
		}
	}

	a.router = router.New(mapRouterConfig(cfg), a.adapter, a.reg, a.log.With(logx.String("comp", "router")), a.m)
	a.digest = digest.New(mapDigestConfig(cfg), a.reg, a.notif, loc, a.log.With(logx.String("comp", "digest")))
	a.ops = ops.New(mapOpsConfig(cfg), ops.Deps{
		Reminders: a.reg,
		Gatherer:  a.prom,
		Status:    a.status,
	}, a.log.With(logx.String("comp", "ops")))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if err := a.digest.Start(runCtx); err != nil {
		// A bad digest schedule must not keep reminders from running.
		a.log.Warn("digest not started", logx.Err(err))
	}
	a.ops.Start(runCtx)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("reminders", a.reg.Len()),
		logx.String("utc_offset", loc.String()),
		logx.String("storage", cfg.StorageDriver()),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

// status is the /api/status payload.
func (a *App) status() any {
	sups := map[string]rtsup.Snapshot{"app": a.sup.Snapshot()}
	if a.reg != nil {
		sups["scheduler"] = a.reg.Stats()
	}
	if s := a.adapter.Supervisor(); s != nil {
		sups["telegram.adapter"] = s.Snapshot()
	}
	if a.router != nil {
		if s := a.router.Supervisor(); s != nil {
			sups["telegram.router"] = s.Snapshot()
		}
	}
	out := map[string]any{
		"uptime":        time.Since(a.started).Round(time.Second).String(),
		"supervisors":   sups,
		"bus_dropped":   eventbus.Dropped(a.bus),
		"notifications": a.notif.History(),
	}
	if a.reg != nil {
		out["reminders"] = a.reg.Len()
	}
	if a.router != nil {
		out["open_sessions"] = a.router.Sessions().Len()
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
		}
	}

	if a.digest != nil {
		step("digest", time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	}
	if a.ops != nil {
		step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	}
	if a.reg != nil {
		step("scheduler", 3*time.Second, a.reg.Shutdown)
	}
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
