// Package app wires the daemon: config, logging, storage, the schedule
// registry and ledger, the executor, the trigger, notifications and the API.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"recurswap/internal/analytics"
	"recurswap/internal/api"
	"recurswap/internal/config"
	"recurswap/internal/eventbus"
	"recurswap/internal/execution"
	"recurswap/internal/ledger"
	"recurswap/internal/notifier"
	"recurswap/internal/registry"
	rtsup "recurswap/internal/runtime/supervisor"
	"recurswap/internal/storage"
	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
	"recurswap/internal/task/scheduler"
	"recurswap/internal/transport"
	"recurswap/internal/transport/telegram"
	"recurswap/internal/venue"
	logx "recurswap/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg   *registry.Registry
	led   *ledger.Ledger
	stats *analytics.Aggregator
	exec  *execution.Executor
	paper *venue.Paper
	vol   *venue.Table

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	api    *api.Service

	notifySystemd bool
}

// NewApp loads and validates the config file and builds every component.
// Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; schedules and history are kept in memory only")
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	// Notifications
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	var sender transport.Sender
	if notifierTransport(cfg) == "telegram" {
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			closeStore()
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout},
			root.With(logx.String("comp", "telegram")))
		if err != nil {
			closeStore()
			return nil, err
		}
		sender = tg
	} else {
		sender = transport.NewLogSender(root.With(logx.String("comp", "notify")))
	}
	notifSvc := notifier.New(ncfg, sender, root.With(logx.String("comp", "notifier")), bus)
	sink := notifier.NewSwapSink(notifSvc, root.With(logx.String("comp", "notifier")))

	// Domain state
	policy, err := mapRetryPolicy(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	reg := registry.New(registry.Options{
		Store:      store,
		Log:        root.With(logx.String("comp", "registry")),
		Bus:        bus,
		Notifier:   sink,
		MaxRetries: policy.MaxRetries,
	})
	led := ledger.New(store, root.With(logx.String("comp", "ledger")))

	acfg, err := mapAnalyticsConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	stats := analytics.New(led, acfg)

	// Venue and oracles
	vs, err := mapVenueConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	var book *venue.Book
	var balances swap.BalanceOracle
	if vs.book {
		book = venue.NewBook(vs.balances)
		balances = book
	}
	paper := venue.NewPaper(vs.paper, book, root.With(logx.String("comp", "venue")))

	gs, err := mapGuardsConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	vol := venue.NewTable(gs.levels)
	vol.SetDefault(gs.def)

	ecfg, err := mapExecutionConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	exec := execution.New(ecfg, execution.Options{
		Registry:   reg,
		Ledger:     led,
		Venue:      paper,
		Balances:   balances,
		Volatility: vol,
		Notifier:   sink,
		Bus:        bus,
		Log:        root.With(logx.String("comp", "executor")),
	})

	// Execution runtime
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	engineSvc := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)
	// deleted schedules never enqueue again; drop their overlap state
	reg.OnDelete(engineSvc.Forget)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, scheduler.Options{
		Log:     root.With(logx.String("comp", "scheduler")),
		Bus:     bus,
		Source:  reg,
		Engine:  engineSvc,
		NewTask: exec.Task,
	})

	a := &App{
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		reg:           reg,
		led:           led,
		stats:         stats,
		exec:          exec,
		paper:         paper,
		vol:           vol,
		engine:        engineSvc,
		sched:         schedSvc,
		notif:         notifSvc,
		notifySystemd: cfg.Systemd.Notify,
	}

	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	a.api = api.New(apiCfg, api.Backend{
		Schedules:   reg,
		History:     led,
		Analytics:   stats,
		Engine:      engineSvc.Snapshot,
		Scheduler:   schedSvc.Snapshot,
		Supervisors: a.supervisors,
	}, root.With(logx.String("comp", "api")))

	return a, nil
}

// Registry, Ledger and Executor expose the domain components to embedders
// and tests.
func (a *App) Registry() *registry.Registry { return a.reg }
func (a *App) Ledger() *ledger.Ledger { return a.led }
func (a *App) Executor() *execution.Executor { return a.exec }
func (a *App) Analytics() *analytics.Aggregator { return a.stats }

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

// supervisors is the /healthz view of every running supervisor.
func (a *App) supervisors() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s.Snapshot()
		}
	}
	add("app", a.sup)
	add("task.engine", a.engine.Supervisor())
	add("notifier", a.notif.Supervisor())
	add("api", a.api.Supervisor())
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithBus(a.bus), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg)
	})

	if err := a.reg.Load(ctx); err != nil {
		return err
	}
	if err := a.led.Load(ctx); err != nil {
		return err
	}
	a.log.Info("state loaded", logx.Int("schedules", a.reg.Len()), logx.Int("records", a.led.Len()))

	runCtx := a.sup.Context()
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	// Engine before trigger: the first scan enqueues immediately.
	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	if a.api.Enabled() {
		a.api.Start(runCtx)
	}

	// Log bus events at debug for observability.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
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
				// Coalesce bursts: keep only the latest config in the channel.
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

	a.sup.Go0("systemd.watchdog", a.watchdog)
	a.sdNotify(daemon.SdNotifyReady)

	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("api", a.api.Enabled()),
		logx.Bool("notifier", a.notif.Enabled()),
	)
	return nil
}

// applyConfig fans a validated config out to every live component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))

	if policy, err := mapRetryPolicy(next); err == nil {
		a.reg.SetMaxRetries(policy.MaxRetries)
	}
	if ecfg, err := mapExecutionConfig(next); err != nil {
		a.log.Warn("invalid execution config; keeping previous", logx.Err(err))
	} else {
		a.exec.Reconfigure(ecfg)
	}

	if vs, err := mapVenueConfig(next); err != nil {
		a.log.Warn("invalid venue config; keeping previous", logx.Err(err))
	} else {
		// The balance book keeps its running state; venue.balances only seeds it.
		a.paper.Apply(vs.paper)
	}
	if gs, err := mapGuardsConfig(next); err != nil {
		a.log.Warn("invalid guards config; keeping previous", logx.Err(err))
	} else {
		a.vol.Replace(gs.levels)
		a.vol.SetDefault(gs.def)
	}
	if acfg, err := mapAnalyticsConfig(next); err != nil {
		a.log.Warn("invalid analytics config; keeping previous", logx.Err(err))
	} else {
		a.stats.Reconfigure(acfg)
	}

	// Engine first so a re-enabled trigger has somewhere to enqueue.
	if engCfg, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}
	if schedCfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(ctx, schedCfg); err != nil {
		a.log.Warn("scheduler apply failed", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		if notifierTransport(prev) != notifierTransport(next) {
			a.log.Warn("notifier.transport changed; restart required for the new transport")
		}
		prevEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prevEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if apiCfg, err := mapAPIConfig(next); err != nil {
		a.log.Warn("invalid api config; keeping previous", logx.Err(err))
	} else {
		a.api.Reconfigure(ctx, apiCfg)
	}

	a.log.Info("config reloaded", append([]logx.Field{changed}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn MUST honor stepCtx; if it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Order: stop accepting work, drain attempts, then flush state.
	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("registry.flush", 2*time.Second, func(c context.Context) error { return a.reg.Flush(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
