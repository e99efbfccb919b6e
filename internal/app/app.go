// Package app wires configuration, storage, content sources, delivery and
// the background loops into one runnable bot.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"newsbot/internal/config"
	"newsbot/internal/control"
	"newsbot/internal/delivery"
	"newsbot/internal/delivery/tgchannel"
	"newsbot/internal/eventbus"
	"newsbot/internal/monitor"
	"newsbot/internal/observability/metrics"
	"newsbot/internal/observability/ops"
	rtsup "newsbot/internal/runtime/supervisor"
	"newsbot/internal/storage"
	"newsbot/internal/subscriber"
	"newsbot/internal/task/scheduler"
	kit "newsbot/internal/transport"
	telegram "newsbot/internal/transport/telegram/adapter"
	"newsbot/internal/transport/telegram/router"
	logx "newsbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sups *rtsup.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	reg     *subscriber.Registry
	source  *liveSource
	out     *delivery.Deliverer

	sched *scheduler.Service
	mon   *monitor.Service
	ctl   *control.Service
	cmds  *commandSet
	cmdm  *router.Manager
	ops   *ops.Service

	httpClient *http.Client
	updates    chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; enable the Telegram sink only once its
	// target is known so Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	log = log.With(logx.String("comp", "app"))
	if chatID, threadID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, threadID)
	}
	logSvc.Apply(logCfg)

	loc, err := loadLocation(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	regOpts := []subscriber.Option{subscriber.WithLogger(log)}
	if store != nil {
		regOpts = append(regOpts, subscriber.WithPersister(store))
	}
	reg := subscriber.NewRegistry(regOpts...)

	httpClient := &http.Client{}
	multi, err := buildSources(cfg, loc, httpClient, log.With(logx.String("comp", "content")))
	if err != nil {
		return nil, err
	}
	source := newLiveSource(multi)

	pacing, err := mapPacing(cfg)
	if err != nil {
		return nil, err
	}
	formatter := delivery.NewFormatter(loc)
	out := delivery.NewDeliverer(tgchannel.New(ad), formatter, pacing, log.With(logx.String("comp", "delivery")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, reg, source, out, log.With(logx.String("comp", "scheduler")), bus)

	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(monCfg, reg, source, out, log.With(logx.String("comp", "monitor")), bus)

	ctlCfg, err := mapControlConfig(cfg, loc)
	if err != nil {
		return nil, err
	}
	ctl := control.New(ctlCfg, reg, mon, source, formatter, log.With(logx.String("comp", "control")))

	reg.OnChange(func() {
		sched.Resync()
		bus.Publish(eventbus.Event{Type: eventbus.TypeSubscribersChanged, Data: reg.Len()})
	})
	rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = reg.Restore(rctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("restore subscribers: %w", err)
	}

	sups := rtsup.NewRegistry()
	cmdm := router.NewManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs, sups)

	a := &App{
		cfgm:       cfgm,
		sups:       sups,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		reg:        reg,
		source:     source,
		out:        out,
		sched:      sched,
		mon:        mon,
		ctl:        ctl,
		cmds:       newCommandSet(ctl, sched),
		cmdm:       cmdm,
		httpClient: httpClient,
		updates:    make(chan kit.Update, 256),
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, log.With(logx.String("comp", "ops")), sups, ops.WithStatus(a.status))
	return a, nil
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithRestartHook(metrics.RecordRestart),
	)
	a.sups.Set("app", a.sup)

	// transactional config reload: reject what the services would refuse
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := loadLocation(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMonitorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPacing(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		a.sups.Set("telegram.adapter", sup)
	}

	a.cmdm.SetRegistry(a.sup.Context(), a.cmds.Commands(), a.cmds.Callbacks())

	if a.sched.Enabled() {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.mon.Enabled() {
		// The seed fetch may take up to the fetch timeout; keep it off the start path.
		a.sup.Go0("monitor.start", func(c context.Context) {
			if err := a.mon.Start(c); err != nil {
				a.log.Warn("monitor start failed", logx.Err(err))
			}
		})
	}
	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		if a.store != nil {
			runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
			return
		}
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
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("subscribers", a.reg.Len()),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("monitor", a.mon.Enabled()),
		logx.Bool("ops", a.ops.Enabled()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
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
			// fn must honor stepCtx; a late return is logged as a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("monitor", 2*time.Second, a.mon.Stop)
	step("ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
