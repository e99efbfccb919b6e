package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"newsbot/internal/config"
	logx "newsbot/pkg/logx"
)

// reloadLoop applies published configs to the running services.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if oldTZ, _ := loadLocation(oldCfg); oldTZ != nil {
		if newTZ, err := loadLocation(newCfg); err == nil && newTZ.String() != oldTZ.String() {
			a.log.Warn("news timezone changed; restart required for card timestamps")
		}
	}

	if changed("telegram") || changed("logging") {
		// set the target first so Apply() doesn't warn when Telegram logging is enabled
		if chatID, threadID, ok := logTarget(newCfg); ok {
			a.logs.SetTelegramTarget(chatID, threadID)
		} else {
			a.logs.SetTelegramTarget(0, 0)
		}
		a.logs.Apply(mapLogConfig(newCfg))
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}

	if changed("news") {
		a.applyNews(newCfg)
	}
	if changed("scheduler") || changed("news") {
		a.applyScheduler(ctx, newCfg)
	}
	// A threshold set over chat survives reloads that leave the monitor section alone.
	if changed("monitor") {
		a.applyMonitor(ctx, newCfg)
	}
	if changed("ops") {
		if oc, err := mapOpsConfig(newCfg); err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
		} else {
			a.ops.Reconfigure(ctx, oc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNews(cfg *config.Config) {
	loc, err := loadLocation(cfg)
	if err != nil {
		a.log.Warn("invalid timezone; keeping previous sources", logx.Err(err))
		return
	}
	multi, err := buildSources(cfg, loc, a.httpClient, a.log.With(logx.String("comp", "content")))
	if err != nil {
		a.log.Warn("invalid news sources; keeping previous", logx.Err(err))
		return
	}
	a.source.Swap(multi)

	if cc, err := mapControlConfig(cfg, loc); err == nil {
		a.ctl.Apply(cc)
	}
	a.log.Info("news sources swapped", logx.Int("sources", multi.Len()))
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config) {
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	if pacing, err := mapPacing(cfg); err == nil {
		a.out.SetPacing(pacing)
	}

	prev := a.sched.Enabled()
	a.sched.Apply(sc)
	switch {
	case prev && !sc.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prev && sc.Enabled:
		a.log.Info("scheduler enabled via config")
		if err := a.sched.Start(ctx); err != nil {
			a.log.Warn("scheduler start failed", logx.Err(err))
		}
	}
}

func (a *App) applyMonitor(ctx context.Context, cfg *config.Config) {
	mc, err := mapMonitorConfig(cfg)
	if err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
		return
	}
	prev := a.mon.Enabled()
	a.mon.Apply(mc)
	switch {
	case prev && !mc.Enabled:
		a.log.Info("monitor disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.mon.Stop(stopCtx); err != nil {
			a.log.Warn("monitor stop", logx.Err(err))
		}
		cancel()
	case !prev && mc.Enabled:
		a.log.Info("monitor enabled via config")
		if err := a.mon.Start(ctx); err != nil {
			a.log.Warn("monitor start failed", logx.Err(err))
		}
	}
}
