package app

import (
	"context"
	"strings"

	"evsched/internal/config"
	logx "evsched/pkg/logx"
)

// reloadLoop applies hot-reloadable sections of each published config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			if err := a.logs.Apply(mapLoggingConfig(next)); err != nil {
				a.log.Warn("log file unavailable, console only", logx.Err(err))
			}
		case "observability":
			ocfg, err := mapObservabilityConfig(next)
			if err != nil {
				a.log.Warn("invalid observability config, keeping previous", logx.Err(err))
				continue
			}
			a.obs.Reconfigure(ctx, ocfg)
		}
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed, restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
