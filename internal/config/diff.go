package config

import (
	"reflect"
	"strings"

	logx "evsched/pkg/logx"
)

// SummarizeChange lists the sections that differ between oldCfg and newCfg
// and safe fields describing the new values. Secrets (DSN, sink URL, token)
// are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.pool_size", newCfg.Scheduler.PoolSize),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.min_workers", newCfg.Queue.MinWorkers),
			logx.Int("queue.max_workers", newCfg.Queue.MaxWorkers),
			logx.String("queue.idle_timeout", strings.TrimSpace(newCfg.Queue.IdleTimeout)),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}
	if oldCfg.Sink != newCfg.Sink {
		changed = append(changed, "sink")
		attrs = append(attrs,
			logx.String("sink.driver", newCfg.Sink.Driver),
			logx.String("sink.exchange", newCfg.Sink.Exchange),
			logx.Bool("sink.url_set", strings.TrimSpace(newCfg.Sink.URL) != ""),
		)
	}
	if oldCfg.Ownership != newCfg.Ownership {
		changed = append(changed, "ownership")
		attrs = append(attrs,
			logx.String("ownership.mode", newCfg.Ownership.Mode),
			logx.Int("ownership.index", newCfg.Ownership.Index),
			logx.Int("ownership.count", newCfg.Ownership.Count),
		)
	}
	if oldCfg.Observability != newCfg.Observability {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
			logx.Bool("observability.pprof", newCfg.Observability.Pprof),
			logx.Bool("observability.token_set", newCfg.Observability.Token != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports the changed sections that are not hot-applied.
// Logging and observability are applied in place.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if s != "logging" && s != "observability" {
			out = append(out, s)
		}
	}
	return out
}
