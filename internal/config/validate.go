package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "evsched/pkg/logx"
)

// Validate checks cfg. Hot reloads that fail validation are rejected.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	s := cfg.Scheduler
	if s.PoolSize < 0 {
		add(errors.New("scheduler.pool_size must be >= 0"))
	}
	if s.FireQueueSize < 0 {
		add(errors.New("scheduler.fire_queue_size must be >= 0"))
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}

	q := cfg.Queue
	if q.MinWorkers < 0 || q.MaxWorkers < 0 || q.HistorySize < 0 {
		add(errors.New("queue.min_workers, queue.max_workers and queue.history_size must be >= 0"))
	}
	if q.MinWorkers > 0 && q.MaxWorkers > 0 && q.MaxWorkers < q.MinWorkers {
		add(fmt.Errorf("queue.max_workers (%d) must be >= queue.min_workers (%d)", q.MaxWorkers, q.MinWorkers))
	}
	_, err := ParseDurationField("queue.idle_timeout", q.IdleTimeout)
	add(err)
	_, err = ParseDurationField("queue.shutdown_grace", q.ShutdownGrace)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for driver postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Sink.Driver)) {
	case "", "log":
	case "amqp":
		if strings.TrimSpace(cfg.Sink.URL) == "" {
			add(errors.New("sink.url is required for driver amqp"))
		}
	default:
		add(fmt.Errorf("sink.driver: unknown driver %q", cfg.Sink.Driver))
	}
	if cfg.Sink.RatePerSec < 0 || cfg.Sink.Burst < 0 {
		add(errors.New("sink.rate_per_sec and sink.burst must be >= 0"))
	}

	o := cfg.Ownership
	switch strings.ToLower(strings.TrimSpace(o.Mode)) {
	case "", "all":
	case "hash":
		if o.Count <= 0 || o.Index < 0 || o.Index >= o.Count {
			add(fmt.Errorf("ownership: index %d out of range for count %d", o.Index, o.Count))
		}
	default:
		add(fmt.Errorf("ownership.mode: unknown mode %q", o.Mode))
	}

	ob := cfg.Observability
	for path, raw := range map[string]string{
		"observability.read_timeout":  ob.ReadTimeout,
		"observability.write_timeout": ob.WriteTimeout,
		"observability.idle_timeout":  ob.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	return errors.Join(errs...)
}
