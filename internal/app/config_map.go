package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"evsched/internal/config"
	"evsched/internal/observability/server"
	"evsched/internal/ownership"
	"evsched/internal/storage"
	"evsched/internal/task/engine"
	"evsched/internal/task/trigger"
	"evsched/internal/transport"
	amqpx "evsched/internal/transport/amqp"
	logx "evsched/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{PoolSize: cfg.Scheduler.PoolSize, QueueSize: cfg.Scheduler.FireQueueSize}
}

func mapQueueConfig(cfg *config.Config) (engine.Config, error) {
	q := cfg.Queue
	idle, err := config.ParseDurationField("queue.idle_timeout", q.IdleTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	grace, err := config.ParseDurationField("queue.shutdown_grace", q.ShutdownGrace)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MinWorkers:    q.MinWorkers,
		MaxWorkers:    q.MaxWorkers,
		IdleTimeout:   idle,
		ShutdownGrace: grace,
		HistorySize:   q.HistorySize,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if driver == "sqlite" && path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
	}
	return storage.Config{Driver: driver, Path: path, DSN: strings.TrimSpace(sc.DSN), BusyTimeout: busy}, nil
}

func mapOwnershipConfig(cfg *config.Config) ownership.Config {
	return ownership.Config{Mode: cfg.Ownership.Mode, Index: cfg.Ownership.Index, Count: cfg.Ownership.Count}
}

func mapObservabilityConfig(cfg *config.Config) (server.Config, error) {
	o := cfg.Observability
	rt, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	// 0 keeps /debug/pprof/profile usable.
	wt, err := config.ParseDurationField("observability.write_timeout", o.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Pprof:         o.Pprof,
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// OpenStore opens the configured definition store.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, sc, log)
}

// openSink builds the downstream sink. closer is nil for sinks without a
// connection.
func openSink(ctx context.Context, cfg *config.Config, log logx.Logger) (sink transport.Sink, closer io.Closer, health func() error, err error) {
	sc := cfg.Sink
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "", "log":
		sink = transport.NewLogSink(log)
	case "amqp":
		conn, err := amqpx.Dial(sc.URL, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sink: %w", err)
		}
		pub := amqpx.NewPublisher(conn, sc.Exchange, log)
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pub.DeclareTopology(dctx)
		cancel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, nil, fmt.Errorf("sink: %w", err)
		}
		sink, closer = pub, conn
		health = func() error {
			if !conn.IsConnected() {
				return fmt.Errorf("amqp sink disconnected")
			}
			return nil
		}
	default:
		return nil, nil, nil, fmt.Errorf("unknown sink.driver: %s", sc.Driver)
	}
	if sc.RatePerSec > 0 {
		sink = transport.NewRateLimited(sink, sc.RatePerSec, sc.Burst)
	}
	return sink, closer, health, nil
}
