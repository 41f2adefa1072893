package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"evsched/internal/config"
	"evsched/internal/eventbus"
	"evsched/internal/jobs"
	"evsched/internal/observability/metrics"
	"evsched/internal/observability/server"
	"evsched/internal/ownership"
	rtsup "evsched/internal/runtime/supervisor"
	"evsched/internal/services/scheduler"
	"evsched/internal/storage"
	"evsched/internal/task/engine"
	"evsched/internal/task/trigger"
	logx "evsched/pkg/logx"
)

// App wires the scheduler engine with its store, sink, queue, registry and
// observability server.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store      storage.Store
	sinkCloser io.Closer
	sinkHealth func() error

	queue    *engine.Service
	triggers *trigger.Registry
	sched    *scheduler.Service
	obs      *server.Service
}

// New builds the app from the committed config of cfgm. Nothing runs until
// Start.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	msink := metrics.NewPrometheusSink(reg, root.With(logx.String("comp", "metrics")))

	store, err := OpenStore(ctx, cfg, root)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	sink, closer, health, err := openSink(ctx, cfg, root.With(logx.String("comp", "sink")))
	if err != nil {
		return fail(err)
	}

	owner, err := ownership.New(mapOwnershipConfig(cfg))
	if err != nil {
		return fail(err)
	}
	qcfg, err := mapQueueConfig(cfg)
	if err != nil {
		return fail(err)
	}
	ocfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return fail(err)
	}

	dispatcher := jobs.NewStandardDispatcher(jobs.Env{
		Sink:      sink,
		Log:       root.With(logx.String("comp", "jobs")),
		Bus:       bus,
		Metrics:   msink,
		ServiceID: cfg.Sink.ServiceID,
	})
	queue := engine.New(qcfg, dispatcher, root.With(logx.String("comp", "queue")), bus, msink)
	triggers := trigger.New(mapTriggerConfig(cfg), root.With(logx.String("comp", "trigger")), bus, msink)
	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, store, triggers, queue, owner, root.With(logx.String("comp", "scheduler")), bus)

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		sinkCloser: closer,
		sinkHealth: health,
		queue:      queue,
		triggers:   triggers,
		sched:      sched,
	}
	a.obs = server.New(ocfg, root.With(logx.String("comp", "observability")), reg, a.state, a.health)

	log.Info("app built",
		logx.String("storage", cfg.Storage.Driver),
		logx.String("sink", cfg.Sink.Driver),
		logx.String("ownership", cfg.Ownership.Mode),
		logx.Strings("jobs", dispatcher.Types()),
	)
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor is cancelled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	// The queue drains on Stop, after the app context is already cancelled.
	if err := a.sched.Start(context.WithoutCancel(c)); err != nil {
		return err
	}
	if a.obs.Enabled() {
		a.obs.Start(c)
	}

	if a.bus != nil {
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
					a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if a.cfgm.Path() != "" {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started", logx.Bool("scheduler_enabled", a.sched.Enabled()))
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	grace := 35 * time.Second
	a.step(ctx, "scheduler", grace, a.sched.Stop)
	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "resources", 2*time.Second, func(context.Context) error { return a.closeResources() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeResources() error {
	var errs []error
	if a.sinkCloser != nil {
		errs = append(errs, a.sinkCloser.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
		a.log.Warn("stop step deadline reached, continuing",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
		}()
	}
}

// state is served on /debug/state.
func (a *App) state() any {
	out := struct {
		Scheduler  scheduler.Snapshot `json:"scheduler"`
		Supervisor *rtsup.Snapshot    `json:"supervisor,omitempty"`
	}{Scheduler: a.sched.Snapshot()}
	if a.sup != nil {
		s := a.sup.Snapshot()
		out.Supervisor = &s
	}
	return out
}

// health is served on /healthz.
func (a *App) health() error {
	if a.sched.Enabled() && !a.sched.Running() {
		return errors.New("scheduler not running")
	}
	if a.sinkHealth != nil {
		return a.sinkHealth()
	}
	return nil
}
