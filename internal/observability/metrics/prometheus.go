package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "evsched/pkg/logx"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	log logx.Logger

	triggersArmed    *prometheus.CounterVec
	triggersDisarmed *prometheus.CounterVec
	triggersActive   prometheus.Gauge
	triggerFires     *prometheus.CounterVec

	intakeDepth  prometheus.Gauge
	backlogDepth prometheus.Gauge
	workersTotal prometheus.Gauge
	workersBusy  prometheus.Gauge
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec

	pushTotal *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initTriggerMetrics(reg)
	s.initQueueMetrics(reg)
	s.pushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evsched_push_total",
		Help: "Downstream push results by message type and outcome.",
	}, []string{"msg_type", "outcome"})
	s.register(reg, s.pushTotal, "evsched_push_total")
	return s
}

func (s *PrometheusSink) initTriggerMetrics(reg prometheus.Registerer) {
	s.triggersArmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evsched_triggers_armed_total",
		Help: "Triggers armed, by kind.",
	}, []string{"kind"})
	s.triggersDisarmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evsched_triggers_disarmed_total",
		Help: "Triggers disarmed, by reason.",
	}, []string{"reason"})
	s.triggersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evsched_triggers_active",
		Help: "Currently armed triggers.",
	})
	s.triggerFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evsched_trigger_fires_total",
		Help: "Trigger evaluations, by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.triggersArmed, "evsched_triggers_armed_total")
	s.register(reg, s.triggersDisarmed, "evsched_triggers_disarmed_total")
	s.register(reg, s.triggersActive, "evsched_triggers_active")
	s.register(reg, s.triggerFires, "evsched_trigger_fires_total")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.intakeDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evsched_queue_intake_depth",
		Help: "Events waiting in the intake FIFO.",
	})
	s.backlogDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evsched_queue_backlog_depth",
		Help: "Events handed to the worker pool but not yet started.",
	})
	s.workersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evsched_workers",
		Help: "Live worker goroutines.",
	})
	s.workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evsched_workers_busy",
		Help: "Workers currently executing a job.",
	})
	s.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evsched_jobs_total",
		Help: "Job executions by type and outcome.",
	}, []string{"job_type", "outcome"})
	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evsched_job_duration_seconds",
		Help:    "Job execution time in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"job_type"})

	s.register(reg, s.intakeDepth, "evsched_queue_intake_depth")
	s.register(reg, s.backlogDepth, "evsched_queue_backlog_depth")
	s.register(reg, s.workersTotal, "evsched_workers")
	s.register(reg, s.workersBusy, "evsched_workers_busy")
	s.register(reg, s.jobsTotal, "evsched_jobs_total")
	s.register(reg, s.jobDuration, "evsched_job_duration_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		s.log.Warn("metrics: register failed", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) TriggerArmed(kind string)      { s.triggersArmed.WithLabelValues(kind).Inc() }
func (s *PrometheusSink) TriggerDisarmed(reason string) { s.triggersDisarmed.WithLabelValues(reason).Inc() }
func (s *PrometheusSink) TriggersActive(n int)          { s.triggersActive.Set(float64(n)) }
func (s *PrometheusSink) TriggerFired(outcome string)   { s.triggerFires.WithLabelValues(outcome).Inc() }

func (s *PrometheusSink) QueueDepth(intake, backlog int) {
	s.intakeDepth.Set(float64(intake))
	s.backlogDepth.Set(float64(backlog))
}

func (s *PrometheusSink) Workers(total, busy int) {
	s.workersTotal.Set(float64(total))
	s.workersBusy.Set(float64(busy))
}

func (s *PrometheusSink) JobExecuted(jobType, outcome string, d time.Duration) {
	s.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	s.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (s *PrometheusSink) PushOutcome(msgType, outcome string) {
	s.pushTotal.WithLabelValues(msgType, outcome).Inc()
}
