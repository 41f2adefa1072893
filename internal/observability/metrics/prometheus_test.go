package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "evsched/pkg/logx"
)

func TestPrometheusSinkRecords(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, logx.Nop())

	s.TriggerArmed(KindCron)
	s.TriggerArmed(KindCron)
	s.TriggerFired(FireExpired)
	s.TriggersActive(7)
	s.JobExecuted("updateAttribute", OutcomeSuccess, 10*time.Millisecond)
	s.PushOutcome("POST_ATTRIBUTES_REQUEST", OutcomeFailed)

	if got := testutil.ToFloat64(s.triggersArmed.WithLabelValues(KindCron)); got != 2 {
		t.Fatalf("armed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.triggersActive); got != 7 {
		t.Fatalf("active = %v, want 7", got)
	}
	if got := testutil.ToFloat64(s.jobsTotal.WithLabelValues("updateAttribute", OutcomeSuccess)); got != 1 {
		t.Fatalf("jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.pushTotal.WithLabelValues("POST_ATTRIBUTES_REQUEST", OutcomeFailed)); got != 1 {
		t.Fatalf("push = %v, want 1", got)
	}
}

func TestDoubleRegistrationDoesNotPanic(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, logx.Nop())
	s := NewPrometheusSink(reg, logx.Nop())
	s.TriggerDisarmed(DisarmExplicit)
}

func TestOrNoop(t *testing.T) {
	t.Parallel()
	if _, ok := OrNoop(nil).(NoopSink); !ok {
		t.Fatal("OrNoop(nil) is not NoopSink")
	}
}
