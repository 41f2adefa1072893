package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"evsched/internal/domain"
	logx "evsched/pkg/logx"
)

func TestPlanFor(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 5, 10, 17, 42, 0, time.UTC)
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name     string
		schedule string
		loc      *time.Location
		wantOK   bool
		wantKind string
		wantSpec string
		wantAt   time.Time
		wantEnds time.Time
		wantErr  bool
	}{
		{name: "no schedule", schedule: "", wantOK: false},
		{name: "nothing set", schedule: `{"startTime":0}`, wantOK: false},
		{
			name:     "direct cron in event timezone",
			schedule: `{"timezone":"Europe/Paris","cronExpression":"0 */5 * * * ?"}`,
			wantOK:   true, wantKind: "cron", wantSpec: "CRON_TZ=Europe/Paris 0 */5 * * * ?",
		},
		{
			name:     "direct cron uses default zone",
			schedule: `{"cronExpression":"0 0 12 * * ?"}`,
			loc:      paris,
			wantOK:   true, wantKind: "cron", wantSpec: "CRON_TZ=Europe/Paris 0 0 12 * * ?",
		},
		{
			name:     "no zone anywhere uses the system zone",
			schedule: `{"cronExpression":"0 0 12 * * ?"}`,
			wantOK:   true, wantKind: "cron", wantSpec: "CRON_TZ=Local 0 0 12 * * ?",
		},
		{name: "bad cron", schedule: `{"cronExpression":"nope"}`, wantErr: true},
		{
			name:     "hours recurrence",
			schedule: fmt.Sprintf(`{"startTime":%d,"repeatEnabled":true,"repeat":{"repeatInterval":2,"timeUnit":"hours"}}`, start.UnixMilli()),
			loc:      time.UTC,
			wantOK:   true, wantKind: "cron", wantSpec: "CRON_TZ=UTC 0 0 */2 * * ?",
		},
		{
			name:     "unknown timezone falls back to UTC",
			schedule: fmt.Sprintf(`{"timezone":"Mars/Olympus","startTime":%d,"repeatEnabled":true,"repeat":{"repeatInterval":1,"timeUnit":"ans"}}`, start.UnixMilli()),
			wantOK:   true, wantKind: "cron", wantSpec: "CRON_TZ=UTC 42 17 10 5 3 ?",
		},
		{
			name:     "untranslatable recurrence falls back to one-shot",
			schedule: fmt.Sprintf(`{"startTime":%d,"repeatEnabled":true,"repeat":{"repeatInterval":1,"timeUnit":"fortnights"}}`, start.UnixMilli()),
			wantOK:   true, wantKind: "once", wantAt: start,
		},
		{
			name:     "untranslatable recurrence keeps endsOn",
			schedule: fmt.Sprintf(`{"startTime":%d,"repeatEnabled":true,"repeat":{"repeatInterval":1,"timeUnit":"months","endsOn":%d}}`, start.UnixMilli(), start.Add(time.Hour).UnixMilli()),
			wantOK:   true, wantKind: "once", wantAt: start, wantEnds: start.Add(time.Hour),
		},
		{
			name:     "untranslatable recurrence without start",
			schedule: `{"repeatEnabled":true,"repeat":{"repeatInterval":0,"timeUnit":"hours"}}`,
			wantErr:  true,
		},
		{
			name:     "one-shot",
			schedule: fmt.Sprintf(`{"startTime":%d}`, start.UnixMilli()),
			wantOK:   true, wantKind: "once", wantAt: start,
		},
		{
			name:     "one-shot keeps endsOn",
			schedule: fmt.Sprintf(`{"startTime":%d,"repeat":{"endsOn":%d}}`, start.UnixMilli(), start.Add(time.Minute).UnixMilli()),
			wantOK:   true, wantKind: "once", wantAt: start, wantEnds: start.Add(time.Minute),
		},
	}
	for _, tt := range tests {
		def := domain.Definition{ID: uuid.New()}
		if tt.schedule != "" {
			def.Schedule = []byte(tt.schedule)
		}
		p, ok, err := PlanFor(def, tt.loc, logx.Nop())
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidDefinition) {
				t.Fatalf("%s: err = %v, want ErrInvalidDefinition", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: err = %v", tt.name, err)
		}
		if ok != tt.wantOK {
			t.Fatalf("%s: ok = %v, want %v", tt.name, ok, tt.wantOK)
		}
		if !ok {
			continue
		}
		if p.Kind != tt.wantKind {
			t.Fatalf("%s: kind = %q, want %q", tt.name, p.Kind, tt.wantKind)
		}
		if p.Spec != tt.wantSpec {
			t.Fatalf("%s: spec = %q, want %q", tt.name, p.Spec, tt.wantSpec)
		}
		if !p.At.Equal(tt.wantAt) {
			t.Fatalf("%s: at = %v, want %v", tt.name, p.At, tt.wantAt)
		}
		if !p.Window.Ends.Equal(tt.wantEnds) {
			t.Fatalf("%s: ends = %v, want %v", tt.name, p.Window.Ends, tt.wantEnds)
		}
	}
}
