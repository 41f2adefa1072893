package scheduler

import (
	"fmt"
	"time"

	"evsched/internal/domain"
	"evsched/internal/task/recurrence"
	"evsched/internal/task/trigger"
	logx "evsched/pkg/logx"
)

// PlanFor computes the trigger for def. ok is false when def yields no
// trigger at all: no schedule, or no start time and no recurrence.
//
// Order: direct cron expression, translated recurrence, one-shot at start
// time. A recurrence that fails to translate falls back to the one-shot.
// Schedules without a timezone use defaultLoc, or the system zone when nil.
// Every plan carries endsOn, so an expired one-shot never fires.
func PlanFor(def domain.Definition, defaultLoc *time.Location, log logx.Logger) (p Plan, ok bool, err error) {
	r, has, err := domain.ParseRecurrence(def)
	if err != nil || !has {
		return Plan{}, false, err
	}

	loc := defaultLoc
	if loc == nil {
		loc = time.Local
	}
	if r.Timezone != "" {
		l, lerr := r.Location()
		if lerr != nil {
			log.Warn("unknown timezone, using UTC",
				logx.Stringer("event_id", def.ID),
				logx.String("timezone", r.Timezone),
				logx.Err(lerr),
			)
		}
		loc = l
	}
	window := trigger.Window{Start: r.Start(), Ends: r.Ends()}

	if r.CronExpression != "" {
		spec := recurrence.WithZone(r.CronExpression, loc)
		if err := recurrence.Validate(spec); err != nil {
			return Plan{}, false, &domain.DefinitionError{
				EventID: def.ID,
				Field:   "schedule.cronExpression",
				Reason:  err.Error(),
			}
		}
		return Plan{Kind: "cron", Spec: spec, Window: window}, true, nil
	}

	if r.RepeatEnabled {
		spec, terr := recurrence.Translate(r.Start().In(loc), r.Interval, r.Unit)
		if terr == nil {
			return Plan{Kind: "cron", Spec: recurrence.WithZone(spec, loc), Window: window}, true, nil
		}
		if r.StartTime <= 0 {
			return Plan{}, false, &domain.DefinitionError{
				EventID: def.ID,
				Field:   "schedule.repeat",
				Reason:  terr.Error(),
			}
		}
		log.Warn("recurrence not translatable, arming once at start time",
			logx.Stringer("event_id", def.ID),
			logx.Err(terr),
		)
	}

	if r.StartTime > 0 {
		return Plan{Kind: "once", At: r.Start(), Window: trigger.Window{Ends: r.Ends()}}, true, nil
	}
	return Plan{}, false, nil
}

func (p Plan) String() string {
	if p.Kind == "once" {
		return fmt.Sprintf("once at %s", p.At.UTC().Format(time.RFC3339))
	}
	return p.Spec
}
