// Package recurrence turns a (start, interval, unit) recurrence into a
// seconds-first cron spec understood by the trigger registry.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"evsched/internal/domain"
)

var (
	ErrUnknownUnit     = errors.New("unknown repeat unit")
	ErrInvalidInterval = errors.New("repeat interval must be > 0")
)

// Parser is shared by translation, validation and the trigger registry.
// Six fields, seconds first; "?" is accepted in day-of-month/day-of-week and
// a CRON_TZ= prefix selects the evaluation timezone.
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Translate builds the cron spec for a recurrence. start must already be in
// the event's timezone: weekly and yearly specs copy its wall-clock fields.
//
// The weekly spec fires every week on start's weekday; interval is ignored.
// The yearly spec ignores interval as well.
func Translate(start time.Time, interval int, unit domain.Unit) (string, error) {
	switch domain.Unit(strings.ToLower(string(unit))) {
	case domain.UnitSeconds:
		if interval <= 0 {
			return "", ErrInvalidInterval
		}
		return fmt.Sprintf("*/%d * * * * ?", interval), nil
	case domain.UnitMinutes:
		if interval <= 0 {
			return "", ErrInvalidInterval
		}
		return fmt.Sprintf("0 */%d * * * ?", interval), nil
	case domain.UnitHours:
		if interval <= 0 {
			return "", ErrInvalidInterval
		}
		return fmt.Sprintf("0 0 */%d * * ?", interval), nil
	case domain.UnitDays:
		if interval <= 0 {
			return "", ErrInvalidInterval
		}
		return fmt.Sprintf("0 0 0 */%d * ?", interval), nil
	case domain.UnitWeeks:
		return fmt.Sprintf("0 0 0 ? * %d", int(start.Weekday())), nil
	case domain.UnitYears:
		return fmt.Sprintf("%d %d %d %d %d ?", start.Second(), start.Minute(), start.Hour(), start.Day(), int(start.Month())), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
}

// Validate parses spec with the shared parser.
func Validate(spec string) error {
	_, err := Parser.Parse(strings.TrimSpace(spec))
	return err
}

// WithZone prefixes spec with CRON_TZ so it is evaluated in loc.
func WithZone(spec string, loc *time.Location) string {
	spec = strings.TrimSpace(spec)
	if loc == nil || strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") {
		return spec
	}
	return "CRON_TZ=" + loc.String() + " " + spec
}

// NextN returns up to n fire times of spec after from, evaluated in loc.
func NextN(spec string, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parser.Parse(WithZone(spec, loc))
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
