package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Unit is a recurrence time unit as stored in schedule JSON.
type Unit string

const (
	UnitSeconds Unit = "seconds"
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
	UnitWeeks   Unit = "weeks"
	UnitYears   Unit = "ans"
)

// Recurrence is the parsed schedule block of a definition.
type Recurrence struct {
	Timezone       string
	StartTime      int64 // epoch millis, 0 = unset
	RepeatEnabled  bool
	Interval       int
	Unit           Unit
	EndsOn         int64 // epoch millis, 0 = never
	CronExpression string
}

type scheduleJSON struct {
	Timezone       string      `json:"timezone"`
	StartTime      flexInt     `json:"startTime"`
	RepeatEnabled  flexBool    `json:"repeatEnabled"`
	CronExpression string      `json:"cronExpression"`
	Repeat         *repeatJSON `json:"repeat"`
}

type repeatJSON struct {
	RepeatInterval flexInt `json:"repeatInterval"`
	TimeUnit       string  `json:"timeUnit"`
	EndsOn         flexInt `json:"endsOn"`
}

// ParseRecurrence decodes d.Schedule. ok is false when the definition has no
// schedule block at all.
func ParseRecurrence(d Definition) (r Recurrence, ok bool, err error) {
	raw := bytes.TrimSpace(d.Schedule)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Recurrence{}, false, nil
	}
	var s scheduleJSON
	if err := json.Unmarshal(raw, &s); err != nil {
		return Recurrence{}, false, defErr(d.ID, "schedule", "decode: %v", err)
	}
	r = Recurrence{
		Timezone:       strings.TrimSpace(s.Timezone),
		StartTime:      int64(s.StartTime),
		RepeatEnabled:  bool(s.RepeatEnabled),
		CronExpression: strings.TrimSpace(s.CronExpression),
	}
	if s.Repeat != nil {
		r.Interval = int(s.Repeat.RepeatInterval)
		r.Unit = Unit(strings.ToLower(strings.TrimSpace(s.Repeat.TimeUnit)))
		r.EndsOn = int64(s.Repeat.EndsOn)
	}
	if r.StartTime < 0 {
		return Recurrence{}, false, defErr(d.ID, "schedule.startTime", "must be >= 0")
	}
	return r, true, nil
}

// Location resolves the timezone. Unknown zones fall back to UTC and return
// the lookup error so callers can log it.
func (r Recurrence) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// Start returns StartTime as a time, zero when unset.
func (r Recurrence) Start() time.Time { return millis(r.StartTime) }

// Ends returns EndsOn as a time, zero when unset.
func (r Recurrence) Ends() time.Time { return millis(r.EndsOn) }

// Recurring reports whether the schedule asks for repeated firings.
func (r Recurrence) Recurring() bool {
	return r.CronExpression != "" || (r.RepeatEnabled && r.Unit != "")
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

