package queue

import (
	"math"
	"time"
)

type scheduleKind int

// MaxDelayHours caps relative delays at ten years.
const MaxDelayHours = 10 * 365 * 24

const (
	scheduleNow scheduleKind = iota
	scheduleAfter
	scheduleAt
)

// Schedule decides when a queued email becomes due. The zero value means
// now.
type Schedule struct {
	kind  scheduleKind
	delay float64
	at    time.Time
}

// Now schedules for immediate delivery on the next processing batch.
func Now() Schedule { return Schedule{kind: scheduleNow} }

// After schedules delivery hours from now.
func After(hours float64) Schedule { return Schedule{kind: scheduleAfter, delay: hours} }

// At schedules delivery at an absolute time, which must be in the future.
func At(t time.Time) Schedule { return Schedule{kind: scheduleAt, at: t} }

// Resolve returns the absolute due time relative to now.
func (s Schedule) Resolve(now time.Time) (time.Time, error) {
	switch s.kind {
	case scheduleAfter:
		if s.delay < 0 || s.delay > MaxDelayHours || math.IsNaN(s.delay) || math.IsInf(s.delay, 0) {
			return time.Time{}, ErrInvalidSchedule
		}
		return now.Add(time.Duration(s.delay * float64(time.Hour))), nil
	case scheduleAt:
		if !s.at.After(now) {
			return time.Time{}, ErrInvalidSchedule
		}
		return s.at, nil
	default:
		return now, nil
	}
}

func (s Schedule) String() string {
	switch s.kind {
	case scheduleAfter:
		return "after " + time.Duration(s.delay*float64(time.Hour)).String()
	case scheduleAt:
		return "at " + s.at.Format(time.RFC3339)
	default:
		return "now"
	}
}
