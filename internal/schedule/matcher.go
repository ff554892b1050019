// Package schedule interprets the compact recurrence expressions attached to
// notification rules. Matching is minute-exact and operates on an already
// localized time breakdown; timezone resolution happens in Localize, never in
// Matches.
package schedule

import (
	"time"

	"gardennotify/internal/types"
)

// LocalTime is a wall-clock breakdown of an instant in a user's timezone.
// A LocalTime with a nil Zone was never localized and matches nothing.
type LocalTime struct {
	Year    int
	Month   time.Month
	Day     int
	Hour    int
	Minute  int
	Weekday time.Weekday
	Zone    *time.Location
}

// Localize converts instant into the wall-clock fields of loc. A nil loc
// produces an unresolved LocalTime.
func Localize(instant time.Time, loc *time.Location) LocalTime {
	if loc == nil {
		return LocalTime{}
	}
	t := instant.In(loc)
	return LocalTime{
		Year:    t.Year(),
		Month:   t.Month(),
		Day:     t.Day(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Weekday: t.Weekday(),
		Zone:    loc,
	}
}

// Resolved reports whether the breakdown carries a timezone.
func (l LocalTime) Resolved() bool { return l.Zone != nil }

// Time rebuilds the local instant at minute precision.
func (l LocalTime) Time() time.Time {
	if l.Zone == nil {
		return time.Time{}
	}
	return time.Date(l.Year, l.Month, l.Day, l.Hour, l.Minute, 0, 0, l.Zone)
}

// Matches reports whether the schedule fires at the given local minute.
// DAILY schedules match on hour and minute; WEEKLY schedules additionally
// require the weekday to be in the schedule's set.
func Matches(local LocalTime, s types.ScheduleExpression) bool {
	if !local.Resolved() {
		return false
	}
	if local.Hour != s.Hour || local.Minute != s.Minute {
		return false
	}
	switch s.Frequency {
	case types.FrequencyDaily:
		return true
	case types.FrequencyWeekly:
		return s.Weekdays.Has(local.Weekday)
	default:
		return false
	}
}
