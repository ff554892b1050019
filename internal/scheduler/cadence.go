package scheduler

import (
	"time"

	"gardennotify/internal/types"
)

// NextDue returns the first occurrence of a cadenced reminder strictly after
// now, stepping from due in the user's local calendar so the wall-clock time
// survives DST changes. Missed occurrences are skipped, not replayed.
//
// ok is false for the empty cadence and for unknown cadences; such reminders
// are one-shot.
func NextDue(due time.Time, cadence types.Cadence, now time.Time, loc *time.Location) (next time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	anchor := due.In(loc)

	var (
		stepDays int
		months   bool
	)
	switch cadence {
	case types.CadenceDaily:
		stepDays = 1
	case types.CadenceWeekly:
		stepDays = 7
	case types.CadenceBiweekly:
		stepDays = 14
	case types.CadenceMonthly:
		months = true
	default:
		return time.Time{}, false
	}

	step := func(n int) time.Time {
		if months {
			return addMonthsClamped(anchor, n)
		}
		return anchor.AddDate(0, 0, stepDays*n)
	}

	// Start a little short of now so a long outage does not loop per
	// occurrence. The margin absorbs DST and short months.
	n := 1
	if days := int(now.Sub(anchor).Hours()/24) - 1; days > 0 {
		if months {
			n = max(1, days/31)
		} else {
			n = max(1, days/stepDays)
		}
	}

	next = step(n)
	for !next.After(now) {
		n++
		next = step(n)
	}
	return next.UTC(), true
}

// addMonthsClamped adds n months keeping the day of month, clamped to the
// last day of the target month (Jan 31 + 1 month = Feb 28).
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
