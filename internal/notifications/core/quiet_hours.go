package core

import (
	"time"

	"gardennotify/internal/types"
)

// IsQuietNow reports whether localHour falls inside the DND window. Windows
// with StartHour after EndHour wrap over midnight. A disabled window, or one
// whose start equals its end, is never quiet.
func IsQuietNow(localHour int, dnd types.DNDWindow) bool {
	if !dnd.Enabled || dnd.StartHour == dnd.EndHour {
		return false
	}
	if dnd.StartHour < dnd.EndHour {
		return localHour >= dnd.StartHour && localHour < dnd.EndHour
	}
	return localHour >= dnd.StartHour || localHour < dnd.EndHour
}

// quietWindowEnd returns the instant the current quiet window closes, in the
// location of localNow. Callers must have checked IsQuietNow first.
func quietWindowEnd(localNow time.Time, dnd types.DNDWindow) time.Time {
	end := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		dnd.EndHour, 0, 0, 0, localNow.Location())
	if !end.After(localNow) {
		// Before midnight in an overnight window: resume tomorrow.
		end = nextDayAtHour(localNow, dnd.EndHour)
	}
	return end
}

// nextDigestAt returns the next instant at hour:00 local time strictly after
// localNow.
func nextDigestAt(localNow time.Time, hour int) time.Time {
	candidate := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		hour, 0, 0, 0, localNow.Location())
	if candidate.After(localNow) {
		return candidate
	}
	return nextDayAtHour(localNow, hour)
}

func nextDayAtHour(localNow time.Time, hour int) time.Time {
	tomorrow := localNow.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(),
		hour, 0, 0, 0, localNow.Location())
}
