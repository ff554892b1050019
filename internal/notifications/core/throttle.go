package core

import "time"

// Allow reports whether a rule last fired at lastFiredAt may fire again at
// now. A nil lastFiredAt always allows; a zero throttle allows every matching
// tick. This is the read-side check only: the durable guarantee is the
// conditional claim in the rule repository.
func Allow(now time.Time, throttleSecs int, lastFiredAt *time.Time) bool {
	if lastFiredAt == nil {
		return true
	}
	if throttleSecs <= 0 {
		return true
	}
	return now.Sub(*lastFiredAt) >= time.Duration(throttleSecs)*time.Second
}
