package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gardennotify/internal/types"
)

const (
	keyFreq     = "FREQ"
	keyByHour   = "BYHOUR"
	keyByMinute = "BYMINUTE"
	keyByDay    = "BYDAY"
)

var dayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

var weekdayCodes = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

// Parse reads the text form
//
//	FREQ=DAILY|WEEKLY;BYHOUR=<0-23>;BYMINUTE=<0-59>[;BYDAY=MO,WE,...]
//
// Parts may come in any order and keys are case-insensitive. BYDAY is
// required for WEEKLY and ignored for DAILY.
func Parse(text string) (types.ScheduleExpression, error) {
	var expr types.ScheduleExpression

	parts := map[string]string{}
	for _, raw := range strings.Split(strings.TrimSpace(text), ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return expr, invalid(text, fmt.Sprintf("part %q is not KEY=VALUE", raw))
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case keyFreq, keyByHour, keyByMinute, keyByDay:
		default:
			return expr, invalid(text, fmt.Sprintf("unknown key %q", key))
		}
		if _, dup := parts[key]; dup {
			return expr, invalid(text, fmt.Sprintf("duplicate key %q", key))
		}
		parts[key] = value
	}

	freq, ok := parts[keyFreq]
	if !ok {
		return expr, invalid(text, "FREQ is required")
	}
	expr.Frequency = types.Frequency(strings.ToUpper(freq))

	hour, err := parseBounded(parts, keyByHour, 23)
	if err != nil {
		return expr, invalid(text, err.Error())
	}
	minute, err := parseBounded(parts, keyByMinute, 59)
	if err != nil {
		return expr, invalid(text, err.Error())
	}
	expr.Hour, expr.Minute = hour, minute

	switch expr.Frequency {
	case types.FrequencyDaily:
	case types.FrequencyWeekly:
		days, ok := parts[keyByDay]
		if !ok || days == "" {
			return expr, invalid(text, "BYDAY is required for WEEKLY")
		}
		for _, code := range strings.Split(days, ",") {
			day, ok := dayCodes[strings.ToUpper(strings.TrimSpace(code))]
			if !ok {
				return expr, invalid(text, fmt.Sprintf("unknown weekday code %q", code))
			}
			expr.Weekdays = expr.Weekdays.Add(day)
		}
	default:
		return expr, invalid(text, fmt.Sprintf("unsupported FREQ %q", freq))
	}

	return expr, nil
}

func parseBounded(parts map[string]string, key string, max int) (int, error) {
	raw, ok := parts[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an integer", key, raw)
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("%s=%d out of range [0,%d]", key, n, max)
	}
	return n, nil
}

func invalid(text, reason string) error {
	return types.NewAppError(types.ErrCodeValidationInvalidSchedule,
		fmt.Sprintf("schedule %q: %s", text, reason), nil)
}

// Validate checks a structured expression against the same rules Parse
// enforces on the text form.
func Validate(s types.ScheduleExpression) error {
	if s.Hour < 0 || s.Hour > 23 {
		return invalid(Format(s), "hour out of range")
	}
	if s.Minute < 0 || s.Minute > 59 {
		return invalid(Format(s), "minute out of range")
	}
	switch s.Frequency {
	case types.FrequencyDaily:
		return nil
	case types.FrequencyWeekly:
		if s.Weekdays.Empty() {
			return invalid(Format(s), "WEEKLY requires at least one weekday")
		}
		return nil
	default:
		return invalid(Format(s), fmt.Sprintf("unsupported frequency %q", s.Frequency))
	}
}

// Format renders the canonical text form: FREQ, BYHOUR, BYMINUTE and, for
// WEEKLY schedules, BYDAY in Monday-first order.
func Format(s types.ScheduleExpression) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FREQ=%s;BYHOUR=%d;BYMINUTE=%d", s.Frequency, s.Hour, s.Minute)
	if s.Frequency == types.FrequencyWeekly {
		days := s.Weekdays.Days()
		codes := make([]string, 0, len(days))
		for _, d := range days {
			codes = append(codes, weekdayCodes[d])
		}
		b.WriteString(";BYDAY=")
		b.WriteString(strings.Join(codes, ","))
	}
	return b.String()
}
