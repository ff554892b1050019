package schedule

import (
	"testing"
	"time"

	"gardennotify/internal/types"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestMatches_DailyFiresEveryWeekday(t *testing.T) {
	s := types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 7, Minute: 30}
	loc := mustLoad(t, "Europe/Berlin")

	// 2026-06-01 is a Monday.
	for i := 0; i < 7; i++ {
		local := time.Date(2026, 6, 1+i, 7, 30, 0, 0, loc)
		if !Matches(Localize(local, loc), s) {
			t.Errorf("daily schedule should match on %s", local.Weekday())
		}
	}
}

func TestMatches_MinuteExact(t *testing.T) {
	s := types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 7, Minute: 30}
	loc := time.UTC

	for _, tc := range []struct {
		hour, minute int
		want         bool
	}{
		{7, 30, true},
		{7, 31, false},
		{7, 29, false},
		{8, 30, false},
	} {
		at := time.Date(2026, 6, 1, tc.hour, tc.minute, 45, 0, loc)
		if got := Matches(Localize(at, loc), s); got != tc.want {
			t.Errorf("Matches at %02d:%02d = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestMatches_WeeklyRequiresWeekday(t *testing.T) {
	s := types.ScheduleExpression{
		Frequency: types.FrequencyWeekly,
		Hour:      18,
		Minute:    0,
		Weekdays:  types.NewWeekdaySet(time.Monday, time.Thursday),
	}
	loc := mustLoad(t, "America/New_York")

	monday := time.Date(2026, 6, 1, 18, 0, 0, 0, loc)
	tuesday := monday.AddDate(0, 0, 1)
	thursday := monday.AddDate(0, 0, 3)

	if !Matches(Localize(monday, loc), s) {
		t.Error("should match Monday")
	}
	if Matches(Localize(tuesday, loc), s) {
		t.Error("should not match Tuesday")
	}
	if !Matches(Localize(thursday, loc), s) {
		t.Error("should match Thursday")
	}
}

func TestMatches_UsesUserLocalWallClock(t *testing.T) {
	s := types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 8, Minute: 0}
	tokyo := mustLoad(t, "Asia/Tokyo")

	// 23:00 UTC is 08:00 the next day in Tokyo.
	instant := time.Date(2026, 6, 1, 23, 0, 0, 0, time.UTC)
	if !Matches(Localize(instant, tokyo), s) {
		t.Error("expected match at 08:00 Tokyo time")
	}
	if Matches(Localize(instant, time.UTC), s) {
		t.Error("should not match in UTC")
	}
}

func TestMatches_WeeklyDayIsLocalDay(t *testing.T) {
	// Monday 01:00 in Auckland is still Sunday in UTC.
	s := types.ScheduleExpression{
		Frequency: types.FrequencyWeekly,
		Hour:      1,
		Minute:    0,
		Weekdays:  types.NewWeekdaySet(time.Monday),
	}
	akl := mustLoad(t, "Pacific/Auckland")
	instant := time.Date(2026, 6, 1, 1, 0, 0, 0, akl)

	local := Localize(instant, akl)
	if local.Weekday != time.Monday {
		t.Fatalf("weekday = %s, want Monday", local.Weekday)
	}
	if !Matches(local, s) {
		t.Error("should match on local Monday")
	}
}

func TestMatches_UnresolvedZoneNeverMatches(t *testing.T) {
	s := types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 0, Minute: 0}

	if Matches(LocalTime{}, s) {
		t.Error("zero LocalTime must not match")
	}
	if Matches(Localize(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil), s) {
		t.Error("nil location must not match")
	}
}

func TestMatches_UnknownFrequency(t *testing.T) {
	s := types.ScheduleExpression{Frequency: "HOURLY", Hour: 5, Minute: 0}
	at := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	if Matches(Localize(at, time.UTC), s) {
		t.Error("unknown frequency must not match")
	}
}

func TestLocalTime_Time(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	at := time.Date(2026, 3, 10, 14, 5, 33, 0, loc)
	got := Localize(at, loc).Time()
	want := time.Date(2026, 3, 10, 14, 5, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Time() = %s, want %s", got, want)
	}
	if !(LocalTime{}).Time().IsZero() {
		t.Error("unresolved Time() should be zero")
	}
}

func TestParse_Valid(t *testing.T) {
	cases := []struct {
		text string
		want types.ScheduleExpression
	}{
		{
			text: "FREQ=DAILY;BYHOUR=7;BYMINUTE=30",
			want: types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 7, Minute: 30},
		},
		{
			text: "byminute=0;freq=weekly;byday=su,mo;byhour=18",
			want: types.ScheduleExpression{
				Frequency: types.FrequencyWeekly, Hour: 18, Minute: 0,
				Weekdays: types.NewWeekdaySet(time.Monday, time.Sunday),
			},
		},
		{
			text: "FREQ=DAILY;BYHOUR=23;BYMINUTE=59;BYDAY=MO",
			want: types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 23, Minute: 59},
		},
		{
			text: " FREQ=DAILY ; BYHOUR=0 ; BYMINUTE=0 ; ",
			want: types.ScheduleExpression{Frequency: types.FrequencyDaily},
		},
	}
	for _, tc := range cases {
		got, err := Parse(tc.text)
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.text, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tc.text, got, tc.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing freq":       "BYHOUR=7;BYMINUTE=0",
		"missing hour":       "FREQ=DAILY;BYMINUTE=0",
		"missing minute":     "FREQ=DAILY;BYHOUR=7",
		"hour out of range":  "FREQ=DAILY;BYHOUR=24;BYMINUTE=0",
		"negative minute":    "FREQ=DAILY;BYHOUR=7;BYMINUTE=-1",
		"minute not integer": "FREQ=DAILY;BYHOUR=7;BYMINUTE=half",
		"weekly without day": "FREQ=WEEKLY;BYHOUR=7;BYMINUTE=0",
		"weekly empty day":   "FREQ=WEEKLY;BYHOUR=7;BYMINUTE=0;BYDAY=",
		"unknown day code":   "FREQ=WEEKLY;BYHOUR=7;BYMINUTE=0;BYDAY=MO,XX",
		"unknown freq":       "FREQ=MONTHLY;BYHOUR=7;BYMINUTE=0",
		"unknown key":        "FREQ=DAILY;BYHOUR=7;BYMINUTE=0;COUNT=3",
		"duplicate key":      "FREQ=DAILY;BYHOUR=7;BYHOUR=8;BYMINUTE=0",
		"not key value":      "FREQ=DAILY;BYHOUR;BYMINUTE=0",
		"empty":              "",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			if !types.IsCode(err, types.ErrCodeValidationInvalidSchedule) {
				t.Errorf("Parse(%q) err = %v, want invalid schedule", text, err)
			}
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	s := types.ScheduleExpression{
		Frequency: types.FrequencyWeekly, Hour: 6, Minute: 15,
		Weekdays: types.NewWeekdaySet(time.Sunday, time.Wednesday, time.Monday),
	}
	text := Format(s)
	if text != "FREQ=WEEKLY;BYHOUR=6;BYMINUTE=15;BYDAY=MO,WE,SU" {
		t.Errorf("Format = %q", text)
	}
	back, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(Format): %v", err)
	}
	if back != s {
		t.Errorf("round trip = %+v, want %+v", back, s)
	}

	daily := types.ScheduleExpression{Frequency: types.FrequencyDaily, Hour: 9, Minute: 5}
	if got := Format(daily); got != "FREQ=DAILY;BYHOUR=9;BYMINUTE=5" {
		t.Errorf("Format(daily) = %q", got)
	}
}

func TestValidate(t *testing.T) {
	ok := []types.ScheduleExpression{
		{Frequency: types.FrequencyDaily, Hour: 0, Minute: 0},
		{Frequency: types.FrequencyWeekly, Hour: 23, Minute: 59, Weekdays: types.NewWeekdaySet(time.Friday)},
	}
	for _, s := range ok {
		if err := Validate(s); err != nil {
			t.Errorf("Validate(%+v) = %v", s, err)
		}
	}

	bad := []types.ScheduleExpression{
		{Frequency: types.FrequencyDaily, Hour: 24},
		{Frequency: types.FrequencyDaily, Minute: 60},
		{Frequency: types.FrequencyWeekly, Hour: 7},
		{Frequency: "", Hour: 7},
	}
	for _, s := range bad {
		if err := Validate(s); !types.IsCode(err, types.ErrCodeValidationInvalidSchedule) {
			t.Errorf("Validate(%+v) = %v, want invalid schedule", s, err)
		}
	}
}
