package types

import (
	"time"
)

// Severity classifies how urgent a notification is. Critical notifications
// bypass quiet hours.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the most urgent item of a digest can be picked.
// Unknown values rank as info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ChannelType identifies a delivery channel.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelPush  ChannelType = "push"
	ChannelInApp ChannelType = "in_app"
)

// Frequency is the recurrence granularity of a ScheduleExpression.
type Frequency string

const (
	FrequencyDaily  Frequency = "DAILY"
	FrequencyWeekly Frequency = "WEEKLY"
)

// WeekdaySet is a bitmask of weekdays indexed by time.Weekday.
type WeekdaySet uint8

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

// Add returns a copy of the set including d.
func (s WeekdaySet) Add(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

// Empty reports whether the set contains no days.
func (s WeekdaySet) Empty() bool { return s&0x7f == 0 }

// Days returns the members in Monday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	order := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	days := make([]time.Weekday, 0, 7)
	for _, d := range order {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// ScheduleExpression is a structured recurrence owned by a NotificationRule.
// Weekdays is only meaningful for WEEKLY schedules.
type ScheduleExpression struct {
	Frequency Frequency  `json:"frequency"`
	Hour      int        `json:"hour"`
	Minute    int        `json:"minute"`
	Weekdays  WeekdaySet `json:"weekdays,omitempty"`
}

// RuleType discriminates which condition logic applies to a rule.
type RuleType string

const (
	RuleTypeSchedule     RuleType = "schedule"
	RuleTypeSoilMoisture RuleType = "soil_moisture"
	RuleTypeFrostRisk    RuleType = "frost_risk"
	RuleTypeHeatStress   RuleType = "heat_stress"
	RuleTypeDrySpell     RuleType = "dry_spell"
	RuleTypePestSeason   RuleType = "pest_season"
	RuleTypePlantingAge  RuleType = "planting_age"
)

// TargetKind identifies what a rule, reminder or focus pin points at.
type TargetKind string

const (
	TargetGarden   TargetKind = "garden"
	TargetBed      TargetKind = "bed"
	TargetPlant    TargetKind = "plant"
	TargetPlanting TargetKind = "planting"
	TargetTask     TargetKind = "task"
)

// TargetRef is a typed pointer at a garden entity.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// NotificationRule is a condition-driven recurring trigger. Users own every
// field except LastFiredAt, which only the engine advances.
type NotificationRule struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Name         string             `json:"name"`
	Type         RuleType           `json:"type"`
	Schedule     ScheduleExpression `json:"schedule"`
	Params       RuleParams         `json:"params"`
	ThrottleSecs int                `json:"throttle_secs"`
	IsEnabled    bool               `json:"is_enabled"`
	Severity     Severity           `json:"severity"`
	Target       *TargetRef         `json:"target,omitempty"`
	LastFiredAt  *time.Time         `json:"last_fired_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Cadence is the re-arm interval of a cadenced reminder. The empty cadence
// marks a one-shot reminder.
type Cadence string

const (
	CadenceNone     Cadence = ""
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
	CadenceMonthly  Cadence = "monthly"
)

// Reminder is a pre-materialized due-date item. LeasedUntil is the engine's
// in-flight claim on the row.
type Reminder struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	PlantingID  *string    `json:"planting_id,omitempty"`
	Title       string     `json:"title"`
	DueAt       time.Time  `json:"due_at"`
	Cadence     Cadence    `json:"cadence,omitempty"`
	Type        string     `json:"type"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	LeasedUntil *time.Time `json:"-"`
}

// FocusItem is a user pin that biases digest ordering.
type FocusItem struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      TargetKind `json:"kind"`
	TargetID  string     `json:"target_id"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// DNDWindow is a quiet-hours window in whole local hours. StartHour and
// EndHour must differ when Enabled.
type DNDWindow struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int  `json:"end_hour" validate:"gte=0,lte=23"`
}

// NotificationPreference holds a user's channel toggles, digest timing and
// quiet hours.
type NotificationPreference struct {
	UserID       string    `json:"user_id" validate:"required"`
	EmailEnabled bool      `json:"email_enabled"`
	PushEnabled  bool      `json:"push_enabled"`
	InAppEnabled bool      `json:"in_app_enabled"`
	DigestHour   *int      `json:"digest_hour,omitempty" validate:"omitempty,gte=0,lte=23"`
	Timezone     string    `json:"timezone" validate:"required,timezone"`
	DND          DNDWindow `json:"dnd"`
}

// Notification is a delivered record, one per successful channel send.
type Notification struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	Severity  Severity    `json:"severity"`
	Channel   ChannelType `json:"channel"`
	DueAt     time.Time   `json:"due_at"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
	ClearedAt *time.Time  `json:"cleared_at,omitempty"`
	RuleID    *string     `json:"rule_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// User is the slice of the account the engine needs to route deliveries.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PushEndpoint string `json:"push_endpoint,omitempty"`
	ZoneKey      string `json:"zone_key"`
}

// Planting is a plant placed in a bed, with the names of everything above it.
type Planting struct {
	ID         string     `json:"id"`
	PlantID    string     `json:"plant_id"`
	PlantName  string     `json:"plant_name"`
	BedID      string     `json:"bed_id"`
	BedName    string     `json:"bed_name"`
	GardenID   string     `json:"garden_id"`
	GardenName string     `json:"garden_name"`
	Nickname   string     `json:"nickname,omitempty"`
	PlantedAt  *time.Time `json:"planted_at,omitempty"`
}

// Season is a coarse growing season label.
type Season string

const (
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonWinter Season = "winter"
)

// SeasonForMonth returns the meteorological season of month, flipped for the
// southern hemisphere.
func SeasonForMonth(m time.Month, southern bool) Season {
	seasons := [4]Season{SeasonWinter, SeasonSpring, SeasonSummer, SeasonAutumn}
	idx := (int(m) % 12) / 3
	if southern {
		idx = (idx + 2) % 4
	}
	return seasons[idx]
}

// WeatherObservation is the latest observation plus the short-range forecast
// extremes for a zone.
type WeatherObservation struct {
	TempC       float64 `json:"temp_c"`
	MinTempC    float64 `json:"min_temp_c"`
	MaxTempC    float64 `json:"max_temp_c"`
	HumidityPct float64 `json:"humidity_pct"`
	PrecipMM    float64 `json:"precip_mm"`
}

// ContextSnapshot is the set of environmental signals condition variants read.
// Nil fields are unknown; variants that need them fail closed.
type ContextSnapshot struct {
	LocalDate       time.Time           `json:"local_date"`
	Month           time.Month          `json:"month"`
	Season          Season              `json:"season"`
	Weather         *WeatherObservation `json:"weather,omitempty"`
	SoilMoisturePct *float64            `json:"soil_moisture_pct,omitempty"`
	PlantingAgeDays map[string]int      `json:"planting_age_days,omitempty"`
}

// RuleFiring is a successful claim on a rule, waiting for delivery.
type RuleFiring struct {
	ClaimID  string           `json:"claim_id"`
	Rule     NotificationRule `json:"rule"`
	FiredAt  time.Time        `json:"fired_at"`
	Attempts int              `json:"attempts"`
}

// HoldReason explains why a channel payload was held instead of sent.
type HoldReason string

const (
	HoldQuietHours HoldReason = "quiet_hours"
	HoldDigestHour HoldReason = "digest_hour"
	HoldSendFailed HoldReason = "send_failed"
)

// HeldDelivery is a channel payload waiting for ResumeAt.
type HeldDelivery struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Channel     ChannelType `json:"channel"`
	Title       string      `json:"title"`
	Body        string      `json:"body"`
	Severity    Severity    `json:"severity"`
	DueAt       time.Time   `json:"due_at"`
	ResumeAt    time.Time   `json:"resume_at"`
	Reason      HoldReason  `json:"reason"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"created_at"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
}

// UserProfile is a user together with the preferences the engine routes by.
type UserProfile struct {
	User        User                   `json:"user"`
	Preferences NotificationPreference `json:"preferences"`
}

// DefaultPreference is what a user without stored preferences gets: in-app
// and email on, push off, UTC, no quiet hours.
func DefaultPreference(userID string) NotificationPreference {
	return NotificationPreference{
		UserID:       userID,
		EmailEnabled: true,
		InAppEnabled: true,
		Timezone:     "UTC",
	}
}

// ZoneSnapshot is the latest environmental reading for a location key.
type ZoneSnapshot struct {
	ZoneKey         string              `json:"zone_key"`
	Southern        bool                `json:"southern"`
	Weather         *WeatherObservation `json:"weather,omitempty"`
	SoilMoisturePct *float64            `json:"soil_moisture_pct,omitempty"`
	ObservedAt      time.Time           `json:"observed_at"`
}
