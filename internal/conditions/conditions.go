// Package conditions evaluates the typed parameters of a notification rule
// against a context snapshot. Every rule type maps to one Condition variant;
// an unknown type or malformed params never triggers.
package conditions

import (
	"encoding/json"
	"fmt"
	"time"

	"gardennotify/internal/types"
)

// Condition is one variant of the closed set of rule conditions.
type Condition interface {
	Triggered(rule types.NotificationRule, snap types.ContextSnapshot) bool
}

// ScheduleOnly is the condition of a pure scheduled rule.
type ScheduleOnly struct{}

// SoilMoisture triggers when measured soil moisture drops below a threshold.
type SoilMoisture struct {
	BelowPct *float64 `json:"below_pct" validate:"required,gte=0,lte=100"`
}

// FrostRisk triggers when the forecast minimum is at or below MinTempC.
type FrostRisk struct {
	MinTempC *float64 `json:"min_temp_c" validate:"required,gte=-60,lte=60"`
}

// HeatStress triggers when the forecast maximum is at or above MaxTempC.
type HeatStress struct {
	MaxTempC *float64 `json:"max_temp_c" validate:"required,gte=-60,lte=60"`
}

// DrySpell triggers when recent precipitation is below MaxPrecipMM.
type DrySpell struct {
	MaxPrecipMM *float64 `json:"max_precip_mm" validate:"required,gte=0,lte=500"`
}

// PestSeason triggers either during a named Season, which follows the
// garden's hemisphere, or while the local month is inside an inclusive
// window. A window with StartMonth after EndMonth wraps over the new year.
// Exactly one of the two forms must be given.
type PestSeason struct {
	Season     types.Season `json:"season,omitempty" validate:"omitempty,oneof=spring summer autumn winter"`
	StartMonth int          `json:"start_month,omitempty" validate:"omitempty,gte=1,lte=12"`
	EndMonth   int          `json:"end_month,omitempty" validate:"omitempty,gte=1,lte=12"`
}

// PlantingAge triggers while the targeted planting's age in days lies within
// [MinDays, MaxDays]. A nil MaxDays leaves the range open.
type PlantingAge struct {
	MinDays *int `json:"min_days" validate:"required,gte=0"`
	MaxDays *int `json:"max_days,omitempty" validate:"omitempty,gte=0"`
}

func (ScheduleOnly) Triggered(types.NotificationRule, types.ContextSnapshot) bool { return true }

func (c SoilMoisture) Triggered(_ types.NotificationRule, snap types.ContextSnapshot) bool {
	return snap.SoilMoisturePct != nil && *snap.SoilMoisturePct < *c.BelowPct
}

func (c FrostRisk) Triggered(_ types.NotificationRule, snap types.ContextSnapshot) bool {
	return snap.Weather != nil && snap.Weather.MinTempC <= *c.MinTempC
}

func (c HeatStress) Triggered(_ types.NotificationRule, snap types.ContextSnapshot) bool {
	return snap.Weather != nil && snap.Weather.MaxTempC >= *c.MaxTempC
}

func (c DrySpell) Triggered(_ types.NotificationRule, snap types.ContextSnapshot) bool {
	return snap.Weather != nil && snap.Weather.PrecipMM < *c.MaxPrecipMM
}

func (c PestSeason) Triggered(_ types.NotificationRule, snap types.ContextSnapshot) bool {
	if c.Season != "" {
		return snap.Season == c.Season
	}
	m := int(snap.Month)
	if m < 1 || m > 12 {
		return false
	}
	if c.StartMonth <= c.EndMonth {
		return m >= c.StartMonth && m <= c.EndMonth
	}
	return m >= c.StartMonth || m <= c.EndMonth
}

func (c PlantingAge) Triggered(rule types.NotificationRule, snap types.ContextSnapshot) bool {
	if rule.Target == nil || rule.Target.Kind != types.TargetPlanting {
		return false
	}
	age, ok := snap.PlantingAgeDays[rule.Target.ID]
	if !ok || age < *c.MinDays {
		return false
	}
	return c.MaxDays == nil || age <= *c.MaxDays
}

// Decode turns a rule's raw params into its typed variant, validating ranges.
// It is used both at rule write time and by the Evaluator.
func Decode(rule types.NotificationRule) (Condition, error) {
	var c Condition
	switch rule.Type {
	case types.RuleTypeSchedule:
		return ScheduleOnly{}, nil
	case types.RuleTypeSoilMoisture:
		c = &SoilMoisture{}
	case types.RuleTypeFrostRisk:
		c = &FrostRisk{}
	case types.RuleTypeHeatStress:
		c = &HeatStress{}
	case types.RuleTypeDrySpell:
		c = &DrySpell{}
	case types.RuleTypePestSeason:
		c = &PestSeason{}
	case types.RuleTypePlantingAge:
		if rule.Target == nil || rule.Target.Kind != types.TargetPlanting || rule.Target.ID == "" {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
				"planting_age rules must target a planting", nil)
		}
		c = &PlantingAge{}
	default:
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
			fmt.Sprintf("unrecognized rule type %q", rule.Type), nil)
	}

	raw, err := json.Marshal(rule.Params)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParams, "params are not encodable", err)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
			fmt.Sprintf("params do not fit %s", rule.Type), err)
	}
	if err := types.Validate().Struct(c); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
			fmt.Sprintf("params out of range for %s", rule.Type), err)
	}
	if ps, ok := c.(*PestSeason); ok {
		hasWindow := ps.StartMonth != 0 || ps.EndMonth != 0
		switch {
		case ps.Season != "" && hasWindow:
			return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
				"pest_season takes either season or a month window, not both", nil)
		case ps.Season == "" && (ps.StartMonth == 0 || ps.EndMonth == 0):
			return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
				"pest_season needs a season or both start_month and end_month", nil)
		}
	}
	if pa, ok := c.(*PlantingAge); ok && pa.MaxDays != nil && *pa.MaxDays < *pa.MinDays {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidParams,
			"planting_age max_days is below min_days", nil)
	}
	return deref(c), nil
}

func deref(c Condition) Condition {
	switch v := c.(type) {
	case *SoilMoisture:
		return *v
	case *FrostRisk:
		return *v
	case *HeatStress:
		return *v
	case *DrySpell:
		return *v
	case *PestSeason:
		return *v
	case *PlantingAge:
		return *v
	}
	return c
}

// Evaluator evaluates rule conditions, logging and failing closed on bad
// input.
type Evaluator struct {
	logger types.Logger
}

// NewEvaluator creates an Evaluator. A nil logger discards output.
func NewEvaluator(logger types.Logger) *Evaluator {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Evaluator{logger: logger}
}

// Evaluate reports whether the rule's condition holds for the snapshot.
func (e *Evaluator) Evaluate(rule types.NotificationRule, snap types.ContextSnapshot) bool {
	c, err := Decode(rule)
	if err != nil {
		e.logger.Warn("rule condition not evaluable",
			"rule_id", rule.ID,
			"user_id", rule.UserID,
			"type", string(rule.Type),
			"error", err,
		)
		return false
	}
	return c.Triggered(rule, snap)
}

// NeedsSnapshot reports whether evaluating the rule reads the context
// snapshot. Pure scheduled rules do not, so callers can skip the fetch.
func NeedsSnapshot(rule types.NotificationRule) bool {
	return rule.Type != types.RuleTypeSchedule
}

// BuildSnapshot fills the calendar fields of a snapshot from a local date.
func BuildSnapshot(local time.Time, southern bool, weather *types.WeatherObservation, soil *float64, plantings []types.Planting) types.ContextSnapshot {
	snap := types.ContextSnapshot{
		LocalDate:       time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()),
		Month:           local.Month(),
		Season:          types.SeasonForMonth(local.Month(), southern),
		Weather:         weather,
		SoilMoisturePct: soil,
		PlantingAgeDays: make(map[string]int, len(plantings)),
	}
	for _, p := range plantings {
		if p.PlantedAt == nil {
			continue
		}
		planted := p.PlantedAt.In(local.Location())
		day := time.Date(planted.Year(), planted.Month(), planted.Day(), 0, 0, 0, 0, local.Location())
		snap.PlantingAgeDays[p.ID] = daysBetween(day, snap.LocalDate)
	}
	return snap
}

func daysBetween(from, to time.Time) int {
	// Calendar days, immune to DST-shortened days.
	a := time.Date(from.Year(), from.Month(), from.Day(), 12, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 12, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (n nopLogger) With(...any) types.Logger { return n }
