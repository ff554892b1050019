package types

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate returns the shared validator instance. Struct tags in this module
// are written against it.
func Validate() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidatePreference rejects preferences the engine must never see: an
// unresolvable timezone, an out-of-range digest hour, or an enabled quiet
// hours window whose start and end coincide.
func ValidatePreference(p NotificationPreference) error {
	if err := Validate().Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return classifyPreferenceError(fieldErrs[0], err)
		}
		return NewAppError(ErrCodeValidationMissingField, "invalid notification preferences", err)
	}
	if p.DND.Enabled && p.DND.StartHour == p.DND.EndHour {
		return NewAppError(ErrCodeValidationQuietHours,
			fmt.Sprintf("quiet hours start and end must differ (both %d)", p.DND.StartHour), nil)
	}
	return nil
}

func classifyPreferenceError(fe validator.FieldError, err error) error {
	switch fe.StructField() {
	case "Timezone":
		if fe.Tag() == "timezone" {
			return NewAppError(ErrCodeValidationInvalidTimezone,
				fmt.Sprintf("timezone %q is not a resolvable identifier", fe.Value()), err)
		}
	case "DigestHour":
		return NewAppError(ErrCodeValidationDigestHour, "digest hour must be within 0-23", err)
	case "StartHour", "EndHour":
		return NewAppError(ErrCodeValidationQuietHours, "quiet hours must be within 0-23", err)
	}
	return NewAppError(ErrCodeValidationMissingField,
		fmt.Sprintf("field %s failed %q validation", fe.Namespace(), fe.Tag()), err)
}

// ResolveLocation loads a timezone identifier. The empty string is rejected
// rather than silently treated as UTC.
func ResolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, NewAppError(ErrCodeValidationInvalidTimezone, "timezone is empty", nil)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("timezone %q is not a resolvable identifier", tz), err)
	}
	return loc, nil
}
