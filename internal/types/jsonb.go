package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*RuleParams)(nil)
	_ driver.Valuer = RuleParams(nil)
	_ sql.Scanner   = (*WeatherObservation)(nil)
	_ driver.Valuer = WeatherObservation{}
)

// scanJSONB scans a JSONB database value into dest. It accepts the []byte and
// string representations different drivers hand back.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// RuleParams holds the condition-specific parameters of a rule exactly as the
// user stored them. The conditions package decodes them into typed variants.
type RuleParams map[string]any

// Scan implements sql.Scanner.
func (p *RuleParams) Scan(value interface{}) error {
	return scanJSONB(p, value)
}

// Value implements driver.Valuer. A nil map is stored as an empty object.
func (p RuleParams) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (w *WeatherObservation) Scan(value interface{}) error {
	return scanJSONB(w, value)
}

// Value implements driver.Valuer.
func (w WeatherObservation) Value() (driver.Value, error) {
	return json.Marshal(w)
}
