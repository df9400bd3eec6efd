package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the ISO-8601 calendar date format used by the dataset and the API
const DateLayout = "2006-01-02"

// Observation represents one sol of Martian weather
// Missing measurements are stored as NaN and skipped by aggregates
type Observation struct {
	Sol             int
	TerrestrialDate time.Time
	Month           int
	SolarLongitude  float64
	MinTemp         float64
	MaxTemp         float64
	Pressure        float64
}

// observationJSON is the wire form: calendar dates and null for missing values
type observationJSON struct {
	Sol             int      `json:"sol"`
	TerrestrialDate string   `json:"terrestrial_date"`
	Month           int      `json:"month"`
	SolarLongitude  float64  `json:"ls"`
	MinTemp         *float64 `json:"min_temp"`
	MaxTemp         *float64 `json:"max_temp"`
	Pressure        *float64 `json:"pressure"`
}

// MarshalJSON implements json.Marshaler
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(observationJSON{
		Sol:             o.Sol,
		TerrestrialDate: o.TerrestrialDate.Format(DateLayout),
		Month:           o.Month,
		SolarLongitude:  o.SolarLongitude,
		MinTemp:         nullable(o.MinTemp),
		MaxTemp:         nullable(o.MaxTemp),
		Pressure:        nullable(o.Pressure),
	})
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// RawObservationRecord represents a single row of the source table before conversion
// Used by every repository so that all sources share the same validation
type RawObservationRecord struct {
	Line            int
	Sol             string
	TerrestrialDate string
	SolarLongitude  string
	Month           string
	MinTemp         string
	MaxTemp         string
	Pressure        string
}

// ToObservation converts RawObservationRecord to Observation
// sol, date, ls and month are required; empty or "NaN" measurements become NaN
func (r *RawObservationRecord) ToObservation() (*Observation, error) {
	sol, err := strconv.Atoi(strings.TrimSpace(r.Sol))
	if err != nil {
		return nil, r.invalid("sol", r.Sol, "invalid sol, expected integer")
	}

	date, err := time.Parse(DateLayout, strings.TrimSpace(r.TerrestrialDate))
	if err != nil {
		return nil, r.invalid("terrestrial_date", r.TerrestrialDate, "invalid date format, expected YYYY-MM-DD")
	}

	ls, err := strconv.ParseFloat(strings.TrimSpace(r.SolarLongitude), 64)
	if err != nil || math.IsNaN(ls) || ls < 0 || ls >= 360 {
		return nil, r.invalid("ls", r.SolarLongitude, "invalid solar longitude, expected degrees in [0,360)")
	}

	month, err := ParseMonth(r.Month)
	if err != nil {
		return nil, r.invalid("month", r.Month, err.Error())
	}

	obs := &Observation{
		Sol:             sol,
		TerrestrialDate: date,
		Month:           month,
		SolarLongitude:  ls,
	}

	if obs.MinTemp, err = parseMeasurement(r.MinTemp); err != nil {
		return nil, r.invalid("min_temp", r.MinTemp, "invalid min_temp, expected number")
	}
	if obs.MaxTemp, err = parseMeasurement(r.MaxTemp); err != nil {
		return nil, r.invalid("max_temp", r.MaxTemp, "invalid max_temp, expected number")
	}
	if obs.Pressure, err = parseMeasurement(r.Pressure); err != nil {
		return nil, r.invalid("pressure", r.Pressure, "invalid pressure, expected number")
	}

	return obs, nil
}

func (r *RawObservationRecord) invalid(field, value, message string) *ValidationError {
	return &ValidationError{
		Line:    r.Line,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// parseMeasurement parses an optional numeric cell
func parseMeasurement(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ParseMonth accepts "6" or the source form "Month 6" and returns 1..12
func ParseMonth(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) > len("month") && strings.EqualFold(s[:len("month")], "month") {
		s = strings.TrimSpace(s[len("month"):])
	}

	m, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid month %q, expected 1..12", s)
	}
	if m < 1 || m > 12 {
		return 0, fmt.Errorf("month %d out of range, expected 1..12", m)
	}
	return m, nil
}

// MonthLabel returns the display label used by the source dataset
func MonthLabel(m int) string {
	return fmt.Sprintf("Month %d", m)
}

// ValidationError represents a data validation error
type ValidationError struct {
	Line    int
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s (got %q)", e.Line, e.Field, e.Message, e.Value)
	}
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
