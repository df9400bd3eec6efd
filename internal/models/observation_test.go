package models

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// TestRawObservationRecord_ToObservation tests the conversion logic
func TestRawObservationRecord_ToObservation(t *testing.T) {
	valid := RawObservationRecord{
		Line:            2,
		Sol:             "1895",
		TerrestrialDate: "2018-02-27",
		SolarLongitude:  "135",
		Month:           "Month 5",
		MinTemp:         "-77.0",
		MaxTemp:         "-10.0",
		Pressure:        "727.0",
	}

	tests := []struct {
		name        string
		mutate      func(*RawObservationRecord)
		wantErr     bool
		wantField   string
		checkValues func(*testing.T, *Observation)
	}{
		{
			name: "valid record with all values",
			checkValues: func(t *testing.T, obs *Observation) {
				if obs.Sol != 1895 {
					t.Errorf("Sol = %v, want %v", obs.Sol, 1895)
				}

				expectedDate := time.Date(2018, 2, 27, 0, 0, 0, 0, time.UTC)
				if !obs.TerrestrialDate.Equal(expectedDate) {
					t.Errorf("TerrestrialDate = %v, want %v", obs.TerrestrialDate, expectedDate)
				}
				if obs.Month != 5 {
					t.Errorf("Month = %v, want %v", obs.Month, 5)
				}
				if obs.SolarLongitude != 135 {
					t.Errorf("SolarLongitude = %v, want %v", obs.SolarLongitude, 135)
				}
				if obs.MinTemp != -77 || obs.MaxTemp != -10 || obs.Pressure != 727 {
					t.Errorf("measurements = %v/%v/%v, want -77/-10/727", obs.MinTemp, obs.MaxTemp, obs.Pressure)
				}
			},
		},
		{
			name:   "plain integer month",
			mutate: func(r *RawObservationRecord) { r.Month = "12" },
			checkValues: func(t *testing.T, obs *Observation) {
				if obs.Month != 12 {
					t.Errorf("Month = %v, want %v", obs.Month, 12)
				}
			},
		},
		{
			name: "missing measurements become NaN",
			mutate: func(r *RawObservationRecord) {
				r.MinTemp = ""
				r.MaxTemp = "NaN"
				r.Pressure = " "
			},
			checkValues: func(t *testing.T, obs *Observation) {
				if !math.IsNaN(obs.MinTemp) || !math.IsNaN(obs.MaxTemp) || !math.IsNaN(obs.Pressure) {
					t.Errorf("measurements = %v/%v/%v, want NaN", obs.MinTemp, obs.MaxTemp, obs.Pressure)
				}
			},
		},
		{
			name:      "invalid sol",
			mutate:    func(r *RawObservationRecord) { r.Sol = "abc" },
			wantErr:   true,
			wantField: "sol",
		},
		{
			name:      "invalid date format",
			mutate:    func(r *RawObservationRecord) { r.TerrestrialDate = "27/02/2018" },
			wantErr:   true,
			wantField: "terrestrial_date",
		},
		{
			name:      "longitude at 360 is out of range",
			mutate:    func(r *RawObservationRecord) { r.SolarLongitude = "360" },
			wantErr:   true,
			wantField: "ls",
		},
		{
			name:      "negative longitude",
			mutate:    func(r *RawObservationRecord) { r.SolarLongitude = "-1" },
			wantErr:   true,
			wantField: "ls",
		},
		{
			name:      "month out of range",
			mutate:    func(r *RawObservationRecord) { r.Month = "Month 13" },
			wantErr:   true,
			wantField: "month",
		},
		{
			name:      "garbage measurement",
			mutate:    func(r *RawObservationRecord) { r.Pressure = "high" },
			wantErr:   true,
			wantField: "pressure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := valid
			if tt.mutate != nil {
				tt.mutate(&record)
			}

			obs, err := record.ToObservation()

			if (err != nil) != tt.wantErr {
				t.Fatalf("ToObservation() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("error type = %T, want *ValidationError", err)
				}
				if verr.Field != tt.wantField {
					t.Errorf("Field = %v, want %v", verr.Field, tt.wantField)
				}
				if verr.Line != 2 {
					t.Errorf("Line = %v, want 2", verr.Line)
				}
				return
			}

			if tt.checkValues != nil {
				tt.checkValues(t, obs)
			}
		})
	}
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1", 1, false},
		{"Month 7", 7, false},
		{"month 12", 12, false},
		{" 3 ", 3, false},
		{"0", 0, true},
		{"13", 0, true},
		{"Month", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMonth(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMonth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMonth(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestObservation_MarshalJSON(t *testing.T) {
	obs := Observation{
		Sol:             10,
		TerrestrialDate: time.Date(2012, 8, 16, 0, 0, 0, 0, time.UTC),
		Month:           6,
		SolarLongitude:  155,
		MinTemp:         -75,
		MaxTemp:         math.NaN(),
		Pressure:        739,
	}

	data, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got := string(data)
	for _, want := range []string{`"terrestrial_date":"2012-08-16"`, `"max_temp":null`, `"pressure":739`} {
		if !strings.Contains(got, want) {
			t.Errorf("JSON %s does not contain %s", got, want)
		}
	}
}

// TestValidationError tests error handling
func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "date",
		Value:   "invalid",
		Message: "invalid date format",
	}

	if err.Error() != "invalid date format" {
		t.Errorf("Error() = %v, want %v", err.Error(), "invalid date format")
	}

	if err.IsTransient() {
		t.Error("ValidationError should not be transient")
	}
}
