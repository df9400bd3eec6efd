package dataset

import (
	"testing"
	"time"

	"marscast/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNew_SortsCopy(t *testing.T) {
	in := []models.Observation{
		{Sol: 3, TerrestrialDate: day(2020, 1, 3)},
		{Sol: 1, TerrestrialDate: day(2020, 1, 1)},
		{Sol: 2, TerrestrialDate: day(2020, 1, 2)},
	}
	s := New(in)

	if in[0].Sol != 3 {
		t.Error("New() reordered the caller's slice")
	}
	for i, r := range s.Rows() {
		if r.Sol != i+1 {
			t.Errorf("row %d sol = %d, want %d", i, r.Sol, i+1)
		}
	}

	ext, ok := s.Extent()
	if !ok || !ext.Start.Equal(day(2020, 1, 1)) || !ext.End.Equal(day(2020, 1, 3)) {
		t.Errorf("Extent() = %v, %v", ext, ok)
	}
	lo, hi, ok := s.SolExtent()
	if !ok || lo != 1 || hi != 3 {
		t.Errorf("SolExtent() = %d, %d, %v", lo, hi, ok)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d", s.Len())
	}
}

func TestStore_Empty(t *testing.T) {
	s := New(nil)
	if _, ok := s.Extent(); ok {
		t.Error("empty store should have no extent")
	}
	sum := s.Summary()
	if sum.Rows != 0 || !sum.Start.IsZero() {
		t.Errorf("Summary() = %+v", sum)
	}
}

func TestColumn(t *testing.T) {
	rows := []models.Observation{{Sol: 7, SolarLongitude: 12.5, MinTemp: -80, MaxTemp: -10, Pressure: 700}}

	tests := []struct {
		name    string
		want    float64
		wantErr bool
	}{
		{"sol", 7, false},
		{"LS", 12.5, false},
		{"min_temp", -80, false},
		{"max_temp", -10, false},
		{" pressure ", 700, false},
		{"wind_speed", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseColumn(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColumn() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := c.Values(rows)[0]; got != tt.want {
				t.Errorf("Values() = %v, want %v", got, tt.want)
			}
		})
	}
}
