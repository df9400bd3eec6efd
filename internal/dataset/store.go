// Package dataset holds the immutable in-memory observation table shared by
// every session.
package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"marscast/internal/filter"
	"marscast/internal/models"
)

// Store is read-only after New and safe for concurrent use.
type Store struct {
	rows []models.Observation
}

// New copies obs and orders the copy by ascending terrestrial date.
func New(obs []models.Observation) *Store {
	rows := make([]models.Observation, len(obs))
	copy(rows, obs)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TerrestrialDate.Before(rows[j].TerrestrialDate)
	})
	return &Store{rows: rows}
}

// Rows returns the full table. Callers must not modify the returned slice.
func (s *Store) Rows() []models.Observation {
	return s.rows
}

// Len is the number of observations.
func (s *Store) Len() int {
	return len(s.rows)
}

// Extent is the global date range, used to initialise and reset the date
// range filter. ok is false for an empty store.
func (s *Store) Extent() (filter.Dates, bool) {
	if len(s.rows) == 0 {
		return filter.Dates{}, false
	}
	return filter.Dates{Start: s.rows[0].TerrestrialDate, End: s.rows[len(s.rows)-1].TerrestrialDate}, true
}

// SolExtent is the lowest and highest sol index.
func (s *Store) SolExtent() (lo, hi int, ok bool) {
	if len(s.rows) == 0 {
		return 0, 0, false
	}
	lo, hi = s.rows[0].Sol, s.rows[0].Sol
	for _, r := range s.rows[1:] {
		if r.Sol < lo {
			lo = r.Sol
		}
		if r.Sol > hi {
			hi = r.Sol
		}
	}
	return lo, hi, true
}

// ErrUnknownColumn is returned by ParseColumn for names outside Columns.
var ErrUnknownColumn = errors.New("unknown column")

// Column names a numeric column that can be projected for distributions.
type Column string

const (
	ColumnSol      Column = "sol"
	ColumnLs       Column = "ls"
	ColumnMinTemp  Column = "min_temp"
	ColumnMaxTemp  Column = "max_temp"
	ColumnPressure Column = "pressure"
)

// Columns lists every projectable column.
var Columns = []Column{ColumnSol, ColumnLs, ColumnMinTemp, ColumnMaxTemp, ColumnPressure}

// ParseColumn validates a column name.
func ParseColumn(name string) (Column, error) {
	c := Column(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Columns {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownColumn, name)
}

// Values projects rows onto the column.
func (c Column) Values(rows []models.Observation) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		switch c {
		case ColumnSol:
			out[i] = float64(r.Sol)
		case ColumnLs:
			out[i] = r.SolarLongitude
		case ColumnMinTemp:
			out[i] = r.MinTemp
		case ColumnMaxTemp:
			out[i] = r.MaxTemp
		case ColumnPressure:
			out[i] = r.Pressure
		}
	}
	return out
}

// LoadSummary describes a loaded store for logs and the dataset endpoint.
type LoadSummary struct {
	Rows   int       `json:"rows"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	MinSol int       `json:"min_sol"`
	MaxSol int       `json:"max_sol"`
}

// Summary returns the row count and extents.
func (s *Store) Summary() LoadSummary {
	sum := LoadSummary{Rows: s.Len()}
	if ext, ok := s.Extent(); ok {
		sum.Start, sum.End = ext.Start, ext.End
	}
	sum.MinSol, sum.MaxSol, _ = s.SolExtent()
	return sum
}
