package filter

import (
	"fmt"
	"strconv"
	"time"

	"marscast/internal/models"
)

// Criterion names one filter dimension.
type Criterion string

const (
	None      Criterion = ""
	Month     Criterion = "month"
	Season    Criterion = "season"
	DateRange Criterion = "date_range"
	Recency   Criterion = "recency"
)

// Cascading lists the criteria whose choice sets depend on the other filters.
var Cascading = []Criterion{Month, Season, Recency}

// ParseCriterion validates a criterion name.
func ParseCriterion(s string) (Criterion, error) {
	switch c := Criterion(s); c {
	case Month, Season, DateRange, Recency:
		return c, nil
	default:
		return None, &InvalidValueError{Criterion: None, Value: s, Reason: "unknown criterion"}
	}
}

// All is the "no constraint" sentinel for string-valued criteria.
const All = "ALL"

// MonthAll is the "no constraint" sentinel for the month criterion.
const MonthAll = 0

// Dates is an inclusive calendar date interval. The zero value is unconstrained.
type Dates struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set.
func (d Dates) IsZero() bool {
	return d.Start.IsZero() && d.End.IsZero()
}

// Normalize returns the range with Start <= End. A missing bound is left open.
func (d Dates) Normalize() Dates {
	if !d.Start.IsZero() && !d.End.IsZero() && d.End.Before(d.Start) {
		return Dates{Start: d.End, End: d.Start}
	}
	return d
}

// Contains reports whether t lies within the inclusive range. The range is
// normalised first so an inverted pair behaves like its sorted form.
func (d Dates) Contains(t time.Time) bool {
	n := d.Normalize()
	if !n.Start.IsZero() && t.Before(n.Start) {
		return false
	}
	if !n.End.IsZero() && t.After(n.End) {
		return false
	}
	return true
}

func (d Dates) String() string {
	if d.IsZero() {
		return All
	}
	return d.Start.Format(models.DateLayout) + ".." + d.End.Format(models.DateLayout)
}

// State holds the current value of every criterion.
type State struct {
	Month   int
	Season  string
	Dates   Dates
	Recency string
}

// NewState returns a state with every criterion unconstrained and the date
// range set to extent.
func NewState(extent Dates) State {
	return State{
		Month:   MonthAll,
		Season:  All,
		Dates:   extent,
		Recency: All,
	}
}

// Value returns the string form of the criterion's current value, as it
// appears in choice sets.
func (s State) Value(c Criterion) string {
	switch c {
	case Month:
		if s.Month == MonthAll {
			return All
		}
		return strconv.Itoa(s.Month)
	case Season:
		return s.Season
	case Recency:
		return s.Recency
	case DateRange:
		return s.Dates.String()
	default:
		return ""
	}
}

// IsSentinel reports whether the criterion is currently unconstrained.
func (s State) IsSentinel(c Criterion) bool {
	switch c {
	case Month:
		return s.Month == MonthAll
	case Season:
		return s.Season == All || s.Season == ""
	case Recency:
		return s.Recency == All || s.Recency == ""
	case DateRange:
		return s.Dates.IsZero()
	default:
		return true
	}
}

// WithSentinel returns a copy with criterion c unconstrained.
func (s State) WithSentinel(c Criterion) State {
	switch c {
	case Month:
		s.Month = MonthAll
	case Season:
		s.Season = All
	case Recency:
		s.Recency = All
	case DateRange:
		s.Dates = Dates{}
	}
	return s
}

// Normalize returns a copy with the date range sorted and blank string
// criteria replaced by the sentinel.
func (s State) Normalize() State {
	s.Dates = s.Dates.Normalize()
	if s.Season == "" {
		s.Season = All
	}
	if s.Recency == "" {
		s.Recency = All
	}
	return s
}

// Key is a canonical string for the state, used as a cache key.
func (s State) Key() string {
	n := s.Normalize()
	return fmt.Sprintf("m=%s|s=%s|d=%s|r=%s",
		n.Value(Month), n.Value(Season), n.Dates.String(), n.Value(Recency))
}
