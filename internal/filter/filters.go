package filter

import (
	"strconv"
	"strings"
	"time"

	"marscast/internal/models"
)

// Engine evaluates filter states against row sets using a fixed Config.
type Engine struct {
	cfg Config
}

// NewEngine returns an engine bound to cfg. Empty tables fall back to the defaults.
func NewEngine(cfg Config) *Engine {
	if len(cfg.Seasons) == 0 {
		cfg.Seasons = DefaultSeasons()
	}
	if len(cfg.Recency) == 0 {
		cfg.Recency = DefaultRecency()
	}
	return &Engine{cfg: cfg}
}

// Config returns the tables the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Apply returns the rows satisfying every active criterion except exclude.
//
// Criteria are applied in the order month, season, date range, recency. The
// recency cutoff is measured from the latest date that survived the first
// three criteria. The input slice is never modified; the result is a new slice.
// A season or recency value missing from the tables matches nothing.
func (e *Engine) Apply(rows []models.Observation, s State, exclude Criterion) []models.Observation {
	useMonth := exclude != Month && !s.IsSentinel(Month)
	useSeason := exclude != Season && !s.IsSentinel(Season)
	useDates := exclude != DateRange && !s.IsSentinel(DateRange)
	useRecency := exclude != Recency && !s.IsSentinel(Recency)

	var band SeasonBand
	if useSeason {
		var ok bool
		if band, ok = e.cfg.Seasons.Lookup(s.Season); !ok {
			return []models.Observation{}
		}
	}

	var window Window
	if useRecency {
		var ok bool
		if window, ok = e.cfg.Recency.Lookup(s.Recency); !ok {
			return []models.Observation{}
		}
	}

	s = s.Normalize()
	dates := s.Dates

	out := make([]models.Observation, 0, len(rows))
	for _, r := range rows {
		if useMonth && !MatchesMonth(r, s.Month) {
			continue
		}
		if useSeason && !MatchesSeason(r, band) {
			continue
		}
		if useDates && !MatchesDates(r, dates) {
			continue
		}
		out = append(out, r)
	}

	if useRecency && len(out) > 0 {
		latest, _ := MaxDate(out)
		kept := out[:0]
		for _, r := range out {
			if MatchesRecency(r, window, latest) {
				kept = append(kept, r)
			}
		}
		out = kept
	}

	return out
}

// MatchesMonth is the month equality predicate.
func MatchesMonth(r models.Observation, month int) bool {
	return r.Month == month
}

// MatchesSeason is the half-open solar longitude predicate.
func MatchesSeason(r models.Observation, band SeasonBand) bool {
	return band.Contains(r.SolarLongitude)
}

// MatchesDates is the inclusive date range predicate.
func MatchesDates(r models.Observation, d Dates) bool {
	return d.Contains(r.TerrestrialDate)
}

// MatchesRecency keeps rows dated on or after the window's cutoff from latest.
func MatchesRecency(r models.Observation, w Window, latest time.Time) bool {
	return !r.TerrestrialDate.Before(w.Cutoff(latest))
}

// MaxDate returns the latest terrestrial date in rows.
func MaxDate(rows []models.Observation) (time.Time, bool) {
	if len(rows) == 0 {
		return time.Time{}, false
	}
	latest := rows[0].TerrestrialDate
	for _, r := range rows[1:] {
		if r.TerrestrialDate.After(latest) {
			latest = r.TerrestrialDate
		}
	}
	return latest, true
}

// MinDate returns the earliest terrestrial date in rows.
func MinDate(rows []models.Observation) (time.Time, bool) {
	if len(rows) == 0 {
		return time.Time{}, false
	}
	earliest := rows[0].TerrestrialDate
	for _, r := range rows[1:] {
		if r.TerrestrialDate.Before(earliest) {
			earliest = r.TerrestrialDate
		}
	}
	return earliest, true
}

// ParseMonth validates a month setter value: "ALL", "1".."12" or "Month N".
func (e *Engine) ParseMonth(value string) (int, error) {
	if isAll(value) {
		return MonthAll, nil
	}
	m, err := models.ParseMonth(value)
	if err != nil {
		return 0, &InvalidValueError{Criterion: Month, Value: value, Reason: "expected ALL or a month 1..12"}
	}
	return m, nil
}

// ParseSeason validates a season setter value and returns its canonical name.
func (e *Engine) ParseSeason(value string) (string, error) {
	if isAll(value) {
		return All, nil
	}
	band, ok := e.cfg.Seasons.Lookup(value)
	if !ok {
		return "", &InvalidValueError{Criterion: Season, Value: value, Reason: "unknown season"}
	}
	return band.Name, nil
}

// ParseRecency validates a recency setter value and returns its canonical name.
func (e *Engine) ParseRecency(value string) (string, error) {
	if isAll(value) {
		return All, nil
	}
	w, ok := e.cfg.Recency.Lookup(value)
	if !ok {
		return "", &InvalidValueError{Criterion: Recency, Value: value, Reason: "unknown recency window"}
	}
	return w.Name, nil
}

// ParseDates validates a date range setter value. An inverted pair is sorted.
func (e *Engine) ParseDates(start, end string) (Dates, error) {
	s, err := time.Parse(models.DateLayout, strings.TrimSpace(start))
	if err != nil {
		return Dates{}, &InvalidValueError{Criterion: DateRange, Value: start, Reason: "expected YYYY-MM-DD"}
	}
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(end))
	if err != nil {
		return Dates{}, &InvalidValueError{Criterion: DateRange, Value: end, Reason: "expected YYYY-MM-DD"}
	}
	return Dates{Start: s, End: t}.Normalize(), nil
}

func isAll(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), All)
}

// MonthValue renders a month for choice sets.
func MonthValue(m int) string {
	if m == MonthAll {
		return All
	}
	return strconv.Itoa(m)
}
