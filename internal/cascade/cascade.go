// Package cascade keeps each filter's offered choices consistent with the
// other active filters and resets values that fall out of their choice set.
package cascade

import (
	"fmt"
	"sort"
	"strings"

	"marscast/internal/filter"
	"marscast/internal/models"
)

// Choice is one selectable value with its display label.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ChoiceSet is the valid choice set for one criterion. The sentinel always
// comes first.
type ChoiceSet struct {
	Criterion filter.Criterion `json:"criterion"`
	Choices   []Choice         `json:"choices"`
}

// Contains reports whether value is offered, case-insensitively.
func (cs ChoiceSet) Contains(value string) bool {
	for _, c := range cs.Choices {
		if strings.EqualFold(c.Value, value) {
			return true
		}
	}
	return false
}

// Values returns the bare choice values in order.
func (cs ChoiceSet) Values() []string {
	out := make([]string, len(cs.Choices))
	for i, c := range cs.Choices {
		out[i] = c.Value
	}
	return out
}

// Choices groups the choice sets of every cascading criterion.
type Choices struct {
	Month   ChoiceSet `json:"month"`
	Season  ChoiceSet `json:"season"`
	Recency ChoiceSet `json:"recency"`
}

// Get returns the set for c.
func (c Choices) Get(criterion filter.Criterion) (ChoiceSet, bool) {
	switch criterion {
	case filter.Month:
		return c.Month, true
	case filter.Season:
		return c.Season, true
	case filter.Recency:
		return c.Recency, true
	default:
		return ChoiceSet{}, false
	}
}

var sentinel = Choice{Value: filter.All, Label: "All"}

// Engine computes choice sets on top of a filter engine.
type Engine struct {
	filters *filter.Engine
}

// NewEngine wraps filters.
func NewEngine(filters *filter.Engine) *Engine {
	return &Engine{filters: filters}
}

// MonthChoices offers the sentinel plus every month present in context,
// ascending.
func (e *Engine) MonthChoices(context []models.Observation) ChoiceSet {
	present := make(map[int]bool, 12)
	for _, r := range context {
		present[r.Month] = true
	}
	months := make([]int, 0, len(present))
	for m := range present {
		months = append(months, m)
	}
	sort.Ints(months)

	set := ChoiceSet{Criterion: filter.Month, Choices: []Choice{sentinel}}
	for _, m := range months {
		set.Choices = append(set.Choices, Choice{Value: filter.MonthValue(m), Label: models.MonthLabel(m)})
	}
	return set
}

// SeasonChoices offers the sentinel plus every season with at least one row
// in context, in table order.
func (e *Engine) SeasonChoices(context []models.Observation) ChoiceSet {
	set := ChoiceSet{Criterion: filter.Season, Choices: []Choice{sentinel}}
	for _, band := range e.filters.Config().Seasons {
		for _, r := range context {
			if filter.MatchesSeason(r, band) {
				set.Choices = append(set.Choices, Choice{Value: band.Name, Label: band.Label()})
				break
			}
		}
	}
	return set
}

// RecencyChoices offers the sentinel plus every window whose cutoff, measured
// from the latest date in context, still retains a row. An empty context
// offers only the sentinel.
func (e *Engine) RecencyChoices(context []models.Observation) ChoiceSet {
	set := ChoiceSet{Criterion: filter.Recency, Choices: []Choice{sentinel}}
	latest, ok := filter.MaxDate(context)
	if !ok {
		return set
	}
	for _, w := range e.filters.Config().Recency {
		for _, r := range context {
			if filter.MatchesRecency(r, w, latest) {
				set.Choices = append(set.Choices, Choice{Value: w.Name, Label: w.Name})
				break
			}
		}
	}
	return set
}

// Recompute derives the choice set for c from every other criterion and
// returns s with c reset to the sentinel if its value is no longer offered.
func (e *Engine) Recompute(rows []models.Observation, s filter.State, c filter.Criterion) (ChoiceSet, filter.State, error) {
	set, err := e.choices(rows, s, c)
	if err != nil {
		return ChoiceSet{}, s, err
	}
	if !s.IsSentinel(c) && !set.Contains(s.Value(c)) {
		s = s.WithSentinel(c)
	}
	return set, s, nil
}

// RecomputeAll recomputes every cascading criterion in one pass. Each choice
// set is derived from the input state, never from another criterion's
// adjusted value, so the result does not depend on evaluation order. The
// returned slice names the criteria that were reset to the sentinel.
func (e *Engine) RecomputeAll(rows []models.Observation, s filter.State) (Choices, filter.State, []filter.Criterion) {
	var out Choices
	next := s
	var resets []filter.Criterion

	for _, c := range filter.Cascading {
		set, _ := e.choices(rows, s, c)
		switch c {
		case filter.Month:
			out.Month = set
		case filter.Season:
			out.Season = set
		case filter.Recency:
			out.Recency = set
		}
		if !s.IsSentinel(c) && !set.Contains(s.Value(c)) {
			next = next.WithSentinel(c)
			resets = append(resets, c)
		}
	}

	return out, next, resets
}

// Reset restores every criterion to the sentinel and the date range to extent.
func (e *Engine) Reset(extent filter.Dates) filter.State {
	return filter.NewState(extent)
}

func (e *Engine) choices(rows []models.Observation, s filter.State, c filter.Criterion) (ChoiceSet, error) {
	context := e.filters.Apply(rows, s, c)
	switch c {
	case filter.Month:
		return e.MonthChoices(context), nil
	case filter.Season:
		return e.SeasonChoices(context), nil
	case filter.Recency:
		return e.RecencyChoices(context), nil
	default:
		return ChoiceSet{}, fmt.Errorf("criterion %q does not cascade", c)
	}
}
