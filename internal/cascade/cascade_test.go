package cascade

import (
	"reflect"
	"testing"
	"time"

	"marscast/internal/filter"
	"marscast/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixture() []models.Observation {
	return []models.Observation{
		{Sol: 1, TerrestrialDate: day(2020, 1, 1), Month: 1, SolarLongitude: 10, Pressure: 700},
		{Sol: 2, TerrestrialDate: day(2020, 1, 2), Month: 4, SolarLongitude: 100, Pressure: 710},
		{Sol: 3, TerrestrialDate: day(2020, 1, 3), Month: 7, SolarLongitude: 190, Pressure: 690},
		{Sol: 4, TerrestrialDate: day(2020, 1, 4), Month: 10, SolarLongitude: 280, Pressure: 705},
	}
}

func newEngine() *Engine {
	return NewEngine(filter.NewEngine(filter.DefaultConfig()))
}

func extent() filter.Dates {
	return filter.Dates{Start: day(2020, 1, 1), End: day(2020, 1, 4)}
}

func TestEngine_Recompute(t *testing.T) {
	e := newEngine()
	rows := fixture()

	tests := []struct {
		name        string
		state       func() filter.State
		criterion   filter.Criterion
		wantValues  []string
		checkValues func(*testing.T, filter.State)
	}{
		{
			name:       "months unconstrained",
			state:      func() filter.State { return filter.NewState(extent()) },
			criterion:  filter.Month,
			wantValues: []string{"ALL", "1", "4", "7", "10"},
		},
		{
			name: "months narrowed by season",
			state: func() filter.State {
				s := filter.NewState(extent())
				s.Season = "Winter"
				return s
			},
			criterion:  filter.Month,
			wantValues: []string{"ALL", "4"},
		},
		{
			name: "month value kept when still offered",
			state: func() filter.State {
				s := filter.NewState(extent())
				s.Season = "Winter"
				s.Month = 4
				return s
			},
			criterion:  filter.Month,
			wantValues: []string{"ALL", "4"},
			checkValues: func(t *testing.T, s filter.State) {
				if s.Month != 4 {
					t.Errorf("Month = %d, want 4", s.Month)
				}
			},
		},
		{
			name: "month value reset when excluded by season",
			state: func() filter.State {
				s := filter.NewState(extent())
				s.Season = "Summer"
				s.Month = 1
				return s
			},
			criterion:  filter.Month,
			wantValues: []string{"ALL", "10"},
			checkValues: func(t *testing.T, s filter.State) {
				if s.Month != filter.MonthAll {
					t.Errorf("Month = %d, want sentinel", s.Month)
				}
			},
		},
		{
			name: "seasons narrowed by date range",
			state: func() filter.State {
				s := filter.NewState(filter.Dates{Start: day(2020, 1, 3), End: day(2020, 1, 4)})
				return s
			},
			criterion:  filter.Season,
			wantValues: []string{"ALL", "Spring", "Summer"},
		},
		{
			name: "recency collapses on empty context",
			state: func() filter.State {
				s := filter.NewState(filter.Dates{Start: day(2019, 1, 1), End: day(2019, 2, 1)})
				s.Recency = "Last Year"
				return s
			},
			criterion:  filter.Recency,
			wantValues: []string{"ALL"},
			checkValues: func(t *testing.T, s filter.State) {
				if s.Recency != filter.All {
					t.Errorf("Recency = %q, want sentinel", s.Recency)
				}
			},
		},
		{
			name:       "recency offers every window on non-empty context",
			state:      func() filter.State { return filter.NewState(extent()) },
			criterion:  filter.Recency,
			wantValues: []string{"ALL", "Last 3 Months", "Last 6 Months", "Last Year", "Last 2 Years"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, next, err := e.Recompute(rows, tt.state(), tt.criterion)
			if err != nil {
				t.Fatalf("Recompute() error = %v", err)
			}
			if got := set.Values(); !reflect.DeepEqual(got, tt.wantValues) {
				t.Errorf("choices = %v, want %v", got, tt.wantValues)
			}
			if set.Choices[0].Value != filter.All {
				t.Error("sentinel must be the first choice")
			}
			if !next.IsSentinel(tt.criterion) && !set.Contains(next.Value(tt.criterion)) {
				t.Errorf("value %q is not in its own choice set", next.Value(tt.criterion))
			}
			if tt.checkValues != nil {
				tt.checkValues(t, next)
			}
		})
	}
}

func TestEngine_Recompute_DateRangeDoesNotCascade(t *testing.T) {
	e := newEngine()
	if _, _, err := e.Recompute(fixture(), filter.NewState(extent()), filter.DateRange); err == nil {
		t.Error("Recompute(date_range) should fail")
	}
}

func TestEngine_Recompute_Idempotent(t *testing.T) {
	e := newEngine()
	rows := fixture()
	s := filter.NewState(extent())
	s.Season = "Autumn"
	s.Month = 7

	for _, c := range filter.Cascading {
		first, s1, _ := e.Recompute(rows, s, c)
		second, s2, _ := e.Recompute(rows, s1, c)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: choice sets differ between passes: %v vs %v", c, first.Values(), second.Values())
		}
		if s1 != s2 {
			t.Errorf("%s: state changed on second pass: %+v vs %+v", c, s1, s2)
		}
	}
}

func TestEngine_RecomputeAll(t *testing.T) {
	e := newEngine()
	rows := fixture()

	s := filter.NewState(extent())
	s.Month = 1
	s.Season = "Summer"
	s.Recency = "Last 3 Months"

	choices, next, resets := e.RecomputeAll(rows, s)

	// Month and season exclude each other, so both are reset from the same
	// input state. Recency sees the empty month and season intersection and
	// collapses to the sentinel as well.
	if next.Month != filter.MonthAll || next.Season != filter.All || next.Recency != filter.All {
		t.Errorf("state = %+v, want every cascading criterion reset", next)
	}
	if !reflect.DeepEqual(resets, []filter.Criterion{filter.Month, filter.Season, filter.Recency}) {
		t.Errorf("resets = %v", resets)
	}
	if got := choices.Month.Values(); !reflect.DeepEqual(got, []string{"ALL", "10"}) {
		t.Errorf("month choices = %v", got)
	}
	if got := choices.Season.Values(); !reflect.DeepEqual(got, []string{"ALL", "Autumn"}) {
		t.Errorf("season choices = %v", got)
	}
	if got := choices.Recency.Values(); !reflect.DeepEqual(got, []string{"ALL"}) {
		t.Errorf("recency choices = %v", got)
	}

	for _, c := range filter.Cascading {
		set, _ := choices.Get(c)
		if !next.IsSentinel(c) && !set.Contains(next.Value(c)) {
			t.Errorf("%s value %q not in choice set %v", c, next.Value(c), set.Values())
		}
	}
}

func TestEngine_RecomputeAll_EmptyDateWindow(t *testing.T) {
	e := newEngine()
	s := filter.NewState(filter.Dates{Start: day(2021, 5, 1), End: day(2021, 6, 1)})

	choices, _, resets := e.RecomputeAll(fixture(), s)
	if got := choices.Recency.Values(); !reflect.DeepEqual(got, []string{"ALL"}) {
		t.Errorf("recency choices = %v, want only the sentinel", got)
	}
	if got := choices.Month.Values(); !reflect.DeepEqual(got, []string{"ALL"}) {
		t.Errorf("month choices = %v, want only the sentinel", got)
	}
	if len(resets) != 0 {
		t.Errorf("resets = %v, want none for sentinel values", resets)
	}
}

func TestEngine_RecomputeAll_KeepsConsistentValues(t *testing.T) {
	e := newEngine()
	s := filter.NewState(extent())
	s.Season = "Winter"
	s.Recency = "Last 3 Months"

	_, next, resets := e.RecomputeAll(fixture(), s)
	if next != s {
		t.Errorf("state = %+v, want unchanged %+v", next, s)
	}
	if len(resets) != 0 {
		t.Errorf("resets = %v, want none", resets)
	}
}

func TestEngine_Reset(t *testing.T) {
	e := newEngine()
	s := e.Reset(extent())
	for _, c := range filter.Cascading {
		if !s.IsSentinel(c) {
			t.Errorf("%s not reset", c)
		}
	}
	if s.Dates != extent() {
		t.Errorf("Dates = %v, want %v", s.Dates, extent())
	}
}

func TestChoiceSet_Labels(t *testing.T) {
	e := newEngine()
	seasons := e.SeasonChoices(fixture())
	if seasons.Choices[2].Label != "Winter (ls=90)" {
		t.Errorf("label = %q", seasons.Choices[2].Label)
	}
	months := e.MonthChoices(fixture())
	if months.Choices[1].Label != "Month 1" {
		t.Errorf("label = %q", months.Choices[1].Label)
	}
}
