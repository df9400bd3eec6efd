package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SeasonBand maps a named season to a half-open solar longitude interval [Lo, Hi).
type SeasonBand struct {
	Name string  `json:"name" koanf:"name" yaml:"name" validate:"required"`
	Lo   float64 `json:"lo" koanf:"lo" yaml:"lo" validate:"gte=0,lt=360"`
	Hi   float64 `json:"hi" koanf:"hi" yaml:"hi" validate:"gt=0,lte=360"`
}

// Contains reports whether ls falls inside the band. A value equal to Hi
// belongs to the next band.
func (b SeasonBand) Contains(ls float64) bool {
	return ls >= b.Lo && ls < b.Hi
}

// Label is the display form, e.g. "Winter (ls=90)".
func (b SeasonBand) Label() string {
	return fmt.Sprintf("%s (ls=%g)", b.Name, b.Lo)
}

// SeasonTable is an immutable partition of [0,360) into named seasons.
type SeasonTable []SeasonBand

// Lookup finds a band by name or display label, case-insensitively.
func (t SeasonTable) Lookup(name string) (SeasonBand, bool) {
	name = strings.TrimSpace(name)
	for _, b := range t {
		if strings.EqualFold(b.Name, name) || strings.EqualFold(b.Label(), name) {
			return b, true
		}
	}
	return SeasonBand{}, false
}

// Classify returns the single band containing ls.
func (t SeasonTable) Classify(ls float64) (SeasonBand, bool) {
	for _, b := range t {
		if b.Contains(ls) {
			return b, true
		}
	}
	return SeasonBand{}, false
}

// Validate checks that the bands partition [0,360) without gaps or overlaps.
func (t SeasonTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("season table is empty")
	}

	bands := make([]SeasonBand, len(t))
	copy(bands, t)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Lo < bands[j].Lo })

	seen := make(map[string]bool, len(bands))
	next := 0.0
	for _, b := range bands {
		key := strings.ToLower(strings.TrimSpace(b.Name))
		if key == "" || strings.EqualFold(key, All) {
			return fmt.Errorf("season name %q is reserved or empty", b.Name)
		}
		if seen[key] {
			return fmt.Errorf("duplicate season %q", b.Name)
		}
		seen[key] = true

		if b.Lo != next {
			return fmt.Errorf("season %q starts at %g, expected %g", b.Name, b.Lo, next)
		}
		if b.Hi <= b.Lo {
			return fmt.Errorf("season %q has empty interval [%g,%g)", b.Name, b.Lo, b.Hi)
		}
		next = b.Hi
	}
	if next != 360 {
		return fmt.Errorf("season table ends at %g, expected 360", next)
	}
	return nil
}

// Window is a named rolling offset measured back from a maximum date.
type Window struct {
	Name   string `json:"name" koanf:"name" yaml:"name" validate:"required"`
	Months int    `json:"months" koanf:"months" yaml:"months" validate:"gte=0"`
	Days   int    `json:"days" koanf:"days" yaml:"days" validate:"gte=0"`
}

// Cutoff returns the earliest date retained by the window.
func (w Window) Cutoff(max time.Time) time.Time {
	return max.AddDate(0, -w.Months, -w.Days)
}

// RecencyTable is the ordered list of offered rolling windows.
type RecencyTable []Window

// Lookup finds a window by name, case-insensitively.
func (t RecencyTable) Lookup(name string) (Window, bool) {
	name = strings.TrimSpace(name)
	for _, w := range t {
		if strings.EqualFold(w.Name, name) {
			return w, true
		}
	}
	return Window{}, false
}

// Validate checks names are unique and every window has a positive offset.
func (t RecencyTable) Validate() error {
	seen := make(map[string]bool, len(t))
	for _, w := range t {
		key := strings.ToLower(strings.TrimSpace(w.Name))
		if key == "" || strings.EqualFold(key, All) {
			return fmt.Errorf("recency window name %q is reserved or empty", w.Name)
		}
		if seen[key] {
			return fmt.Errorf("duplicate recency window %q", w.Name)
		}
		seen[key] = true

		if w.Months <= 0 && w.Days <= 0 {
			return fmt.Errorf("recency window %q needs a positive offset", w.Name)
		}
	}
	return nil
}

// Config holds the immutable lookup tables the engine evaluates against.
type Config struct {
	Seasons SeasonTable
	Recency RecencyTable
}

// DefaultSeasons is the Martian season partition by solar longitude.
func DefaultSeasons() SeasonTable {
	return SeasonTable{
		{Name: "Autumn", Lo: 0, Hi: 90},
		{Name: "Winter", Lo: 90, Hi: 180},
		{Name: "Spring", Lo: 180, Hi: 270},
		{Name: "Summer", Lo: 270, Hi: 360},
	}
}

// DefaultRecency is the set of rolling windows offered when none are configured.
func DefaultRecency() RecencyTable {
	return RecencyTable{
		{Name: "Last 3 Months", Months: 3},
		{Name: "Last 6 Months", Months: 6},
		{Name: "Last Year", Months: 12},
		{Name: "Last 2 Years", Months: 24},
	}
}

// DefaultConfig returns the built-in season and recency tables.
func DefaultConfig() Config {
	return Config{
		Seasons: DefaultSeasons(),
		Recency: DefaultRecency(),
	}
}

// Validate validates both tables.
func (c Config) Validate() error {
	if err := c.Seasons.Validate(); err != nil {
		return err
	}
	return c.Recency.Validate()
}
