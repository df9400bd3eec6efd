// Package aggregate derives KPI scalars, the daily time series and
// distribution histograms from a filtered row set.
package aggregate

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"marscast/internal/models"
)

// Unavailable is the display form of a value that cannot be computed.
const Unavailable = "N/A"

// Value is a scalar that may be unavailable, e.g. the mean of an empty set.
// Full precision is kept; rounding happens only for display.
type Value struct {
	v  float64
	ok bool
}

// Available wraps v. NaN and infinities are treated as unavailable.
func Available(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// None returns the unavailable value.
func None() Value {
	return Value{}
}

// Float returns the full-precision value.
func (v Value) Float() (float64, bool) {
	return v.v, v.ok
}

// IsAvailable reports whether the value was computed.
func (v Value) IsAvailable() bool {
	return v.ok
}

// Rounded returns the value rounded to two decimals.
func (v Value) Rounded() float64 {
	return math.Round(v.v*100) / 100
}

func (v Value) String() string {
	if !v.ok {
		return Unavailable
	}
	return strconv.FormatFloat(v.Rounded(), 'f', 2, 64)
}

// MarshalJSON encodes the rounded value, or null when unavailable.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.Rounded())
}

// Summary holds the KPI scalars.
type Summary struct {
	Count        int   `json:"count"`
	LatestSol    Value `json:"latest_sol"`
	MeanMinTemp  Value `json:"mean_min_temp"`
	MeanMaxTemp  Value `json:"mean_max_temp"`
	MeanPressure Value `json:"mean_pressure"`
	StdPressure  Value `json:"std_pressure"`
}

// Point is one calendar day of the resampled series.
type Point struct {
	Date         time.Time `json:"-"`
	Observations int       `json:"observations"`
	MinTemp      Value     `json:"min_temp"`
	MaxTemp      Value     `json:"max_temp"`
	Pressure     Value     `json:"pressure"`
}

type pointJSON struct {
	Date string `json:"date"`
	pointAlias
}

type pointAlias Point

// MarshalJSON renders the date as YYYY-MM-DD.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{Date: p.Date.Format(models.DateLayout), pointAlias: pointAlias(p)})
}

// Result is the full aggregate of one row set.
type Result struct {
	Summary Summary `json:"summary"`
	Series  []Point `json:"series"`
}

// Compute aggregates rows. An empty set yields unavailable scalars and an
// empty series, never an error.
func Compute(rows []models.Observation) Result {
	minTemps := make([]float64, len(rows))
	maxTemps := make([]float64, len(rows))
	pressures := make([]float64, len(rows))
	latest := None()

	for i, r := range rows {
		minTemps[i] = r.MinTemp
		maxTemps[i] = r.MaxTemp
		pressures[i] = r.Pressure
		if v, ok := latest.Float(); !ok || float64(r.Sol) > v {
			latest = Available(float64(r.Sol))
		}
	}

	return Result{
		Summary: Summary{
			Count:        len(rows),
			LatestSol:    latest,
			MeanMinTemp:  Mean(minTemps),
			MeanMaxTemp:  Mean(maxTemps),
			MeanPressure: Mean(pressures),
			StdPressure:  SampleStdDev(pressures),
		},
		Series: DailySeries(rows),
	}
}

// Mean is the arithmetic mean of the non-NaN values.
func Mean(values []float64) Value {
	var sum float64
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return None()
	}
	return Available(sum / float64(n))
}

// SampleStdDev is the n-1 standard deviation of the non-NaN values. It is
// unavailable for fewer than two values.
func SampleStdDev(values []float64) Value {
	mean, ok := Mean(values).Float()
	if !ok {
		return None()
	}
	var ss float64
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		ss += d * d
		n++
	}
	if n < 2 {
		return None()
	}
	return Available(math.Sqrt(ss / float64(n-1)))
}

type dayAccumulator struct {
	n                int
	minTemp, maxTemp []float64
	pressure         []float64
}

// DailySeries resamples rows to one point per calendar day over
// [min date, max date]. Rows sharing a date are averaged. Days without
// observations are gaps with unavailable values.
func DailySeries(rows []models.Observation) []Point {
	if len(rows) == 0 {
		return []Point{}
	}

	byDay := make(map[time.Time]*dayAccumulator)
	var first, last time.Time
	for i, r := range rows {
		d := truncateDay(r.TerrestrialDate)
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}
		acc, ok := byDay[d]
		if !ok {
			acc = &dayAccumulator{}
			byDay[d] = acc
		}
		acc.n++
		acc.minTemp = append(acc.minTemp, r.MinTemp)
		acc.maxTemp = append(acc.maxTemp, r.MaxTemp)
		acc.pressure = append(acc.pressure, r.Pressure)
	}

	days := int(last.Sub(first).Hours()/24) + 1
	series := make([]Point, 0, days)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		p := Point{Date: d, MinTemp: None(), MaxTemp: None(), Pressure: None()}
		if acc, ok := byDay[d]; ok {
			p.Observations = acc.n
			p.MinTemp = Mean(acc.minTemp)
			p.MaxTemp = Mean(acc.maxTemp)
			p.Pressure = Mean(acc.pressure)
		}
		series = append(series, p)
	}
	return series
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Bin is one equal-width histogram bucket. The last bin is closed on both ends.
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Histogram is the distribution of one column over a row set.
type Histogram struct {
	Column  string `json:"column"`
	Bins    []Bin  `json:"bins"`
	Missing int    `json:"missing"`
}

// DefaultBins is the bin count used when none is requested.
const DefaultBins = 20

// NewHistogram buckets the non-NaN values into equal-width bins. When every
// value is equal a single bin holds them all.
func NewHistogram(column string, values []float64, bins int) Histogram {
	if bins <= 0 {
		bins = DefaultBins
	}
	h := Histogram{Column: column, Bins: []Bin{}}

	present := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			h.Missing++
			continue
		}
		present = append(present, v)
	}
	if len(present) == 0 {
		return h
	}

	sort.Float64s(present)
	lo, hi := present[0], present[len(present)-1]
	if lo == hi {
		h.Bins = append(h.Bins, Bin{Lo: lo, Hi: hi, Count: len(present)})
		return h
	}

	width := (hi - lo) / float64(bins)
	h.Bins = make([]Bin, bins)
	for i := range h.Bins {
		h.Bins[i].Lo = lo + float64(i)*width
		h.Bins[i].Hi = lo + float64(i+1)*width
	}
	h.Bins[bins-1].Hi = hi

	for _, v := range present {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		h.Bins[i].Count++
	}
	return h
}
