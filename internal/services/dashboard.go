package services

import (
	"context"
	"sync"
	"time"

	"marscast/internal/aggregate"
	"marscast/internal/cascade"
	"marscast/internal/filter"
	"marscast/internal/models"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// DateRangeView is the wire form of the date range criterion
type DateRangeView struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// StateView is the wire form of a filter state
type StateView struct {
	Month     string        `json:"month"`
	Season    string        `json:"season"`
	DateRange DateRangeView `json:"date_range"`
	Recency   string        `json:"recency"`
}

// NewStateView renders s for the presentation layer
func NewStateView(s filter.State) StateView {
	v := StateView{
		Month:   s.Value(filter.Month),
		Season:  s.Value(filter.Season),
		Recency: s.Value(filter.Recency),
	}
	if !s.Dates.Start.IsZero() {
		v.DateRange.Start = s.Dates.Start.Format(models.DateLayout)
	}
	if !s.Dates.End.IsZero() {
		v.DateRange.End = s.Dates.End.Format(models.DateLayout)
	}
	return v
}

// Snapshot is everything the presentation layer renders after a reaction
type Snapshot struct {
	SessionID string             `json:"session_id"`
	State     StateView          `json:"state"`
	Choices   cascade.Choices    `json:"choices"`
	Summary   aggregate.Summary  `json:"summary"`
	Resets    []filter.Criterion `json:"resets,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// FilterValue carries a setter argument. Value is used by month, season and
// recency; Start and End by the date range.
type FilterValue struct {
	Value string
	Start string
	End   string
}

// Observer is notified with a fresh snapshot after every reaction
type Observer func(Snapshot)

// Dashboard holds one session's filter state and its latest evaluation.
// Reactions are serialised by the dashboard's mutex.
type Dashboard struct {
	mu        sync.Mutex
	id        string
	explorer  *ExplorerService
	state     filter.State
	eval      *Evaluation
	updatedAt time.Time
	lastUsed  time.Time

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDashboard creates a dashboard at the initial state
func NewDashboard(ctx context.Context, id string, explorer *ExplorerService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Dashboard {
	d := &Dashboard{
		id:        id,
		explorer:  explorer,
		observers: make(map[int]Observer),
		logger:    logger,
		metrics:   metricsCollector,
	}
	d.apply(ctx, explorer.InitialState())
	return d
}

// ID returns the session identifier
func (d *Dashboard) ID() string {
	return d.id
}

// SetMonth sets the month criterion to "ALL", "1".."12" or "Month N"
func (d *Dashboard) SetMonth(ctx context.Context, value string) (Snapshot, error) {
	return d.Set(ctx, filter.Month, FilterValue{Value: value})
}

// SetSeason sets the season criterion by name or label
func (d *Dashboard) SetSeason(ctx context.Context, value string) (Snapshot, error) {
	return d.Set(ctx, filter.Season, FilterValue{Value: value})
}

// SetRecency sets the recency window by name
func (d *Dashboard) SetRecency(ctx context.Context, value string) (Snapshot, error) {
	return d.Set(ctx, filter.Recency, FilterValue{Value: value})
}

// SetDateRange sets the inclusive date range; an inverted pair is sorted
func (d *Dashboard) SetDateRange(ctx context.Context, start, end string) (Snapshot, error) {
	return d.Set(ctx, filter.DateRange, FilterValue{Start: start, End: end})
}

// Set validates v for criterion c and reacts. An invalid value is rejected
// with a *filter.InvalidValueError and the prior state is kept.
//
// Every cascading criterion is re-checked after the change, including c
// itself. Setting a month that the current season excludes therefore resets
// both month and season to ALL; the snapshot's Resets lists them.
func (d *Dashboard) Set(ctx context.Context, c filter.Criterion, v FilterValue) (Snapshot, error) {
	ctx = logging.WithSessionID(ctx, d.id)
	engine := d.explorer.Filters()

	d.mu.Lock()
	next := d.state
	var err error
	switch c {
	case filter.Month:
		next.Month, err = engine.ParseMonth(v.Value)
	case filter.Season:
		next.Season, err = engine.ParseSeason(v.Value)
	case filter.Recency:
		next.Recency, err = engine.ParseRecency(v.Value)
	case filter.DateRange:
		next.Dates, err = engine.ParseDates(v.Start, v.End)
	default:
		_, err = filter.ParseCriterion(string(c))
	}

	if err != nil {
		d.lastUsed = time.Now()
		d.mu.Unlock()
		d.metrics.RecordInvalidInput(string(c))
		d.logger.Warn(ctx, "[FILTER_REJECTED] Invalid filter value", logging.Fields{
			"criterion": string(c),
			"value":     v.Value,
			"start":     v.Start,
			"end":       v.End,
			"reason":    err.Error(),
		})
		return d.Snapshot(), err
	}

	d.metrics.RecordFilterChange(string(c))
	snap := d.apply(ctx, next)
	key := d.state.Key()
	d.mu.Unlock()

	d.logger.Info(ctx, "[FILTER_CHANGED] Filter updated", logging.Fields{
		"criterion": string(c),
		"state":     key,
		"rows":      snap.Summary.Count,
		"resets":    len(snap.Resets),
	})

	d.notify(snap)
	return snap, nil
}

// Reset restores every criterion to the sentinel and the date range to the
// global extent
func (d *Dashboard) Reset(ctx context.Context) Snapshot {
	ctx = logging.WithSessionID(ctx, d.id)

	d.mu.Lock()
	snap := d.apply(ctx, d.explorer.InitialState())
	d.mu.Unlock()

	d.logger.Info(ctx, "[FILTER_RESET] Filters reset", logging.Fields{
		"rows": snap.Summary.Count,
	})

	d.notify(snap)
	return snap
}

// apply evaluates next and stores the adjusted state. Caller holds d.mu.
func (d *Dashboard) apply(ctx context.Context, next filter.State) Snapshot {
	ev := d.explorer.Evaluate(ctx, next)
	for _, c := range ev.Resets {
		d.metrics.RecordFilterReset(string(c))
	}
	d.state = ev.State
	d.eval = ev
	d.updatedAt = time.Now().UTC()
	d.lastUsed = d.updatedAt
	return d.snapshotLocked()
}

// State returns the current filter state
func (d *Dashboard) State() filter.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Rows returns the current filtered row set. The slice is shared and read-only.
func (d *Dashboard) Rows() []models.Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUsed = time.Now()
	return d.eval.Rows
}

// Choices returns the current valid choice set of every cascading criterion
func (d *Dashboard) Choices() cascade.Choices {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUsed = time.Now()
	return d.eval.Choices
}

// Aggregate returns the current aggregate result
func (d *Dashboard) Aggregate() aggregate.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUsed = time.Now()
	return d.eval.Result
}

// Snapshot returns the current state, choices and KPIs
func (d *Dashboard) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUsed = time.Now()
	return d.snapshotLocked()
}

func (d *Dashboard) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: d.id,
		State:     NewStateView(d.state),
		Choices:   d.eval.Choices,
		Summary:   d.eval.Result.Summary,
		Resets:    d.eval.Resets,
		UpdatedAt: d.updatedAt,
	}
}

// idleSince reports when the dashboard was last used
func (d *Dashboard) idleSince() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUsed
}

// Subscribe registers fn for reaction notifications and returns a function
// that removes it
func (d *Dashboard) Subscribe(fn Observer) func() {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

func (d *Dashboard) notify(snap Snapshot) {
	d.obsMu.Lock()
	observers := make([]Observer, 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
