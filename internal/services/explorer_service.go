package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"marscast/internal/aggregate"
	"marscast/internal/cascade"
	"marscast/internal/dataset"
	"marscast/internal/filter"
	"marscast/internal/models"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// CacheConfig sizes the evaluation cache
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	MaxEntries int64         `koanf:"max_entries" validate:"gte=0"`
	TTL        time.Duration `koanf:"ttl"`
}

// Evaluation is the outcome of one reaction: the adjusted state, the choice
// sets, the filtered rows and their aggregates. It is shared through the cache
// and must be treated as read-only.
type Evaluation struct {
	State   filter.State
	Choices cascade.Choices
	Rows    []models.Observation
	Result  aggregate.Result
	Resets  []filter.Criterion
}

// ExplorerService evaluates filter states against the shared dataset
type ExplorerService struct {
	store   *dataset.Store
	filters *filter.Engine
	cascade *cascade.Engine
	cache   *ristretto.Cache[string, *Evaluation]
	ttl     time.Duration
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewExplorerService creates a new explorer over store
func NewExplorerService(store *dataset.Store, cfg filter.Config, cacheCfg CacheConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*ExplorerService, error) {
	filters := filter.NewEngine(cfg)
	if err := filters.Config().Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter tables: %w", err)
	}

	s := &ExplorerService{
		store:   store,
		filters: filters,
		cascade: cascade.NewEngine(filters),
		ttl:     cacheCfg.TTL,
		logger:  logger,
		metrics: metricsCollector,
	}

	if cacheCfg.Enabled && cacheCfg.MaxEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, *Evaluation]{
			NumCounters: cacheCfg.MaxEntries * 10,
			MaxCost:     cacheCfg.MaxEntries,
			BufferItems: 64,
			Metrics:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create evaluation cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Close releases the cache
func (s *ExplorerService) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Store returns the shared dataset
func (s *ExplorerService) Store() *dataset.Store {
	return s.store
}

// Filters returns the filter engine, used to validate setter input
func (s *ExplorerService) Filters() *filter.Engine {
	return s.filters
}

// Extent is the global date range restored by a reset
func (s *ExplorerService) Extent() filter.Dates {
	ext, _ := s.store.Extent()
	return ext
}

// InitialState has every criterion unconstrained and the date range at the global extent
func (s *ExplorerService) InitialState() filter.State {
	return s.cascade.Reset(s.Extent())
}

// Evaluate runs one reaction: cascade the choice sets and resets, filter the
// rows with the adjusted state, then aggregate
func (s *ExplorerService) Evaluate(ctx context.Context, state filter.State) *Evaluation {
	key := state.Key()
	if s.cache != nil {
		if ev, ok := s.cache.Get(key); ok {
			s.updateCacheRatio()
			return ev
		}
	}

	total := s.metrics.NewTimer(s.metrics.EvaluationDuration.WithLabelValues("total"))
	rows := s.store.Rows()

	stage := s.metrics.NewTimer(s.metrics.EvaluationDuration.WithLabelValues("cascade"))
	choices, next, resets := s.cascade.RecomputeAll(rows, state)
	stage.ObserveDuration()

	stage = s.metrics.NewTimer(s.metrics.EvaluationDuration.WithLabelValues("filter"))
	filtered := s.filters.Apply(rows, next, filter.None)
	stage.ObserveDuration()

	stage = s.metrics.NewTimer(s.metrics.EvaluationDuration.WithLabelValues("aggregate"))
	result := aggregate.Compute(filtered)
	stage.ObserveDuration()

	elapsed := total.ObserveDuration()
	s.metrics.FilteredRows.Observe(float64(len(filtered)))

	ev := &Evaluation{
		State:   next,
		Choices: choices,
		Rows:    filtered,
		Result:  result,
		Resets:  resets,
	}

	s.logger.Debug(ctx, "[EVALUATE] Filter state evaluated", logging.Fields{
		"state":       key,
		"rows":        len(filtered),
		"resets":      len(resets),
		"duration_us": elapsed.Microseconds(),
	})

	if s.cache != nil {
		if s.ttl > 0 {
			s.cache.SetWithTTL(key, ev, 1, s.ttl)
		} else {
			s.cache.Set(key, ev, 1)
		}
		s.cache.Wait()
		s.updateCacheRatio()
	}

	return ev
}

// Histogram buckets one column of rows into equal-width bins
func (s *ExplorerService) Histogram(ctx context.Context, rows []models.Observation, column string, bins int) (aggregate.Histogram, error) {
	col, err := dataset.ParseColumn(column)
	if err != nil {
		return aggregate.Histogram{}, err
	}
	return aggregate.NewHistogram(string(col), col.Values(rows), bins), nil
}

func (s *ExplorerService) updateCacheRatio() {
	if s.cache.Metrics != nil {
		s.metrics.StatsCacheHitRatio.Set(s.cache.Metrics.Ratio())
	}
}
