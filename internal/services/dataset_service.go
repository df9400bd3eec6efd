package services

import (
	"context"
	"fmt"
	"time"

	"marscast/internal/dataset"
	"marscast/internal/models"
	"marscast/internal/repository"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// LoadDataset reads the full table from repo once and freezes it into a store.
// Any failure is fatal to startup; no partial dataset is returned.
func LoadDataset(ctx context.Context, repo repository.ObservationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*dataset.Store, error) {
	logger.Info(ctx, "[DATASET_LOAD_START] Loading dataset", logging.Fields{
		"source": repo.Source(),
		"stage":  "INITIALIZATION",
	})

	timer := metricsCollector.NewTimer(metricsCollector.DatasetLoadDuration)
	observations, err := repo.Load(ctx)
	if err != nil {
		logger.Error(ctx, "[DATASET_LOAD_ERROR] Dataset load failed", logging.Fields{
			"source": repo.Source(),
			"stage":  "LOAD",
		}, err)
		return nil, err
	}
	duration := timer.ObserveDuration()

	store := dataset.New(observations)
	metricsCollector.DatasetRows.Set(float64(store.Len()))

	summary := store.Summary()
	logger.Info(ctx, "[DATASET_LOAD_COMPLETE] Dataset loaded", logging.Fields{
		"source":      repo.Source(),
		"rows":        summary.Rows,
		"start_date":  summary.Start.Format(models.DateLayout),
		"end_date":    summary.End.Format(models.DateLayout),
		"min_sol":     summary.MinSol,
		"max_sol":     summary.MaxSol,
		"duration_ms": duration.Milliseconds(),
		"stage":       "COMPLETE",
	})

	return store, nil
}

// ObservationWriter persists observations in batches
type ObservationWriter interface {
	SaveBatch(ctx context.Context, observations []models.Observation) error
}

// ImportResult contains import statistics
type ImportResult struct {
	TotalRecords int
	Batches      int
	Duration     time.Duration
}

// ImportService copies a dataset from one source into a SQL table
type ImportService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewImportService creates a new import service
func NewImportService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ImportService {
	return &ImportService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Import loads every row from src and writes it to dst in batches of batchSize
func (s *ImportService) Import(ctx context.Context, src repository.ObservationRepository, dst ObservationWriter, batchSize int) (*ImportResult, error) {
	startTime := time.Now()
	if batchSize <= 0 {
		batchSize = 500
	}

	s.logger.Info(ctx, "[IMPORT_START] Starting dataset import", logging.Fields{
		"source":     src.Source(),
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	observations, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}

	result := &ImportResult{}
	for start := 0; start < len(observations); start += batchSize {
		end := start + batchSize
		if end > len(observations) {
			end = len(observations)
		}

		if err := dst.SaveBatch(ctx, observations[start:end]); err != nil {
			s.logger.Error(ctx, "[IMPORT_BATCH_ERROR] Batch insert failed", logging.Fields{
				"batch": result.Batches + 1,
				"stage": "WRITE",
			}, err)
			return nil, fmt.Errorf("failed to insert batch %d: %w", result.Batches+1, err)
		}

		result.Batches++
		result.TotalRecords += end - start
	}

	result.Duration = time.Since(startTime)

	s.logger.Info(ctx, "[IMPORT_COMPLETE] Dataset import completed", logging.Fields{
		"total_records":    result.TotalRecords,
		"batches":          result.Batches,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}
