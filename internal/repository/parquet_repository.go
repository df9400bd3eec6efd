package repository

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"marscast/internal/models"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// ObservationRecord is the Parquet schema for observations.
// Dates are stored as YYYY-MM-DD strings and missing measurements as nulls.
type ObservationRecord struct {
	Sol             int64    `parquet:"sol"`
	TerrestrialDate string   `parquet:"terrestrial_date"`
	SolarLongitude  float64  `parquet:"ls"`
	Month           int32    `parquet:"month"`
	MinTemp         *float64 `parquet:"min_temp,optional"`
	MaxTemp         *float64 `parquet:"max_temp,optional"`
	Pressure        *float64 `parquet:"pressure,optional"`
}

// parquetRepository reads a single Parquet file
type parquetRepository struct {
	path    string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewParquetRepository creates a repository over a Parquet file
func NewParquetRepository(path string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ObservationRepository {
	return &parquetRepository{
		path:    path,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func (r *parquetRepository) Source() string {
	return SourceParquet + ":" + r.path
}

func (r *parquetRepository) HealthCheck(ctx context.Context) error {
	return fileHealthCheck(r.path)
}

// Load reads every record and validates it like a CSV row
func (r *parquetRepository) Load(ctx context.Context) ([]models.Observation, error) {
	start := time.Now()

	records, err := parquet.ReadFile[ObservationRecord](r.path)
	if err != nil {
		r.metrics.RecordDatasetLoadError("read_error")
		return nil, &LoadError{Source: r.Source(), Err: err}
	}
	if len(records) == 0 {
		r.metrics.RecordDatasetLoadError("empty_dataset")
		return nil, &LoadError{Source: r.Source(), Err: ErrEmptyDataset}
	}

	observations := make([]models.Observation, 0, len(records))
	for i, rec := range records {
		raw := models.RawObservationRecord{
			Line:            i + 1,
			Sol:             strconv.FormatInt(rec.Sol, 10),
			TerrestrialDate: rec.TerrestrialDate,
			SolarLongitude:  formatFloat(rec.SolarLongitude),
			Month:           strconv.Itoa(int(rec.Month)),
			MinTemp:         formatOptional(rec.MinTemp),
			MaxTemp:         formatOptional(rec.MaxTemp),
			Pressure:        formatOptional(rec.Pressure),
		}
		obs, err := raw.ToObservation()
		if err != nil {
			r.metrics.RecordDatasetLoadError("validation_error")
			return nil, &LoadError{Source: r.Source(), Err: err}
		}
		observations = append(observations, *obs)
	}

	r.logger.Debug(ctx, "[REPO_PARQUET_LOAD] Parquet dataset read", logging.Fields{
		"path":        r.path,
		"rows":        len(observations),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return observations, nil
}

// WriteParquet exports observations to path, creating parent directories
func WriteParquet(path string, observations []models.Observation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	records := make([]ObservationRecord, len(observations))
	for i, o := range observations {
		records[i] = ObservationRecord{
			Sol:             int64(o.Sol),
			TerrestrialDate: o.TerrestrialDate.Format(models.DateLayout),
			SolarLongitude:  o.SolarLongitude,
			Month:           int32(o.Month),
			MinTemp:         optional(o.MinTemp),
			MaxTemp:         optional(o.MaxTemp),
			Pressure:        optional(o.Pressure),
		}
	}
	return parquet.WriteFile(path, records)
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
