package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"marscast/internal/models"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// requiredColumns must all be present in the header, in any order
var requiredColumns = []string{"sol", "terrestrial_date", "ls", "month", "min_temp", "max_temp", "pressure"}

// csvRepository reads a delimited file, optionally gzip compressed
type csvRepository struct {
	path    string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCSVRepository creates a repository over a CSV file. Paths ending in .gz
// are decompressed on the fly.
func NewCSVRepository(path string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ObservationRepository {
	return &csvRepository{
		path:    path,
		logger:  logger,
		metrics: metricsCollector,
	}
}

func (r *csvRepository) Source() string {
	return SourceCSV + ":" + r.path
}

func (r *csvRepository) HealthCheck(ctx context.Context) error {
	return fileHealthCheck(r.path)
}

// Load reads the whole file
func (r *csvRepository) Load(ctx context.Context) ([]models.Observation, error) {
	start := time.Now()

	file, err := os.Open(r.path)
	if err != nil {
		r.metrics.RecordDatasetLoadError("open_error")
		return nil, &LoadError{Source: r.Source(), Err: err}
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(strings.ToLower(r.path), ".gz") {
		gz, err := pgzip.NewReaderN(file, 256*1024, runtime.NumCPU())
		if err != nil {
			r.metrics.RecordDatasetLoadError("decompress_error")
			return nil, &LoadError{Source: r.Source(), Err: err}
		}
		defer gz.Close()
		reader = gz
	}

	observations, err := parseCSV(ctx, reader)
	if err != nil {
		r.metrics.RecordDatasetLoadError(loadErrorType(err))
		return nil, &LoadError{Source: r.Source(), Err: err}
	}

	r.logger.Debug(ctx, "[REPO_CSV_LOAD] CSV dataset parsed", logging.Fields{
		"path":        r.path,
		"rows":        len(observations),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return observations, nil
}

// parseCSV maps columns by header name; columns outside requiredColumns are ignored
func parseCSV(ctx context.Context, reader io.Reader) ([]models.Observation, error) {
	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, &models.ValidationError{Field: col, Message: fmt.Sprintf("missing required column %q", col)}
		}
	}

	observations := make([]models.Observation, 0, 2048)
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw := models.RawObservationRecord{
			Line:            line,
			Sol:             record[index["sol"]],
			TerrestrialDate: record[index["terrestrial_date"]],
			SolarLongitude:  record[index["ls"]],
			Month:           record[index["month"]],
			MinTemp:         record[index["min_temp"]],
			MaxTemp:         record[index["max_temp"]],
			Pressure:        record[index["pressure"]],
		}

		obs, err := raw.ToObservation()
		if err != nil {
			return nil, err
		}
		observations = append(observations, *obs)
	}

	if len(observations) == 0 {
		return nil, ErrEmptyDataset
	}

	return observations, nil
}

// loadErrorType labels a load failure for metrics
func loadErrorType(err error) string {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return "validation_error"
	case errors.Is(err, ErrEmptyDataset):
		return "empty_dataset"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "read_error"
	}
}
