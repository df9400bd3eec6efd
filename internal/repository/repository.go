package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marscast/internal/models"
	"marscast/pkg/database"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// Source kinds
const (
	SourceCSV      = "csv"
	SourceParquet  = "parquet"
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite"
)

// DefaultTable is the observation table used by the SQL sources
const DefaultTable = "mars_weather"

// ErrEmptyDataset is returned when a source holds no observations
var ErrEmptyDataset = errors.New("dataset contains no observations")

// ObservationRepository loads the full observation table once at startup
type ObservationRepository interface {
	// Load reads and validates every row. Any malformed row fails the whole load.
	Load(ctx context.Context) ([]models.Observation, error)

	// Source describes where rows come from, for logs
	Source() string

	// HealthCheck reports whether the backing source is reachable
	HealthCheck(ctx context.Context) error
}

// Config selects and locates the dataset source
type Config struct {
	Source string `koanf:"source" validate:"omitempty,oneof=csv parquet postgres sqlite"`
	Path   string `koanf:"path"`
	Table  string `koanf:"table"`
}

// Kind returns the configured source, inferring it from the path extension when unset
func (c Config) Kind() string {
	if c.Source != "" {
		return c.Source
	}
	switch ext := strings.ToLower(filepath.Ext(c.Path)); ext {
	case ".parquet":
		return SourceParquet
	case ".db", ".sqlite", ".sqlite3":
		return SourceSQLite
	default:
		return SourceCSV
	}
}

// Open builds the repository for cfg. SQL sources require an open db.
func Open(cfg Config, db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (ObservationRepository, error) {
	switch kind := cfg.Kind(); kind {
	case SourceCSV:
		return NewCSVRepository(cfg.Path, logger, metricsCollector), nil
	case SourceParquet:
		return NewParquetRepository(cfg.Path, logger, metricsCollector), nil
	case SourcePostgres, SourceSQLite:
		if db == nil {
			return nil, fmt.Errorf("source %s requires a database connection", kind)
		}
		return NewSQLRepository(db, cfg.Table, logger, metricsCollector)
	default:
		return nil, fmt.Errorf("unknown dataset source %q", kind)
	}
}

// LoadError wraps a failure to load the dataset from a source
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load dataset from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the load may succeed.
// Only database errors are considered transient; malformed data never is.
func (e *LoadError) IsTransient() bool {
	var verr *models.ValidationError
	if errors.As(e.Err, &verr) || errors.Is(e.Err, ErrEmptyDataset) {
		return false
	}
	return strings.HasPrefix(e.Source, SourcePostgres)
}

// fileHealthCheck verifies a file source is still readable
func fileHealthCheck(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("dataset file unavailable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("dataset path %s is a directory", path)
	}
	return nil
}
