package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"marscast/internal/models"
	"marscast/pkg/database"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// observationRow is the SQL projection; dates and months are read as text so
// both drivers go through the same validation
type observationRow struct {
	Sol             int             `db:"sol"`
	TerrestrialDate string          `db:"terrestrial_date"`
	SolarLongitude  float64         `db:"ls"`
	Month           string          `db:"month"`
	MinTemp         sql.NullFloat64 `db:"min_temp"`
	MaxTemp         sql.NullFloat64 `db:"max_temp"`
	Pressure        sql.NullFloat64 `db:"pressure"`
}

// SQLRepository reads observations from PostgreSQL or SQLite
type SQLRepository struct {
	db      *database.DB
	table   string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSQLRepository creates a SQL-backed repository over table
func NewSQLRepository(db *database.DB, table string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*SQLRepository, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLRepository{
		db:      db,
		table:   table,
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

func (r *SQLRepository) Source() string {
	return r.db.Driver() + ":" + r.table
}

func (r *SQLRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Load selects the full table ordered by date
func (r *SQLRepository) Load(ctx context.Context) ([]models.Observation, error) {
	query := fmt.Sprintf(`
		SELECT sol,
		       CAST(terrestrial_date AS TEXT) AS terrestrial_date,
		       ls,
		       CAST(month AS TEXT) AS month,
		       min_temp, max_temp, pressure
		FROM %s
		ORDER BY terrestrial_date, sol
	`, r.table)

	var rows []observationRow
	if err := r.db.SelectContext(ctx, "load_observations", &rows, query); err != nil {
		r.metrics.RecordDatasetLoadError("query_error")
		return nil, &LoadError{Source: r.Source(), Err: err}
	}
	if len(rows) == 0 {
		r.metrics.RecordDatasetLoadError("empty_dataset")
		return nil, &LoadError{Source: r.Source(), Err: ErrEmptyDataset}
	}

	observations := make([]models.Observation, 0, len(rows))
	for i, row := range rows {
		raw := models.RawObservationRecord{
			Line:            i + 1,
			Sol:             strconv.Itoa(row.Sol),
			TerrestrialDate: row.TerrestrialDate,
			SolarLongitude:  formatFloat(row.SolarLongitude),
			Month:           row.Month,
			MinTemp:         formatNull(row.MinTemp),
			MaxTemp:         formatNull(row.MaxTemp),
			Pressure:        formatNull(row.Pressure),
		}
		obs, err := raw.ToObservation()
		if err != nil {
			r.metrics.RecordDatasetLoadError("validation_error")
			return nil, &LoadError{Source: r.Source(), Err: err}
		}
		observations = append(observations, *obs)
	}

	return observations, nil
}

// CreateTable creates the observation table and its date index
func (r *SQLRepository) CreateTable(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				sol              INTEGER PRIMARY KEY,
				terrestrial_date DATE NOT NULL,
				ls               DOUBLE PRECISION NOT NULL CHECK (ls >= 0 AND ls < 360),
				month            INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
				min_temp         DOUBLE PRECISION,
				max_temp         DOUBLE PRECISION,
				pressure         DOUBLE PRECISION
			)`, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_date ON %s (terrestrial_date)`, r.table, r.table),
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, "create_schema", stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	r.logger.Info(ctx, "[REPO_SCHEMA] Observation table ready", logging.Fields{
		"table":  r.table,
		"driver": r.db.Driver(),
	})
	return nil
}

// DropTable removes the observation table
func (r *SQLRepository) DropTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "drop_schema", fmt.Sprintf(`DROP TABLE IF EXISTS %s`, r.table)); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	return nil
}

// SaveBatch upserts observations by sol in a single transaction
func (r *SQLRepository) SaveBatch(ctx context.Context, observations []models.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(observations),
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (sol, terrestrial_date, ls, month, min_temp, max_temp, pressure)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sol) DO UPDATE SET
			terrestrial_date = excluded.terrestrial_date,
			ls = excluded.ls,
			month = excluded.month,
			min_temp = excluded.min_temp,
			max_temp = excluded.max_temp,
			pressure = excluded.pressure
	`, r.table)))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		_, err := stmt.ExecContext(ctx,
			obs.Sol,
			obs.TerrestrialDate.Format(models.DateLayout),
			obs.SolarLongitude,
			obs.Month,
			nullFloat(obs.MinTemp),
			nullFloat(obs.MaxTemp),
			nullFloat(obs.Pressure),
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func formatNull(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}
