package repository

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/prometheus/client_golang/prometheus"

	"marscast/internal/models"
	"marscast/pkg/database"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

const sampleCSV = `id,terrestrial_date,sol,ls,month,min_temp,max_temp,pressure,wind_speed,atmo_opacity
1895,2018-02-27,1977,135,Month 5,-77,-10,727,,Sunny
1893,2018-02-26,1976,135,Month 5,-77,-10,728,,Sunny
1889,2018-02-25,1975,134,Month 5,-76,-16,729,,Sunny
1892,2018-02-24,1974,134,Month 5,,-13,,,Sunny
`

func testDeps(t *testing.T) (*logging.StructuredLogger, *metrics.Collector) {
	t.Helper()
	logger := logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger, metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestCSVRepository_Load(t *testing.T) {
	logger, mc := testDeps(t)

	tests := []struct {
		name        string
		content     string
		wantErr     bool
		checkValues func(*testing.T, []models.Observation, error)
	}{
		{
			name:    "kaggle layout with extra columns",
			content: sampleCSV,
			checkValues: func(t *testing.T, obs []models.Observation, _ error) {
				if len(obs) != 4 {
					t.Fatalf("rows = %d, want 4", len(obs))
				}
				first := obs[0]
				if first.Sol != 1977 || first.Month != 5 || first.SolarLongitude != 135 || first.Pressure != 727 {
					t.Errorf("first = %+v", first)
				}
				if !first.TerrestrialDate.Equal(time.Date(2018, 2, 27, 0, 0, 0, 0, time.UTC)) {
					t.Errorf("date = %v", first.TerrestrialDate)
				}
				last := obs[3]
				if !math.IsNaN(last.MinTemp) || !math.IsNaN(last.Pressure) {
					t.Errorf("missing cells should be NaN, got %+v", last)
				}
			},
		},
		{
			name:    "missing required column",
			content: "sol,terrestrial_date,ls,month,min_temp,max_temp\n1,2018-01-01,10,1,-80,-10\n",
			wantErr: true,
			checkValues: func(t *testing.T, _ []models.Observation, err error) {
				var verr *models.ValidationError
				if !errors.As(err, &verr) || verr.Field != "pressure" {
					t.Errorf("error = %v, want missing pressure column", err)
				}
			},
		},
		{
			name:    "malformed date is fatal",
			content: "sol,terrestrial_date,ls,month,min_temp,max_temp,pressure\n1,2018-01-01,10,1,-80,-10,700\n2,01/02/2018,10,1,-80,-10,700\n",
			wantErr: true,
			checkValues: func(t *testing.T, _ []models.Observation, err error) {
				var verr *models.ValidationError
				if !errors.As(err, &verr) || verr.Line != 3 {
					t.Errorf("error = %v, want validation error on line 3", err)
				}
			},
		},
		{
			name:    "header only",
			content: "sol,terrestrial_date,ls,month,min_temp,max_temp,pressure\n",
			wantErr: true,
			checkValues: func(t *testing.T, _ []models.Observation, err error) {
				if !errors.Is(err, ErrEmptyDataset) {
					t.Errorf("error = %v, want ErrEmptyDataset", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewCSVRepository(writeFile(t, "weather.csv", tt.content), logger, mc)
			obs, err := repo.Load(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var lerr *LoadError
				if !errors.As(err, &lerr) {
					t.Errorf("error %T is not a *LoadError", err)
				} else if lerr.IsTransient() {
					t.Error("file load errors must not be transient")
				}
			}
			if tt.checkValues != nil {
				tt.checkValues(t, obs, err)
			}
		})
	}
}

func TestCSVRepository_Gzip(t *testing.T) {
	logger, mc := testDeps(t)
	path := filepath.Join(t.TempDir(), "weather.csv.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := pgzip.NewWriter(f)
	if _, err := gz.Write([]byte(sampleCSV)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	obs, err := NewCSVRepository(path, logger, mc).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(obs) != 4 {
		t.Errorf("rows = %d, want 4", len(obs))
	}
}

func TestParquetRepository_RoundTrip(t *testing.T) {
	logger, mc := testDeps(t)
	csvObs, err := NewCSVRepository(writeFile(t, "weather.csv", sampleCSV), logger, mc).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out", "weather.parquet")
	if err := WriteParquet(path, csvObs); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}

	repo, err := Open(Config{Path: path}, nil, logger, mc)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := repo.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertSameObservations(t, got, csvObs)
}

func TestSQLRepository_SQLite(t *testing.T) {
	logger, mc := testDeps(t)
	ctx := context.Background()

	db, err := database.Open(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "weather.db"),
	}, logger, mc)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	repo, err := NewSQLRepository(db, "", logger, mc)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateTable(ctx); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}

	if _, err := repo.Load(ctx); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("Load() on empty table error = %v, want ErrEmptyDataset", err)
	}

	csvObs, err := NewCSVRepository(writeFile(t, "weather.csv", sampleCSV), logger, mc).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveBatch(ctx, csvObs); err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	// Upsert by sol keeps a single copy
	if err := repo.SaveBatch(ctx, csvObs[:1]); err != nil {
		t.Fatalf("SaveBatch() repeat error = %v", err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("rows = %d, want 4", len(got))
	}
	// SQL rows come back ordered by date, the CSV is newest first
	if got[0].Sol != 1974 || got[3].Sol != 1977 {
		t.Errorf("order = %d..%d, want 1974..1977", got[0].Sol, got[3].Sol)
	}
	if !math.IsNaN(got[0].Pressure) {
		t.Errorf("NULL pressure should load as NaN, got %v", got[0].Pressure)
	}

	if err := repo.DropTable(ctx); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}
}

func TestNewSQLRepository_RejectsBadTable(t *testing.T) {
	logger, mc := testDeps(t)
	if _, err := NewSQLRepository(nil, "weather; DROP TABLE x", logger, mc); err == nil {
		t.Error("expected invalid table name error")
	}
}

func TestConfig_Kind(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Path: "mars.csv"}, SourceCSV},
		{Config{Path: "mars.csv.gz"}, SourceCSV},
		{Config{Path: "mars.PARQUET"}, SourceParquet},
		{Config{Path: "mars.db"}, SourceSQLite},
		{Config{Source: SourcePostgres}, SourcePostgres},
	}
	for _, tt := range tests {
		if got := tt.cfg.Kind(); got != tt.want {
			t.Errorf("Kind(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}

	logger, mc := testDeps(t)
	if _, err := Open(Config{Source: SourcePostgres}, nil, logger, mc); err == nil {
		t.Error("Open() without a database should fail for SQL sources")
	}
}

func assertSameObservations(t *testing.T, got, want []models.Observation) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("rows = %d, want %d", len(got), len(want))
	}
	same := func(a, b float64) bool { return a == b || (math.IsNaN(a) && math.IsNaN(b)) }
	for i := range want {
		g, w := got[i], want[i]
		if g.Sol != w.Sol || g.Month != w.Month || !g.TerrestrialDate.Equal(w.TerrestrialDate) ||
			!same(g.SolarLongitude, w.SolarLongitude) || !same(g.MinTemp, w.MinTemp) ||
			!same(g.MaxTemp, w.MaxTemp) || !same(g.Pressure, w.Pressure) {
			t.Errorf("row %d = %+v, want %+v", i, g, w)
		}
	}
}
