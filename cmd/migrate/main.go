package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"marscast/internal/config"
	"marscast/internal/repository"
	"marscast/internal/services"
	"marscast/pkg/database"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	seed := flag.String("seed", "", "CSV or parquet file to import after migrating up")
	batchSize := flag.Int("batch-size", 500, "Rows per import transaction")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q, expected up or down\n", *direction)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("marscast-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	logger.SetFormat("console")
	logger.SetOutput(os.Stderr)
	metricsCollector := metrics.NewCollector("marscast_migrate")
	ctx := context.Background()

	// A SQL dataset source is the migration target; otherwise the database
	// section is used as configured
	dbConfig, ok := cfg.DatabaseConfig()
	if !ok {
		dbConfig = cfg.Database
	}

	db, err := database.Open(&dbConfig, logger, metricsCollector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	table, err := repository.NewSQLRepository(db, cfg.Dataset.Table, logger, metricsCollector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid table: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running migration %s on %s (%s)\n", *direction, cfg.Dataset.Table, db.Driver())

	if *direction == "down" {
		if err := table.DropTable(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migration completed successfully")
		return
	}

	if err := table.CreateTable(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migration completed successfully")

	if *seed == "" {
		return
	}

	src, err := repository.Open(repository.Config{Path: *seed}, nil, logger, metricsCollector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open seed file: %v\n", err)
		os.Exit(1)
	}

	result, err := services.NewImportService(logger, metricsCollector).Import(ctx, src, table, *batchSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed import failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Imported %d rows in %d batches (%v)\n", result.TotalRecords, result.Batches, result.Duration)
}
