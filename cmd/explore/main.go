package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"marscast/internal/aggregate"
	"marscast/internal/cascade"
	"marscast/internal/config"
	"marscast/internal/filter"
	"marscast/internal/repository"
	"marscast/internal/services"
	"marscast/pkg/database"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

func main() {
	// Parse command-line flags
	source := flag.String("source", "", "Dataset path (overrides dataset.path)")
	month := flag.String("month", filter.All, "Mars month 1..12 or ALL")
	season := flag.String("season", filter.All, "Season name or ALL")
	start := flag.String("start", "", "Date range start (YYYY-MM-DD)")
	end := flag.String("end", "", "Date range end (YYYY-MM-DD)")
	recency := flag.String("recency", filter.All, "Recency window name or ALL")
	histogram := flag.String("histogram", "", "Print the distribution of a column (sol, ls, min_temp, max_temp, pressure)")
	bins := flag.Int("bins", aggregate.DefaultBins, "Histogram bin count")
	series := flag.Bool("series", false, "Print the daily time series")
	export := flag.String("export", "", "Write the filtered rows to a parquet file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *source != "" {
		cfg.Dataset.Path = *source
		cfg.Dataset.Source = ""
	}

	logger := logging.NewStructuredLogger("marscast-explore", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	logger.SetFormat("console")
	logger.SetOutput(os.Stderr)

	ctx := context.Background()
	metricsCollector := metrics.NewCollector("marscast_explore")

	var db *database.DB
	if dbConfig, ok := cfg.DatabaseConfig(); ok {
		db, err = database.Open(&dbConfig, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[EXPLORE_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()
	}

	repo, err := repository.Open(cfg.Dataset, db, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[EXPLORE_ERROR] Failed to open dataset source", logging.Fields{}, err)
	}
	store, err := services.LoadDataset(ctx, repo, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[EXPLORE_ERROR] Failed to load dataset", logging.Fields{}, err)
	}

	explorer, err := services.NewExplorerService(store, cfg.Explorer.FilterConfig(), services.CacheConfig{}, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[EXPLORE_ERROR] Failed to initialize explorer", logging.Fields{}, err)
	}
	defer explorer.Close()

	// Apply the filters through the same reaction path as the API so the
	// cascade resets are reported identically
	dash := services.NewDashboard(ctx, "cli", explorer, logger, metricsCollector)
	var resets []filter.Criterion
	apply := func(c filter.Criterion, v services.FilterValue) {
		snap, err := dash.Set(ctx, c, v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		resets = append(resets, snap.Resets...)
	}
	if *start != "" || *end != "" {
		ext := explorer.Extent()
		s, e := *start, *end
		if s == "" {
			s = ext.Start.Format("2006-01-02")
		}
		if e == "" {
			e = ext.End.Format("2006-01-02")
		}
		apply(filter.DateRange, services.FilterValue{Start: s, End: e})
	}
	apply(filter.Month, services.FilterValue{Value: *month})
	apply(filter.Season, services.FilterValue{Value: *season})
	apply(filter.Recency, services.FilterValue{Value: *recency})

	snap := dash.Snapshot()
	result := dash.Aggregate()

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("FILTER STATE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Month:              %s\n", snap.State.Month)
	fmt.Printf("Season:             %s\n", snap.State.Season)
	fmt.Printf("Date Range:         %s .. %s\n", snap.State.DateRange.Start, snap.State.DateRange.End)
	fmt.Printf("Recency:            %s\n", snap.State.Recency)
	if len(resets) > 0 {
		fmt.Printf("Reset By Cascade:   %v\n", resets)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("KPIS")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Observations:       %d\n", result.Summary.Count)
	fmt.Printf("Latest Sol:         %s\n", result.Summary.LatestSol)
	fmt.Printf("Avg Min Temp:       %s\n", result.Summary.MeanMinTemp)
	fmt.Printf("Avg Max Temp:       %s\n", result.Summary.MeanMaxTemp)
	fmt.Printf("Avg Pressure:       %s\n", result.Summary.MeanPressure)
	fmt.Printf("Std Pressure:       %s\n", result.Summary.StdPressure)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CHOICES")
	fmt.Println(strings.Repeat("=", 80))
	for _, set := range []struct {
		name   string
		labels []string
	}{
		{"Month", labels(snap.Choices.Month.Choices)},
		{"Season", labels(snap.Choices.Season.Choices)},
		{"Recency", labels(snap.Choices.Recency.Choices)},
	} {
		fmt.Printf("%-20s%s\n", set.name+":", strings.Join(set.labels, ", "))
	}

	if *series {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("DAILY SERIES")
		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("%-12s %6s %10s %10s %10s\n", "Date", "Obs", "Min Temp", "Max Temp", "Pressure")
		for _, p := range result.Series {
			fmt.Printf("%-12s %6d %10s %10s %10s\n", p.Date.Format("2006-01-02"), p.Observations, p.MinTemp, p.MaxTemp, p.Pressure)
		}
	}

	if *histogram != "" {
		hist, err := explorer.Histogram(ctx, dash.Rows(), *histogram, *bins)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Printf("DISTRIBUTION OF %s\n", strings.ToUpper(hist.Column))
		fmt.Println(strings.Repeat("=", 80))
		for _, b := range hist.Bins {
			fmt.Printf("[%9.2f, %9.2f] %6d %s\n", b.Lo, b.Hi, b.Count, strings.Repeat("#", barWidth(b.Count, result.Summary.Count)))
		}
		if hist.Missing > 0 {
			fmt.Printf("Missing:            %d\n", hist.Missing)
		}
	}

	if *export != "" {
		if err := repository.WriteParquet(*export, dash.Rows()); err != nil {
			logger.Fatal(ctx, "[EXPORT_ERROR] Failed to export rows", logging.Fields{
				"path": *export,
			}, err)
		}
		fmt.Printf("\nExported %d rows to %s\n", result.Summary.Count, *export)
	}
}

func labels(choices []cascade.Choice) []string {
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = c.Label
	}
	return out
}

func barWidth(count, total int) int {
	if total == 0 {
		return 0
	}
	return count * 50 / total
}
