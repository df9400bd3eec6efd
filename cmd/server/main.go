package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"marscast/internal/config"
	"marscast/internal/handlers"
	"marscast/internal/repository"
	"marscast/internal/services"
	"marscast/internal/supervisor"
	"marscast/internal/websocket"
	"marscast/pkg/database"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("marscast-api", version, logging.ParseLevel(cfg.Logging.Level))
	logger.SetFormat(cfg.Logging.Format)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting marscast API server", logging.Fields{
		"version":        version,
		"server_address": cfg.Server.Address(),
		"dataset_source": cfg.Dataset.Kind(),
		"dataset_path":   cfg.Dataset.Path,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("marscast")

	// SQL sources need a connection; file sources read straight from disk
	var db *database.DB
	if dbConfig, ok := cfg.DatabaseConfig(); ok {
		db, err = database.Open(&dbConfig, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{
				"driver": dbConfig.Driver,
			}, err)
		}
		defer db.Close()
	}

	// Load the dataset once; it is immutable for the life of the process
	repo, err := repository.Open(cfg.Dataset, db, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to open dataset source", logging.Fields{}, err)
	}
	store, err := services.LoadDataset(ctx, repo, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to load dataset", logging.Fields{
			"source": repo.Source(),
		}, err)
	}

	// Initialize services
	explorer, err := services.NewExplorerService(store, cfg.Explorer.FilterConfig(), cfg.Cache, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to initialize explorer", logging.Fields{}, err)
	}
	defer explorer.Close()

	hub := websocket.NewHub(logger, metricsCollector)
	sessions := services.NewSessionService(explorer, hub, cfg.Session, logger, metricsCollector)

	// Initialize handlers
	dashboardHandler := handlers.NewDashboardHandler(explorer, sessions, hub, cfg.Server.CORSOrigins, logger, metricsCollector)
	router := handlers.NewRouter(dashboardHandler, handlers.RouterConfig{
		AllowedOrigins: cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateWindow:     cfg.Server.RateWindow,
	}, logger, metricsCollector)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddSessionService(hub)
	tree.AddSessionService(sessions)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	// Run until SIGINT or SIGTERM
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
		"address": server.Addr,
		"rows":    store.Len(),
	})

	if err := tree.Serve(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Supervisor stopped with error", logging.Fields{}, err)
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logger.Warn(ctx, "[SHUTDOWN_WARNING] Services did not stop in time", logging.Fields{
			"count": len(unstopped),
		})
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
