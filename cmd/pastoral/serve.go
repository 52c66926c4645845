package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/api"
	"github.com/nidhogg/pastoralscape/internal/archive"
	"github.com/nidhogg/pastoralscape/internal/graph"
	"github.com/nidhogg/pastoralscape/internal/orchestrator"
	"github.com/nidhogg/pastoralscape/internal/output"
	"github.com/nidhogg/pastoralscape/internal/sim"
	pgstore "github.com/nidhogg/pastoralscape/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP run service",
	Long: `Serves the run API. Completed runs are cached in memory and, when
configured, persisted to PostgreSQL, announced on a Redis stream, exported
as a household network to Neo4j and archived to sqlite.`,
	RunE: serve,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default: config server.port)")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting PastoralScape service...")

	base, err := loadParams("", cfg)
	if err != nil {
		return err
	}
	if cfg.EnvPath != "" {
		base.Environment.CSV = cfg.EnvPath
		if err := base.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := api.NewResults(time.Duration(cfg.Server.CacheTTLMinutes) * time.Minute)
	metrics := api.NewMetrics()
	sinks := []orchestrator.Sink{results, metrics}

	// Initialize PostgreSQL store
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.MigrationsDir); mErr != nil {
				ps.Close()
				return fmt.Errorf("migrate: %w", mErr)
			}
			pgStore = ps
			defer pgStore.Close()
			sinks = append(sinks, orchestrator.SinkFunc("postgres", pgStore.SaveRun))
		}
	}

	// Initialize Neo4j household network export
	var network api.NetworkStore
	if cfg.Database.Neo4j.URI != "" {
		exporter, gErr := graph.NewExporter(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, 1, logger)
		if gErr == nil {
			gErr = exporter.Ping(ctx)
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without network export", zap.Error(gErr))
		} else {
			defer exporter.Close(context.Background())
			sinks = append(sinks, orchestrator.SinkFunc("neo4j", exporter.Export))
			network = exporter
		}
	}

	if cfg.Archive.Path != "" {
		arc, aErr := archive.OpenSQLite(cfg.Archive.Path)
		if aErr != nil {
			return aErr
		}
		defer arc.Close()
		sinks = append(sinks, orchestrator.SinkFunc("archive", arc.Record))
	}

	if cfg.Output.Dir != "" {
		writer := output.NewRunWriter(cfg.Output.Dir, logger)
		sinks = append(sinks, orchestrator.SinkFunc("files", func(_ context.Context, out *sim.Output) error {
			_, err := writer.Write(out)
			return err
		}))
	}

	// Initialize run event bus
	var bus orchestrator.Publisher
	var events api.EventLog
	if cfg.Database.Redis.URL != "" {
		eb, busErr := orchestrator.NewEventBus(ctx, cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without run events", zap.Error(busErr))
		} else {
			defer eb.Close()
			bus = eb
			events = eb
		}
	}

	runner := orchestrator.NewRunner(nil, bus, sinks, cfg.Server.MaxConcurrent, logger)
	metrics.WatchRunner(runner)

	var runStore api.RunStore
	if pgStore != nil {
		runStore = pgStore
	}
	handler := api.NewHandler(runner, results, runStore, base, metrics, logger)
	if events != nil {
		handler.SetEvents(events)
	}
	if network != nil {
		handler.SetNetwork(network)
	}

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("PastoralScape listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down PastoralScape...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	runner.Wait()
	return nil
}
