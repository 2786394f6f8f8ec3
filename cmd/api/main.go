package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"instrumentation-backend/internal/config"
	"instrumentation-backend/internal/generation"
	"instrumentation-backend/internal/handler"
	"instrumentation-backend/internal/logging"
	"instrumentation-backend/internal/metrics"
	"instrumentation-backend/internal/storage"
	"instrumentation-backend/internal/store"
	"instrumentation-backend/internal/workflow"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "api",
		Short:         "Instrumentation planning API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults to $CONFIG_FILE)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the workflow_sessions table and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(configPath)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and opens the database every command needs.
func setup(configPath string) (*config.Config, *zap.Logger, *sql.DB, *store.SQLStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DatabaseDriver == "sqlite3" {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	} else {
		// Bound the pool so concurrent workflows cannot exhaust the database.
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Fail fast rather than accept traffic without a database.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	sqlStore, err := store.NewSQLStore(db, store.Dialect(cfg.DatabaseDriver))
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}
	return cfg, logger, db, sqlStore, nil
}

func migrate(configPath string) error {
	_, logger, db, sqlStore, err := setup(configPath)
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Sync()

	if err := sqlStore.Migrate(context.Background()); err != nil {
		return err
	}
	logger.Info("migrations applied", zap.String("driver", string(sqlStore.Dialect)))
	return nil
}

func serve(configPath string) error {
	cfg, logger, db, sqlStore, err := setup(configPath)
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Sync()

	if err := sqlStore.Migrate(context.Background()); err != nil {
		return err
	}

	m := metrics.New()
	sessions := store.Instrument(sqlStore, m)

	frames, err := storage.NewLocalStorage(cfg.UploadDir, cfg.BaseURL)
	if err != nil {
		return err
	}

	client := generation.Instrument(
		generation.NewHTTPClient(cfg.GenerationURL, cfg.GenerationAPIKey, cfg.GenerationTimeout, logger.Named("generation")),
		m,
	)
	registry, err := workflow.NewRegistry(client, sessions, logger.Named("workflow"), m,
		workflow.WithIdleTTL(cfg.WorkflowIdleTTL),
	)
	if err != nil {
		return err
	}

	h := &handler.Handler{
		Workflows: registry,
		Store:     sessions,
		Frames:    frames,
		Logger:    logger.Named("http"),
	}

	// ── Router ────────────────────────────────────────────────────────────────
	r := mux.NewRouter()
	r.HandleFunc("/health", handler.Health(db.PingContext)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	h.Register(r.PathPrefix("/api/v1").Subrouter())
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))),
	)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.Origins()),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		// X-User-ID: injected by the API gateway in production
		handlers.AllowedHeaders([]string{"Content-Type", "X-User-ID", "Authorization"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger.Named("panic"))),
	)

	// Generation rounds can take minutes; the write timeout leaves room for
	// one full round on top of the request itself.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      recovery(cors(r)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── Graceful Shutdown ──────────────────────────────────────────────────────
	// On SIGTERM finish in-flight requests, including generation rounds,
	// before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go registry.RunSweeper(ctx, min(cfg.WorkflowIdleTTL/2, time.Minute))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("instrumentation API listening",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.AppEnv),
			zap.String("driver", cfg.DatabaseDriver),
			zap.Duration("workflow_idle_ttl", cfg.WorkflowIdleTTL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped cleanly", zap.Int("live_workflows", registry.Len()))
	return nil
}
