package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/pitchtrack/internal/api"
	"github.com/your-org/pitchtrack/internal/api/ws"
	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/queue"
	"github.com/your-org/pitchtrack/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	skipMigrate := flag.Bool("skip-migrate", false, "do not apply database migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting PitchTrack API service", "port", cfg.Server.Port)

	if !*skipMigrate {
		if err := storage.Migrate(cfg.Database.MigrateURL()); err != nil {
			slog.Error("migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Push analyzed frames to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create result consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeResults(ctx, "api-results", func(ctx context.Context, msg jetstream.Msg) error {
		var res models.FrameResult
		if err := json.Unmarshal(msg.Data(), &res); err != nil {
			slog.Error("unmarshal frame result", "error", err)
			return nil
		}
		hub.BroadcastResult(res)
		return nil
	})
	if err != nil {
		slog.Warn("start result consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		DefaultFPS: cfg.Ingest.DefaultFPS,
		MaxFPS:     cfg.Ingest.MaxFPS,
		DB:         db,
		MinIO:      minioStore,
		Producer:   producer,
		Hub:        hub,
	})

	// Start HTTP server. No write timeout: CSV exports and WebSockets are long-lived.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
