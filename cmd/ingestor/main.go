package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/ingest"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/queue"
	"github.com/your-org/pitchtrack/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsPort := flag.Int("metrics-port", 8081, "metrics listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting PitchTrack ingestor")

	// Connect to Postgres (for status updates)
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

	manager := ingest.NewManager(producer, minioStore, db, ingest.Options{
		FrameWidth: cfg.Ingest.FrameWidth,
		DefaultFPS: cfg.Ingest.DefaultFPS,
		MaxFPS:     cfg.Ingest.MaxFPS,
	})

	// Stream control commands arrive on a plain subject, not JetStream.
	sub, err := producer.Conn().Subscribe(queue.ControlSubject, func(msg *nats.Msg) {
		cmd, err := ingest.ParseCommand(msg.Data)
		if err != nil {
			slog.Error("parse command", "error", err)
			return
		}

		slog.Info("received command", "action", cmd.Action, "stream_id", cmd.StreamID)
		if err := manager.HandleCommand(ctx, cmd); err != nil {
			slog.Error("handle command", "error", err, "action", cmd.Action, "stream_id", cmd.StreamID)
		}
	})
	if err != nil {
		slog.Error("subscribe to control", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sub.Unsubscribe() }()

	g, gctx := errgroup.WithContext(ctx)

	// Frame retention
	if keep := cfg.Ingest.FrameRetention; keep > 0 {
		slog.Info("frame cleanup enabled", "retention", keep)
		g.Go(func() error {
			ticker := time.NewTicker(60 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := manager.TrimFrames(gctx, keep); err != nil {
						slog.Warn("frame cleanup", "error", err)
					}
				}
			}
		})
	}

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *metricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("ingestor metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("ingestor error", "error", err)
	}

	slog.Info("shutting down ingestor...", "active_streams", manager.ActiveCount())
	manager.StopAll()
	slog.Info("ingestor stopped")
}
