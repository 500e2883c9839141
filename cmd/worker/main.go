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
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/queue"
	"github.com/your-org/pitchtrack/internal/storage"
	"github.com/your-org/pitchtrack/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting PitchTrack analysis worker",
		"concurrency", cfg.Worker.Concurrency,
		"cpu_cores", runtime.NumCPU(),
	)

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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	pipeline := vision.NewPipeline(cfg.Vision, cfg.Heatmap, cfg.Worker.Concurrency, minioStore, db, producer)
	defer pipeline.Close()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	stopFrames, err := consumer.ConsumeFrames(ctx, "analysis-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.FrameTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal frame task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		err := pipeline.ProcessFrame(ctx, task)
		if vision.IsMissingFrame(err) {
			slog.Warn("frame already trimmed", "stream_id", task.StreamID, "seq", task.Seq)
			return nil
		}
		if err != nil {
			return fmt.Errorf("process frame seq %d: %w", task.Seq, err)
		}
		return nil
	}, queue.FrameOptions{
		Batch:        cfg.Worker.Concurrency * 4,
		LaneSize:     cfg.Worker.QueueSize,
		IdleTimeout:  cfg.Worker.IdleTimeout,
		OnIdle:       pipeline.EvictKey,
		DrainTimeout: cfg.Worker.DrainTimeout,
	})
	if err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("worker metrics listening", "addr", metricsSrv.Addr)
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

	// Periodically report the FRAMES backlog
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if depth, err := producer.QueueDepth(gctx); err == nil {
					observability.StreamBacklog.Set(float64(depth))
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker error", "error", err)
	}

	slog.Info("shutting down worker...")
	stopFrames()
	slog.Info("worker stopped", "streams", pipeline.Streams())
}
