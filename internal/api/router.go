package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/pitchtrack/internal/api/handlers"
	"github.com/your-org/pitchtrack/internal/api/ws"
	"github.com/your-org/pitchtrack/internal/auth"
)

// Store is everything the API reads and writes in Postgres.
type Store interface {
	handlers.StreamStore
	handlers.DetectionStore
	Ping(ctx context.Context) error
}

type ObjectStore interface {
	handlers.ObjectReader
	Ping(ctx context.Context) error
}

type Control interface {
	handlers.ControlPublisher
	Ping() error
}

type RouterConfig struct {
	APIKey     string
	DefaultFPS int
	MaxFPS     int
	DB         Store
	MinIO      ObjectStore
	Producer   Control
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(map[string]handlers.Check{
		"postgres": cfg.DB.Ping,
		"minio":    cfg.MinIO.Ping,
		"nats":     func(context.Context) error { return cfg.Producer.Ping() },
	})
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Streams
	streamH := handlers.NewStreamHandler(cfg.DB, cfg.Producer, cfg.DefaultFPS, cfg.MaxFPS)
	v1.POST("/streams", streamH.Create)
	v1.GET("/streams", streamH.List)
	v1.GET("/streams/:id", streamH.Get)
	v1.POST("/streams/:id/start", streamH.Start)
	v1.POST("/streams/:id/stop", streamH.Stop)
	v1.DELETE("/streams/:id", streamH.Delete)

	// Detections
	detH := handlers.NewDetectionHandler(cfg.DB)
	v1.GET("/streams/:id/detections", detH.List)
	v1.GET("/streams/:id/detections.csv", detH.CSV)
	v1.POST("/streams/:id/detections/search", detH.Search)
	v1.GET("/streams/:id/stats", detH.Stats)

	// Heatmaps
	heatH := handlers.NewHeatmapHandler(cfg.MinIO)
	v1.GET("/streams/:id/heatmap", heatH.Get)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders(auth.HeaderName)
	return c
}
