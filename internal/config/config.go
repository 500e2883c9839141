package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Worker   WorkerConfig   `yaml:"worker"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MigrateURL is the DSN in the form expected by the pgx5 migrate driver.
func (d DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// HSVRange is an inclusive OpenCV 8-bit HSV range (H in 0..180).
type HSVRange struct {
	Lower [3]float64 `yaml:"lower"`
	Upper [3]float64 `yaml:"upper"`
}

// VisionConfig holds every tunable threshold of the detection, feature,
// clustering and tracking stages.
type VisionConfig struct {
	Background BackgroundConfig `yaml:"background"`
	Field      FieldConfig      `yaml:"field"`
	Players    PlayerMaskConfig `yaml:"players"`
	Boxes      BoxConfig        `yaml:"boxes"`
	Features   FeatureConfig    `yaml:"features"`
	Teams      TeamsConfig      `yaml:"teams"`
	Tracking   TrackingConfig   `yaml:"tracking"`
}

type BackgroundConfig struct {
	// History controls the MOG2 learning rate once warmed up (rate = 1/history).
	History       int     `yaml:"history"`
	VarThreshold  float64 `yaml:"var_threshold"`
	DetectShadows bool    `yaml:"detect_shadows"`
}

type FieldConfig struct {
	Green           HSVRange `yaml:"green"`
	KernelSize      int      `yaml:"kernel_size"`
	ErodeIterations int      `yaml:"erode_iterations"`
	MinArea         float64  `yaml:"min_area"`
	LargestOnly     bool     `yaml:"largest_only"`
	ConvexHull      bool     `yaml:"convex_hull"`
}

type PlayerMaskConfig struct {
	Black          HSVRange `yaml:"black"`
	Shadow         HSVRange `yaml:"shadow"`
	DilationRadius int      `yaml:"dilation_radius"`
	OpenKernel     [2]int   `yaml:"open_kernel"`
	CloseKernel    [2]int   `yaml:"close_kernel"`
}

type BoxConfig struct {
	MinContourArea float64 `yaml:"min_contour_area"`
	MinWidth       int     `yaml:"min_width"`
	MaxWidth       int     `yaml:"max_width"`
	MinHeight      int     `yaml:"min_height"`
	MaxHeight      int     `yaml:"max_height"`
	MinAspectRatio float64 `yaml:"min_aspect_ratio"`
}

type FeatureConfig struct {
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	JerseyFraction float64 `yaml:"jersey_fraction"`
}

type TeamsConfig struct {
	Attempts        int     `yaml:"attempts"`
	MaxIterations   int     `yaml:"max_iterations"`
	Epsilon         float64 `yaml:"epsilon"`
	MaxAnchorFrames int     `yaml:"max_anchor_frames"`
	AnchorDecay     float64 `yaml:"anchor_decay"`
}

type TrackingConfig struct {
	MatchDistance float64 `yaml:"match_distance"`
	OverrideRatio float64 `yaml:"override_ratio"`
}

type IngestConfig struct {
	DefaultFPS     int `yaml:"default_fps"`
	MaxFPS         int `yaml:"max_fps"`
	FrameWidth     int `yaml:"frame_width"`
	FrameRetention int `yaml:"frame_retention"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	QueueSize    int           `yaml:"queue_size"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type HeatmapConfig struct {
	Radius        int     `yaml:"radius"`
	Sigma         float64 `yaml:"sigma"`
	OverlayWeight float64 `yaml:"overlay_weight"`
	SnapshotEvery int     `yaml:"snapshot_every"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Vision: defaultVision()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Vision.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vision config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied and no file.
func Default() *Config {
	cfg := &Config{Vision: defaultVision()}
	setDefaults(cfg)
	return cfg
}

// DefaultVision returns the vision thresholds used when nothing is configured.
func DefaultVision() VisionConfig {
	return defaultVision()
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Ingest.DefaultFPS == 0 {
		cfg.Ingest.DefaultFPS = 10
	}
	if cfg.Ingest.MaxFPS == 0 {
		cfg.Ingest.MaxFPS = 30
	}
	if cfg.Ingest.FrameWidth == 0 {
		cfg.Ingest.FrameWidth = 1280
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 64
	}
	if cfg.Worker.IdleTimeout == 0 {
		cfg.Worker.IdleTimeout = 5 * time.Minute
	}
	if cfg.Worker.DrainTimeout == 0 {
		cfg.Worker.DrainTimeout = 20 * time.Second
	}
	if cfg.Heatmap.Radius == 0 {
		cfg.Heatmap.Radius = 20
	}
	if cfg.Heatmap.Sigma == 0 {
		cfg.Heatmap.Sigma = 15
	}
	if cfg.Heatmap.OverlayWeight == 0 {
		cfg.Heatmap.OverlayWeight = 0.5
	}
	if cfg.Heatmap.SnapshotEvery == 0 {
		cfg.Heatmap.SnapshotEvery = 250
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// defaultVision is loaded before the YAML is decoded, so any value written
// in the file wins, including zero.
func defaultVision() VisionConfig {
	return VisionConfig{
		Background: BackgroundConfig{History: 100, VarThreshold: 16},
		Field: FieldConfig{
			Green:           HSVRange{Lower: [3]float64{40, 40, 40}, Upper: [3]float64{90, 255, 255}},
			KernelSize:      5,
			ErodeIterations: 4,
			MinArea:         1000,
		},
		Players: PlayerMaskConfig{
			Black:          HSVRange{Upper: [3]float64{10, 10, 10}},
			Shadow:         HSVRange{Upper: [3]float64{180, 255, 50}},
			DilationRadius: 5,
			OpenKernel:     [2]int{5, 5},
			CloseKernel:    [2]int{3, 9},
		},
		Boxes: BoxConfig{
			MinContourArea: 30,
			MinWidth:       10,
			MaxWidth:       100,
			MinHeight:      20,
			MaxHeight:      200,
			MinAspectRatio: 1.0,
		},
		Features: FeatureConfig{Width: 32, Height: 64, JerseyFraction: 0.6},
		Teams: TeamsConfig{
			Attempts:        5,
			MaxIterations:   10,
			Epsilon:         1.0,
			MaxAnchorFrames: 10,
			AnchorDecay:     0.9,
		},
		Tracking: TrackingConfig{MatchDistance: 50, OverrideRatio: 0.7},
	}
}

// Validate rejects threshold combinations no frame could satisfy.
func (v VisionConfig) Validate() error {
	var errs []error
	for name, r := range map[string]HSVRange{
		"field.green":    v.Field.Green,
		"players.black":  v.Players.Black,
		"players.shadow": v.Players.Shadow,
	} {
		for i := 0; i < 3; i++ {
			if r.Lower[i] > r.Upper[i] {
				errs = append(errs, fmt.Errorf("%s: lower[%d]=%v exceeds upper[%d]=%v", name, i, r.Lower[i], i, r.Upper[i]))
			}
		}
	}
	if v.Field.KernelSize <= 0 || v.Field.ErodeIterations < 0 {
		errs = append(errs, fmt.Errorf("field: kernel_size %d must be positive and erode_iterations %d non-negative",
			v.Field.KernelSize, v.Field.ErodeIterations))
	}
	for name, k := range map[string][2]int{"players.open_kernel": v.Players.OpenKernel, "players.close_kernel": v.Players.CloseKernel} {
		if k[0] <= 0 || k[1] <= 0 {
			errs = append(errs, fmt.Errorf("%s: %v must be positive", name, k))
		}
	}
	if v.Boxes.MinWidth > v.Boxes.MaxWidth {
		errs = append(errs, fmt.Errorf("boxes: min_width %d exceeds max_width %d", v.Boxes.MinWidth, v.Boxes.MaxWidth))
	}
	if v.Boxes.MinHeight > v.Boxes.MaxHeight {
		errs = append(errs, fmt.Errorf("boxes: min_height %d exceeds max_height %d", v.Boxes.MinHeight, v.Boxes.MaxHeight))
	}
	if v.Features.Width <= 0 || v.Features.Height <= 0 {
		errs = append(errs, fmt.Errorf("features: canonical size %dx%d must be positive", v.Features.Width, v.Features.Height))
	}
	if v.Features.JerseyFraction <= 0 || v.Features.JerseyFraction > 1 {
		errs = append(errs, fmt.Errorf("features: jersey_fraction %v must be in (0,1]", v.Features.JerseyFraction))
	}
	if v.Teams.Attempts <= 0 || v.Teams.MaxIterations <= 0 || v.Teams.MaxAnchorFrames <= 0 {
		errs = append(errs, errors.New("teams: attempts, max_iterations and max_anchor_frames must be positive"))
	}
	if v.Teams.AnchorDecay < 0 || v.Teams.AnchorDecay > 1 {
		errs = append(errs, fmt.Errorf("teams: anchor_decay %v must be in [0,1]", v.Teams.AnchorDecay))
	}
	if v.Tracking.MatchDistance <= 0 {
		errs = append(errs, fmt.Errorf("tracking: match_distance %v must be positive", v.Tracking.MatchDistance))
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PT_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("PT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
