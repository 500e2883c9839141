package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  host: db
  name: pitch
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8082, cfg.Server.MetricsPort)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Worker.IdleTimeout)
	assert.Equal(t, 20*time.Second, cfg.Worker.DrainTimeout)

	v := cfg.Vision
	assert.Equal(t, [3]float64{40, 40, 40}, v.Field.Green.Lower)
	assert.Equal(t, [3]float64{90, 255, 255}, v.Field.Green.Upper)
	assert.Equal(t, 4, v.Field.ErodeIterations)
	assert.Equal(t, 1000.0, v.Field.MinArea)
	assert.Equal(t, 5, v.Players.DilationRadius)
	assert.Equal(t, [2]int{3, 9}, v.Players.CloseKernel)
	assert.Equal(t, 30.0, v.Boxes.MinContourArea)
	assert.Equal(t, 10, v.Teams.MaxAnchorFrames)
	assert.Equal(t, 0.9, v.Teams.AnchorDecay)
	assert.Equal(t, 50.0, v.Tracking.MatchDistance)
	assert.Equal(t, 0.7, v.Tracking.OverrideRatio)
	assert.Equal(t, 20, cfg.Heatmap.Radius)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
vision:
  field:
    erode_iterations: 2
    largest_only: true
  boxes:
    max_width: 150
  tracking:
    match_distance: 80
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Vision.Field.ErodeIterations)
	assert.True(t, cfg.Vision.Field.LargestOnly)
	assert.Equal(t, 150, cfg.Vision.Boxes.MaxWidth)
	assert.Equal(t, 80.0, cfg.Vision.Tracking.MatchDistance)
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
vision:
  field:
    erode_iterations: 0
  teams:
    anchor_decay: 0
  boxes:
    min_contour_area: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Vision.Field.ErodeIterations)
	assert.Zero(t, cfg.Vision.Teams.AnchorDecay)
	assert.Zero(t, cfg.Vision.Boxes.MinContourArea)
	assert.Equal(t, 5, cfg.Vision.Field.KernelSize, "siblings keep their defaults")
	assert.Equal(t, 10, cfg.Vision.Teams.MaxAnchorFrames)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  host: db\n")
	t.Setenv("PT_DB_HOST", "override")
	t.Setenv("PT_SERVER_PORT", "7000")
	t.Setenv("PT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Database.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unclosed"))
		require.Error(t, err)
	})
	t.Run("invalid vision", func(t *testing.T) {
		_, err := Load(writeConfig(t, "vision:\n  boxes:\n    min_width: 200\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_width")
	})
}

func TestVisionValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(v *VisionConfig)
		wantErr string
	}{
		{"defaults", func(*VisionConfig) {}, ""},
		{"inverted green", func(v *VisionConfig) { v.Field.Green.Lower[0] = 100 }, "field.green"},
		{"height range", func(v *VisionConfig) { v.Boxes.MinHeight = 300 }, "min_height"},
		{"jersey fraction", func(v *VisionConfig) { v.Features.JerseyFraction = 1.5 }, "jersey_fraction"},
		{"decay", func(v *VisionConfig) { v.Teams.AnchorDecay = -0.1 }, "anchor_decay"},
		{"match distance", func(v *VisionConfig) { v.Tracking.MatchDistance = -1 }, "match_distance"},
		{"field kernel", func(v *VisionConfig) { v.Field.KernelSize = 0 }, "kernel_size"},
		{"close kernel", func(v *VisionConfig) { v.Players.CloseKernel = [2]int{3, 0} }, "close_kernel"},
		{"kmeans attempts", func(v *VisionConfig) { v.Teams.Attempts = 0 }, "attempts"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := DefaultVision()
			tt.mutate(&v)
			err := v.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "n", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", d.DSN())
	assert.Equal(t, "pgx5://u:p@h:5433/n?sslmode=disable", d.MigrateURL())
}
