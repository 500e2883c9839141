// Command analyze runs player detection, team classification and tracking
// over a video file and writes the per-frame CSV and position heatmaps.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/report"
	"github.com/your-org/pitchtrack/internal/vision"
)

const csvName = "ours.csv"

type options struct {
	input     string
	outDir    string
	annotated string
	maxFrames int
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	var opts options
	flag.StringVar(&opts.input, "input", "", "video file to analyze")
	flag.StringVar(&opts.outDir, "out", ".", "output directory for CSV and heatmaps")
	flag.StringVar(&opts.annotated, "annotated", "", "optional path of an annotated output video (.avi)")
	flag.IntVar(&opts.maxFrames, "max-frames", 0, "stop after this many frames (0 = all)")
	flag.Parse()

	if opts.input == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze -input match.mp4 [-out dir] [-annotated out.avi]")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	observability.SetupLogger(cfg.Logging.Level, "text")

	if err := run(cfg, opts); err != nil {
		slog.Error("analyze failed", "input", opts.input, "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options) error {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	capture, err := gocv.VideoCaptureFile(opts.input)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer capture.Close()

	csvFile, err := os.Create(filepath.Join(opts.outDir, csvName))
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer csvFile.Close()

	rows, err := report.NewCSVWriter(csvFile)
	if err != nil {
		return err
	}

	analyzer := vision.NewAnalyzer(cfg.Vision)
	defer analyzer.Close()
	state := analyzer.NewStream()
	defer state.Close()

	heatmap := report.NewHeatmap(cfg.Heatmap)
	defer heatmap.Close()

	var writer *gocv.VideoWriter
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	start := time.Now()
	empty := 0
	for opts.maxFrames <= 0 || state.Frames() < opts.maxFrames {
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}

		res, err := analyzer.Analyze(state, frame)
		if err != nil {
			slog.Warn("skipping frame", "frame", state.Frames(), "error", err)
			continue
		}
		if len(res.Players) == 0 {
			empty++
		}
		dets := res.Detections()

		if err := rows.WriteFrame(res.Frame, dets); err != nil {
			return err
		}
		// Before annotation so the overlay background stays clean.
		if err := heatmap.Update(frame, dets); err != nil {
			return err
		}

		if opts.annotated != "" {
			if writer == nil {
				fps := capture.Get(gocv.VideoCaptureFPS)
				if fps <= 0 {
					fps = 25
				}
				writer, err = gocv.VideoWriterFile(opts.annotated, "MJPG", fps, frame.Cols(), frame.Rows(), true)
				if err != nil {
					return fmt.Errorf("open annotated video: %w", err)
				}
			}
			report.Annotate(&frame, dets)
			if err := writer.Write(frame); err != nil {
				return fmt.Errorf("write annotated frame: %w", err)
			}
		}

		if res.Frame > 0 && res.Frame%500 == 0 {
			slog.Info("progress", "frame", res.Frame, "rows", rows.Rows(), "elapsed", time.Since(start).Round(time.Second))
		}
	}

	if err := rows.Flush(); err != nil {
		return err
	}

	if err := heatmap.Save(opts.outDir); err != nil {
		if !errors.Is(err, report.ErrNoFrames) {
			return err
		}
		slog.Warn("no frames read, heatmaps not written", "input", opts.input)
	}

	slog.Info("analysis complete",
		"frames", state.Frames(),
		"rows", rows.Rows(),
		"empty_frames", empty,
		"anchors_frozen", state.AnchorsFrozen(),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"csv", filepath.Join(opts.outDir, csvName),
	)
	return nil
}
