package report

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
)

var ErrNoFrames = errors.New("heatmap: no frames accumulated")

const (
	CombinedFile = "combined_heatmap.png"
	OverlayFile  = "heatmap_overlay.png"
)

// Heatmap accumulates a team-colored disc at every player center. The first
// frame it sees is kept as the overlay background.
type Heatmap struct {
	radius int
	sigma  float64
	weight float64

	accum  gocv.Mat
	layer  gocv.Mat
	first  gocv.Mat
	frames int
}

func NewHeatmap(cfg config.HeatmapConfig) *Heatmap {
	return &Heatmap{radius: cfg.Radius, sigma: cfg.Sigma, weight: cfg.OverlayWeight}
}

// Update adds one frame's detections. Every frame must have the size of the
// first one.
func (h *Heatmap) Update(frame gocv.Mat, dets []Detection) error {
	if frame.Empty() {
		return fmt.Errorf("heatmap: empty frame")
	}
	if h.frames == 0 {
		h.accum = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), gocv.MatTypeCV32FC3)
		h.layer = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), gocv.MatTypeCV32FC3)
		h.first = frame.Clone()
	} else if frame.Rows() != h.accum.Rows() || frame.Cols() != h.accum.Cols() {
		return fmt.Errorf("heatmap: frame is %dx%d, expected %dx%d",
			frame.Cols(), frame.Rows(), h.accum.Cols(), h.accum.Rows())
	}
	h.frames++

	for _, d := range dets {
		h.layer.SetTo(gocv.NewScalar(0, 0, 0, 0))
		gocv.CircleWithParams(&h.layer, center(d.Box), h.radius, TeamColor(d.Team), -1, gocv.LineAA, 0)
		gocv.Add(h.accum, h.layer, &h.accum)
	}
	return nil
}

// Frames is the number of frames accumulated.
func (h *Heatmap) Frames() int { return h.frames }

// Render blurs and min-max normalizes the accumulator into an 8-bit image and
// blends it over the first frame. The caller owns both Mats.
func (h *Heatmap) Render() (combined, overlay gocv.Mat, err error) {
	if h.frames == 0 {
		return gocv.NewMat(), gocv.NewMat(), ErrNoFrames
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(h.accum, &blurred, image.Pt(0, 0), h.sigma, h.sigma, gocv.BorderDefault)

	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Normalize(blurred, &normalized, 0, 255, gocv.NormMinMax)

	combined = gocv.NewMat()
	normalized.ConvertTo(&combined, gocv.MatTypeCV8UC3)

	overlay = gocv.NewMat()
	gocv.AddWeighted(h.first, 1-h.weight, combined, h.weight, 0, &overlay)
	return combined, overlay, nil
}

// EncodePNG renders both images as PNG bytes.
func (h *Heatmap) EncodePNG() (combined, overlay []byte, err error) {
	c, o, err := h.Render()
	defer c.Close()
	defer o.Close()
	if err != nil {
		return nil, nil, err
	}

	if combined, err = encodePNG(c); err != nil {
		return nil, nil, fmt.Errorf("encode combined heatmap: %w", err)
	}
	if overlay, err = encodePNG(o); err != nil {
		return nil, nil, fmt.Errorf("encode heatmap overlay: %w", err)
	}
	return combined, overlay, nil
}

func encodePNG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Save writes CombinedFile and OverlayFile into dir.
func (h *Heatmap) Save(dir string) error {
	combined, overlay, err := h.EncodePNG()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, CombinedFile), combined, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", CombinedFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, OverlayFile), overlay, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", OverlayFile, err)
	}
	return nil
}

func (h *Heatmap) Close() {
	if h.frames == 0 {
		return
	}
	h.accum.Close()
	h.layer.Close()
	h.first.Close()
	h.frames = 0
}
