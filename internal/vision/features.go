package vision

import (
	"fmt"
	"image"
	"slices"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/teams"
)

// FeatureExtractor computes the jersey color of a player box.
type FeatureExtractor struct {
	cfg config.VisionConfig
}

func NewFeatureExtractor(cfg config.VisionConfig) *FeatureExtractor {
	return &FeatureExtractor{cfg: cfg}
}

// Extract returns the median Lab color of the upper part of box, ignoring
// field green and shadow pixels. Boxes outside the frame and boxes with no
// usable pixel yield the zero feature.
func (e *FeatureExtractor) Extract(frame gocv.Mat, box image.Rectangle) (teams.Feature, error) {
	r := box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if r.Empty() {
		return teams.Feature{}, nil
	}

	roi := frame.Region(r)
	defer roi.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, image.Pt(e.cfg.Features.Width, e.cfg.Features.Height), 0, 0, gocv.InterpolationLinear)

	rows := int(float64(resized.Rows()) * e.cfg.Features.JerseyFraction)
	if rows < 1 {
		rows = resized.Rows()
	}
	upper := resized.Region(image.Rect(0, 0, resized.Cols(), rows))
	defer upper.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(upper, &hsv, gocv.ColorBGRToHSV)

	exclude := exclusionMask(hsv, e.cfg, false)
	defer exclude.Close()

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(upper, &lab, gocv.ColorBGRToLab)

	px, skip := lab.ToBytes(), exclude.ToBytes()
	if len(px) != 3*len(skip) {
		return teams.Feature{}, fmt.Errorf("feature region: %d lab bytes for %d mask pixels", len(px), len(skip))
	}
	return medianLab(px, skip), nil
}

// medianLab takes the per-channel median (upper middle element) of the
// interleaved Lab pixels whose exclusion byte is zero.
func medianLab(lab, exclude []byte) teams.Feature {
	var ch [3][]byte
	for i, ex := range exclude {
		if ex != 0 {
			continue
		}
		for c := 0; c < 3; c++ {
			ch[c] = append(ch[c], lab[3*i+c])
		}
	}
	if len(ch[0]) == 0 {
		return teams.Feature{}
	}

	var f teams.Feature
	mid := len(ch[0]) / 2
	for c := range ch {
		slices.Sort(ch[c])
		f[c] = float64(ch[c][mid])
	}
	return f
}
