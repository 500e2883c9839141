package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
)

// ErrEmptyFrame is returned for frames with no pixels or the wrong layout.
var ErrEmptyFrame = errors.New("vision: empty or non-BGR frame")

var white = color.RGBA{255, 255, 255, 255}

func scalar(v [3]float64) gocv.Scalar {
	return gocv.NewScalar(v[0], v[1], v[2], 0)
}

func inRange(src gocv.Mat, r config.HSVRange, dst *gocv.Mat) {
	gocv.InRangeWithScalar(src, scalar(r.Lower), scalar(r.Upper), dst)
}

// Segmenter produces the candidate player mask of a frame.
type Segmenter struct {
	cfg config.VisionConfig

	fieldKernel  gocv.Mat
	playerKernel gocv.Mat
	openKernel   gocv.Mat
	closeKernel  gocv.Mat
}

func NewSegmenter(cfg config.VisionConfig) *Segmenter {
	k := cfg.Field.KernelSize
	r := cfg.Players.DilationRadius
	return &Segmenter{
		cfg:          cfg,
		fieldKernel:  gocv.GetStructuringElement(gocv.MorphRect, image.Pt(k, k)),
		playerKernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2*r+1, 2*r+1)),
		openKernel:   gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.Players.OpenKernel[0], cfg.Players.OpenKernel[1])),
		closeKernel:  gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.Players.CloseKernel[0], cfg.Players.CloseKernel[1])),
	}
}

func (s *Segmenter) Close() {
	s.fieldKernel.Close()
	s.playerKernel.Close()
	s.openKernel.Close()
	s.closeKernel.Close()
}

// Segment updates bg with frame and returns the binary player mask
// (CV_8UC1, 255 = candidate). The caller owns the returned Mat, also on error.
func (s *Segmenter) Segment(frame gocv.Mat, bg BackgroundModel) (gocv.Mat, error) {
	if frame.Empty() || frame.Channels() != 3 {
		return gocv.NewMat(), ErrEmptyFrame
	}

	motion := gocv.NewMat()
	defer motion.Close()
	bg.Apply(frame, &motion)
	if motion.Empty() {
		return gocv.NewMat(), fmt.Errorf("background model returned an empty mask")
	}

	field := s.FieldMask(frame)
	defer field.Close()

	onField := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), frame.Type())
	defer onField.Close()
	frame.CopyToWithMask(&onField, field)

	players := s.PlayerColorMask(onField)
	defer players.Close()

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.BitwiseAnd(motion, players, &combined)

	mask := gocv.NewMat()
	gocv.BitwiseAnd(combined, field, &mask)

	gocv.MorphologyEx(mask, &combined, gocv.MorphOpen, s.openKernel)
	gocv.MorphologyEx(combined, &mask, gocv.MorphClose, s.closeKernel)
	return mask, nil
}

// FieldMask returns the filled outline of the green playing surface.
func (s *Segmenter) FieldMask(frame gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV)

	green := gocv.NewMat()
	defer green.Close()
	inRange(hsv, s.cfg.Field.Green, &green)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.Dilate(green, &closed, s.fieldKernel)
	for i := 0; i < s.cfg.Field.ErodeIterations; i++ {
		gocv.Erode(closed, &closed, s.fieldKernel)
	}

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)

	contours := gocv.FindContours(closed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var keep []int
	largest, largestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area <= s.cfg.Field.MinArea {
			continue
		}
		keep = append(keep, i)
		if area > largestArea {
			largest, largestArea = i, area
		}
	}
	if s.cfg.Field.LargestOnly && largest >= 0 {
		keep = []int{largest}
	}

	for _, i := range keep {
		if s.cfg.Field.ConvexHull {
			fillHull(&mask, contours.At(i))
			continue
		}
		gocv.DrawContours(&mask, contours, i, white, -1)
	}
	return mask
}

func fillHull(mask *gocv.Mat, contour gocv.PointVector) {
	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(contour, &hull, false, false)

	pts := contour.ToPoints()
	poly := make([]image.Point, 0, hull.Rows())
	for i := 0; i < hull.Rows(); i++ {
		poly = append(poly, pts[hull.GetIntAt(i, 0)])
	}
	if len(poly) < 3 {
		return
	}

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{poly})
	defer pv.Close()
	gocv.FillPoly(mask, pv, white)
}

// PlayerColorMask marks pixels that are neither field green, near-black nor
// shadow, grown by the configured dilation radius.
func (s *Segmenter) PlayerColorMask(onField gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(onField, &hsv, gocv.ColorBGRToHSV)

	exclude := exclusionMask(hsv, s.cfg, true)
	defer exclude.Close()

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(exclude, &inverted)

	mask := gocv.NewMat()
	gocv.Dilate(inverted, &mask, s.playerKernel)
	return mask
}

// exclusionMask is green ∪ shadow, plus near-black when withBlack is set.
func exclusionMask(hsv gocv.Mat, cfg config.VisionConfig, withBlack bool) gocv.Mat {
	green := gocv.NewMat()
	defer green.Close()
	inRange(hsv, cfg.Field.Green, &green)

	shadow := gocv.NewMat()
	defer shadow.Close()
	inRange(hsv, cfg.Players.Shadow, &shadow)

	out := gocv.NewMat()
	gocv.BitwiseOr(green, shadow, &out)
	if withBlack {
		black := gocv.NewMat()
		defer black.Close()
		inRange(hsv, cfg.Players.Black, &black)
		gocv.BitwiseOr(out, black, &out)
	}
	return out
}
