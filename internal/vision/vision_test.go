package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/teams"
)

var (
	pitchGreen = color.RGBA{R: 40, G: 160, B: 40, A: 255}
	redShirt   = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	blueShirt  = color.RGBA{R: 30, G: 30, B: 200, A: 255}
)

// allMotion reports every pixel as foreground.
type allMotion struct{ closed bool }

func (a *allMotion) Apply(frame gocv.Mat, fg *gocv.Mat) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
	defer m.Close()
	m.CopyTo(fg)
}

func (a *allMotion) Close() { a.closed = true }

func fill(c color.RGBA, w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), h, w, gocv.MatTypeCV8UC3)
}

func pitch(players map[image.Rectangle]color.RGBA) gocv.Mat {
	frame := fill(pitchGreen, 320, 240)
	for r, c := range players {
		gocv.Rectangle(&frame, r, c, -1)
	}
	return frame
}

var (
	redPlayer  = image.Rect(60, 80, 80, 130)
	bluePlayer = image.Rect(200, 80, 220, 130)
)

func within(t *testing.T, outer, inner image.Rectangle) {
	t.Helper()
	assert.True(t, inner.In(outer), "%v should contain %v", outer, inner)
	assert.InDelta(t, inner.Dx()+10, outer.Dx(), 2)
	assert.InDelta(t, inner.Dy()+10, outer.Dy(), 2)
}

func TestSegmentAndExtract(t *testing.T) {
	cfg := config.DefaultVision()
	seg := NewSegmenter(cfg)
	defer seg.Close()

	frame := pitch(map[image.Rectangle]color.RGBA{redPlayer: redShirt, bluePlayer: blueShirt})
	defer frame.Close()

	mask, err := seg.Segment(frame, &allMotion{})
	defer mask.Close()
	require.NoError(t, err)
	assert.Equal(t, gocv.MatTypeCV8UC1, mask.Type())
	assert.Zero(t, mask.GetUCharAt(10, 160), "open field is not a player")
	assert.Equal(t, uint8(255), mask.GetUCharAt(105, 70))

	boxes := NewBoxExtractor(cfg.Boxes).Extract(mask)
	require.Len(t, boxes, 2)
	if boxes[0].Min.X > boxes[1].Min.X {
		boxes[0], boxes[1] = boxes[1], boxes[0]
	}
	within(t, boxes[0], redPlayer)
	within(t, boxes[1], bluePlayer)
}

func TestSegmentErrors(t *testing.T) {
	seg := NewSegmenter(config.DefaultVision())
	defer seg.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	mask, err := seg.Segment(empty, &allMotion{})
	mask.Close()
	assert.ErrorIs(t, err, ErrEmptyFrame)

	gray := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC1)
	defer gray.Close()
	mask, err = seg.Segment(gray, &allMotion{})
	mask.Close()
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestFieldMaskOptions(t *testing.T) {
	black := color.RGBA{A: 255}
	frame := fill(black, 320, 240)
	defer frame.Close()
	// L-shaped pitch plus a small separate patch.
	gocv.Rectangle(&frame, image.Rect(20, 20, 200, 60), pitchGreen, -1)
	gocv.Rectangle(&frame, image.Rect(20, 20, 60, 200), pitchGreen, -1)
	gocv.Rectangle(&frame, image.Rect(240, 20, 300, 80), pitchGreen, -1)

	tests := []struct {
		name    string
		largest bool
		hull    bool
		patch   uint8
		notch   uint8
	}{
		{"all regions", false, false, 255, 0},
		{"largest only", true, false, 0, 0},
		{"convex hull", false, true, 255, 255},
		{"largest hull", true, true, 0, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultVision()
			cfg.Field.LargestOnly = tt.largest
			cfg.Field.ConvexHull = tt.hull
			seg := NewSegmenter(cfg)
			defer seg.Close()

			field := seg.FieldMask(frame)
			defer field.Close()
			assert.Equal(t, uint8(255), field.GetUCharAt(40, 40), "pitch corner")
			assert.Equal(t, tt.patch, field.GetUCharAt(50, 270), "separate patch")
			assert.Equal(t, tt.notch, field.GetUCharAt(100, 100), "notch of the L")
		})
	}
}

func TestMedianLab(t *testing.T) {
	lab := []byte{
		10, 100, 200,
		30, 120, 220,
		20, 110, 210,
		40, 130, 230,
		99, 99, 99,
	}
	got := medianLab(lab, []byte{0, 0, 0, 0, 255})
	assert.Equal(t, teams.Feature{30, 120, 220}, got)

	assert.Equal(t, teams.Feature{}, medianLab(lab, []byte{1, 1, 1, 1, 1}))
}

func labOf(t *testing.T, c color.RGBA) teams.Feature {
	t.Helper()
	px := fill(c, 1, 1)
	defer px.Close()
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(px, &lab, gocv.ColorBGRToLab)
	b := lab.ToBytes()
	return teams.Feature{float64(b[0]), float64(b[1]), float64(b[2])}
}

func TestFeatureExtract(t *testing.T) {
	cfg := config.DefaultVision()
	fe := NewFeatureExtractor(cfg)

	frame := pitch(map[image.Rectangle]color.RGBA{redPlayer: redShirt})
	defer frame.Close()

	t.Run("jersey color ignores grass", func(t *testing.T) {
		f, err := fe.Extract(frame, redPlayer.Inset(-5))
		require.NoError(t, err)
		want := labOf(t, redShirt)
		assert.InDeltaSlice(t, want[:], f[:], 2)
	})
	t.Run("outside frame is zero", func(t *testing.T) {
		f, err := fe.Extract(frame, image.Rect(400, 400, 420, 450))
		require.NoError(t, err)
		assert.True(t, f.IsZero())
	})
	t.Run("all grass is zero", func(t *testing.T) {
		f, err := fe.Extract(frame, image.Rect(150, 10, 170, 60))
		require.NoError(t, err)
		assert.True(t, f.IsZero())
	})
	t.Run("partially outside is clipped", func(t *testing.T) {
		f, err := fe.Extract(frame, image.Rect(-10, -10, 30, 40))
		require.NoError(t, err)
		assert.True(t, f.IsZero())
	})
}

func TestKMeansClusterer(t *testing.T) {
	red := labOf(t, redShirt)
	blue := labOf(t, blueShirt)
	nudge := func(f teams.Feature, d float64) teams.Feature { return teams.Feature{f[0] + d, f[1], f[2] - d} }

	c := NewKMeansClusterer(config.DefaultVision().Teams)
	labels, centers, err := c.Cluster([]teams.Feature{red, blue, nudge(red, 1), nudge(blue, 2), nudge(red, -1)}, 2)
	require.NoError(t, err)
	require.Len(t, labels, 5)
	require.Len(t, centers, 2)

	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[0], labels[4])
	assert.Equal(t, labels[1], labels[3])
	assert.NotEqual(t, labels[0], labels[1])
	assert.Less(t, teams.Distance(centers[labels[0]], red), 2.0)
	assert.Less(t, teams.Distance(centers[labels[1]], blue), 2.0)

	_, _, err = c.Cluster([]teams.Feature{red}, 2)
	assert.Error(t, err)
}

func TestClassifyWithZeroFeature(t *testing.T) {
	red := labOf(t, redShirt)
	blue := labOf(t, blueShirt)

	cl := teams.NewClassifier(NewKMeansClusterer(config.DefaultVision().Teams))
	res, err := cl.Classify(teams.NewAnchors(0, -1), []teams.Feature{red, blue, {}})
	require.NoError(t, err)
	require.Equal(t, 3, res.Len())
	for i := 0; i < res.Len(); i++ {
		assert.Contains(t, []int{0, 1}, res.Team(i))
	}
}
