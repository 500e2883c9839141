package vision

import (
	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
)

// BackgroundModel turns a frame into a motion mask and adapts to it.
type BackgroundModel interface {
	Apply(frame gocv.Mat, foreground *gocv.Mat)
	Close()
}

type mog2 struct {
	sub gocv.BackgroundSubtractorMOG2
}

// NewMOG2 returns a Gaussian-mixture background model. A long history makes
// the model adapt slowly, so players standing still fade out over time.
func NewMOG2(cfg config.BackgroundConfig) BackgroundModel {
	return &mog2{
		sub: gocv.NewBackgroundSubtractorMOG2WithParams(cfg.History, cfg.VarThreshold, cfg.DetectShadows),
	}
}

func (m *mog2) Apply(frame gocv.Mat, foreground *gocv.Mat) {
	m.sub.Apply(frame, foreground)
}

func (m *mog2) Close() {
	m.sub.Close()
}
