package vision

import (
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/report"
	"github.com/your-org/pitchtrack/internal/teams"
	"github.com/your-org/pitchtrack/internal/tracking"
)

// Player is one classified detection.
type Player struct {
	Box        image.Rectangle
	Team       int
	TrackID    int
	Feature    teams.Feature
	Confidence float64
	NewTrack   bool
	Overridden bool
}

// FrameResult is the outcome of analyzing one frame. Players is empty when
// fewer than two boxes survived detection; Boxes still lists them.
type FrameResult struct {
	Frame   int
	Boxes   []image.Rectangle
	Players []Player
	Centers [teams.NumTeams]teams.Feature
}

// Detections converts the players into the form consumed by report writers.
func (r *FrameResult) Detections() []report.Detection {
	out := make([]report.Detection, len(r.Players))
	for i, p := range r.Players {
		out[i] = report.Detection{Box: p.Box, Team: p.Team}
	}
	return out
}

// TeamCounts is the number of players per team.
func (r *FrameResult) TeamCounts() [teams.NumTeams]int {
	var n [teams.NumTeams]int
	for _, p := range r.Players {
		n[p.Team]++
	}
	return n
}

// Analyzer runs segmentation, box extraction, feature extraction, team
// clustering and tracking on single frames. It holds only immutable
// configuration and kernels, so one Analyzer can serve many streams as long
// as each stream has its own StreamState.
type Analyzer struct {
	cfg        config.VisionConfig
	segmenter  *Segmenter
	boxes      *BoxExtractor
	features   *FeatureExtractor
	classifier *teams.Classifier
}

func NewAnalyzer(cfg config.VisionConfig) *Analyzer {
	return NewAnalyzerWithClusterer(cfg, NewKMeansClusterer(cfg.Teams))
}

func NewAnalyzerWithClusterer(cfg config.VisionConfig, c teams.Clusterer) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		segmenter:  NewSegmenter(cfg),
		boxes:      NewBoxExtractor(cfg.Boxes),
		features:   NewFeatureExtractor(cfg),
		classifier: teams.NewClassifier(c),
	}
}

func (a *Analyzer) Close() {
	a.segmenter.Close()
}

// NewStream returns fresh per-stream state with a MOG2 background model.
func (a *Analyzer) NewStream() *StreamState {
	return a.NewStreamWithBackground(NewMOG2(a.cfg.Background))
}

func (a *Analyzer) NewStreamWithBackground(bg BackgroundModel) *StreamState {
	return &StreamState{
		background: bg,
		anchors:    teams.NewAnchors(a.cfg.Teams.MaxAnchorFrames, a.cfg.Teams.AnchorDecay),
		tracker:    tracking.New(a.cfg.Tracking.MatchDistance, a.cfg.Tracking.OverrideRatio),
	}
}

func observe(stage string, start time.Time) {
	observability.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Analyze processes one BGR frame and advances st. Data conditions (no field,
// no players, a single player) produce an empty result, never an error.
func (a *Analyzer) Analyze(st *StreamState, frame gocv.Mat) (*FrameResult, error) {
	res := &FrameResult{Frame: st.frames}

	start := time.Now()
	mask, err := a.segmenter.Segment(frame, st.background)
	defer mask.Close()
	if err != nil {
		return nil, fmt.Errorf("segment frame %d: %w", st.frames, err)
	}
	st.frames++
	observe("segment", start)

	start = time.Now()
	res.Boxes = a.boxes.Extract(mask)
	observe("extract", start)

	start = time.Now()
	features := make([]teams.Feature, len(res.Boxes))
	for i, b := range res.Boxes {
		f, err := a.features.Extract(frame, b)
		if err != nil {
			return nil, fmt.Errorf("features of box %v: %w", b, err)
		}
		features[i] = f
	}
	observe("features", start)

	start = time.Now()
	cls, err := a.classifier.Classify(st.anchors, features)
	if errors.Is(err, teams.ErrTooFewDetections) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("classify frame %d: %w", res.Frame, err)
	}
	res.Centers = cls.Centers
	observe("cluster", start)

	start = time.Now()
	dets := make([]tracking.Detection, cls.Len())
	for i := range dets {
		dets[i] = tracking.Detection{Box: res.Boxes[i], Team: cls.Team(i), Confidence: cls.Confidence(i)}
	}
	assigned := st.tracker.Update(dets)
	observe("track", start)

	res.Players = make([]Player, len(assigned))
	for i, as := range assigned {
		res.Players[i] = Player{
			Box:        res.Boxes[i],
			Team:       as.Team,
			TrackID:    as.TrackID,
			Feature:    features[i],
			Confidence: dets[i].Confidence,
			NewTrack:   as.Created,
			Overridden: as.Overridden,
		}
	}
	return res, nil
}
