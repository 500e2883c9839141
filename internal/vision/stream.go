package vision

import (
	"github.com/your-org/pitchtrack/internal/teams"
	"github.com/your-org/pitchtrack/internal/tracking"
)

// StreamState is everything that survives between frames of one stream:
// the background model, the team anchors and the track table. It is owned by
// a single goroutine.
type StreamState struct {
	background BackgroundModel
	anchors    *teams.Anchors
	tracker    *tracking.Tracker
	frames     int
}

// Frames is the number of frames analyzed so far.
func (s *StreamState) Frames() int { return s.frames }

// Anchors returns the current team reference colors and whether they are
// seeded.
func (s *StreamState) Anchors() ([teams.NumTeams]teams.Feature, bool) {
	return s.anchors.Centers(), s.anchors.Seeded()
}

// AnchorsFrozen reports whether anchor warm-up has finished.
func (s *StreamState) AnchorsFrozen() bool { return s.anchors.Frozen() }

// Tracks returns the identities seen in the last classified frame.
func (s *StreamState) Tracks() []tracking.Track { return s.tracker.Tracks() }

// Close releases the background model.
func (s *StreamState) Close() {
	if s.background != nil {
		s.background.Close()
		s.background = nil
	}
}
