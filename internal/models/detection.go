package models

import (
	"time"

	"github.com/google/uuid"
)

// Detection is a stored classified player.
type Detection struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	StreamID   uuid.UUID  `json:"stream_id" db:"stream_id"`
	FrameSeq   int64      `json:"frame_seq" db:"frame_seq"`
	Frame      int        `json:"frame" db:"frame"`
	Index      int        `json:"index" db:"ord"` // position within the frame's output
	TrackID    int        `json:"track_id" db:"track_id"`
	Team       int        `json:"team" db:"team"`
	X1         int        `json:"x1" db:"x1"`
	Y1         int        `json:"y1" db:"y1"`
	X2         int        `json:"x2" db:"x2"`
	Y2         int        `json:"y2" db:"y2"`
	Feature    [3]float32 `json:"feature" db:"feature"`
	Confidence float64    `json:"confidence" db:"confidence"`
	FrameRef   string     `json:"frame_ref" db:"frame_ref"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// DetectionFilter narrows detection queries. Nil fields are ignored.
type DetectionFilter struct {
	FromFrame *int
	ToFrame   *int
	Team      *int
	TrackID   *int
	Limit     int
	Offset    int
}

const (
	DefaultDetectionLimit = 100
	MaxDetectionLimit     = 1000
)

// ClampPage replaces a non-positive limit with the default, caps it at the
// maximum and floors the offset at zero.
func (f *DetectionFilter) ClampPage() {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultDetectionLimit
	case f.Limit > MaxDetectionLimit:
		f.Limit = MaxDetectionLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// DetectionStats summarizes a stream's stored detections.
type DetectionStats struct {
	Frames     int    `json:"frames"`
	Detections int    `json:"detections"`
	Tracks     int    `json:"tracks"`
	TeamCounts [2]int `json:"team_counts"`
}

// ColorMatch is a detection ranked by jersey color distance.
type ColorMatch struct {
	Detection
	Distance float64 `json:"distance"`
}
