package models

import (
	"time"

	"github.com/google/uuid"
)

// FrameTask is the message published to NATS for worker processing.
// Seq increases by one per extracted frame of a stream run.
type FrameTask struct {
	StreamID  uuid.UUID `json:"stream_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// PlayerResult is one classified player of a frame.
type PlayerResult struct {
	TrackID    int        `json:"track_id"`
	Team       int        `json:"team"`
	BBox       [4]int     `json:"bbox"` // x1, y1, x2, y2; x2/y2 exclusive
	Feature    [3]float64 `json:"feature"`
	Confidence float64    `json:"confidence"`
	NewTrack   bool       `json:"new_track,omitempty"`
}

// FrameResult is published by the worker after a frame is analyzed.
type FrameResult struct {
	StreamID   uuid.UUID      `json:"stream_id"`
	FrameID    uuid.UUID      `json:"frame_id"`
	Seq        int64          `json:"seq"`
	Frame      int            `json:"frame"`
	Timestamp  time.Time      `json:"timestamp"`
	FrameRef   string         `json:"frame_ref"`
	Boxes      int            `json:"boxes"`
	TeamCounts [2]int         `json:"team_counts"`
	Players    []PlayerResult `json:"players"`
}
