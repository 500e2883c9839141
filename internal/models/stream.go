package models

import (
	"time"

	"github.com/google/uuid"
)

type StreamType string

const (
	StreamTypeRTSP    StreamType = "rtsp"
	StreamTypeYouTube StreamType = "youtube"
	StreamTypeHTTP    StreamType = "http"
	StreamTypeFile    StreamType = "file"
)

func (t StreamType) Valid() bool {
	switch t {
	case StreamTypeRTSP, StreamTypeYouTube, StreamTypeHTTP, StreamTypeFile:
		return true
	}
	return false
}

type StreamStatus string

const (
	StreamStatusStopped  StreamStatus = "stopped"
	StreamStatusStarting StreamStatus = "starting"
	StreamStatusRunning  StreamStatus = "running"
	StreamStatusFinished StreamStatus = "finished"
	StreamStatusError    StreamStatus = "error"
)

// Stream is a video source registered for analysis.
type Stream struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	URL          string       `json:"url" db:"url"`
	StreamType   StreamType   `json:"stream_type" db:"stream_type"`
	FPS          int          `json:"fps" db:"fps"`
	Status       StreamStatus `json:"status" db:"status"`
	ErrorMessage string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// StreamCommand is published by the API on the control subject and handled
// by the ingestor.
type StreamCommand struct {
	Action   string `json:"action"`
	StreamID string `json:"stream_id"`
	URL      string `json:"url,omitempty"`
	Type     string `json:"type,omitempty"`
	FPS      int    `json:"fps,omitempty"`
}
