package dto

import (
	"github.com/google/uuid"
)

type DetectionResponse struct {
	ID         uuid.UUID  `json:"id"`
	Frame      int        `json:"frame"`
	FrameSeq   int64      `json:"frame_seq"`
	TrackID    int        `json:"track_id"`
	Team       int        `json:"team"`
	TeamLabel  string     `json:"team_label"`
	BBox       [4]int     `json:"bbox"` // x1, y1, x2, y2
	Feature    [3]float32 `json:"feature"`
	Confidence float64    `json:"confidence"`
	FrameRef   string     `json:"frame_ref,omitempty"`
	CreatedAt  string     `json:"created_at"`
}

type DetectionListResponse struct {
	Detections []DetectionResponse `json:"detections"`
	Total      int                 `json:"total"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// ColorSearchRequest looks up detections whose jersey color (CIELab, 0..255
// per channel as stored) is closest to Feature.
type ColorSearchRequest struct {
	Feature []float32 `json:"feature" binding:"required,len=3"`
	Team    *int      `json:"team,omitempty" binding:"omitempty,oneof=0 1"`
	Limit   int       `json:"limit" binding:"gte=0,lte=100"`
}

type ColorMatchResponse struct {
	DetectionResponse
	Distance float64 `json:"distance"`
}

type ColorSearchResponse struct {
	Results []ColorMatchResponse `json:"results"`
}

type DetectionStatsResponse struct {
	Frames     int    `json:"frames"`
	Detections int    `json:"detections"`
	Tracks     int    `json:"tracks"`
	TeamCounts [2]int `json:"team_counts"`
}
