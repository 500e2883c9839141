package dto

import (
	"github.com/google/uuid"
)

type CreateStreamRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url" binding:"required"`
	StreamType string `json:"stream_type" binding:"required,oneof=rtsp youtube http file"`
	FPS        int    `json:"fps" binding:"gte=0"`
}

type StreamResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name,omitempty"`
	URL          string    `json:"url"`
	StreamType   string    `json:"stream_type"`
	FPS          int       `json:"fps"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Total   int              `json:"total"`
}
