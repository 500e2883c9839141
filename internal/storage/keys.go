package storage

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	HeatmapCombined = "combined"
	HeatmapOverlay  = "overlay"
)

// FramePrefix is the object prefix of all frames of a stream.
func FramePrefix(streamID uuid.UUID) string {
	return fmt.Sprintf("frames/%s/", streamID)
}

// FrameKey pads seq to the width of int64 so lexical listing order is frame order.
func FrameKey(streamID uuid.UUID, seq int64) string {
	return fmt.Sprintf("%s%020d.jpg", FramePrefix(streamID), seq)
}

func HeatmapKey(streamID uuid.UUID, kind string) string {
	return fmt.Sprintf("heatmaps/%s/%s.png", streamID, kind)
}

func ValidHeatmapKind(kind string) bool {
	return kind == HeatmapCombined || kind == HeatmapOverlay
}
