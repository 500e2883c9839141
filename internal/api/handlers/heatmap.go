package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/pitchtrack/internal/storage"
)

type ObjectReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type HeatmapHandler struct {
	objects ObjectReader
}

func NewHeatmapHandler(objects ObjectReader) *HeatmapHandler {
	return &HeatmapHandler{objects: objects}
}

// Get serves the latest heatmap snapshot of a stream as PNG.
// ?kind=combined|overlay, combined by default.
func (h *HeatmapHandler) Get(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	kind := c.DefaultQuery("kind", storage.HeatmapCombined)
	if !storage.ValidHeatmapKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be combined or overlay"})
		return
	}

	data, err := h.objects.GetObject(c.Request.Context(), storage.HeatmapKey(id, kind))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "heatmap not available yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", data)
}
