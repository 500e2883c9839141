package handlers

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/report"
	"github.com/your-org/pitchtrack/pkg/dto"
)

type DetectionStore interface {
	QueryDetections(ctx context.Context, streamID uuid.UUID, f models.DetectionFilter) ([]models.Detection, int, error)
	EachDetection(ctx context.Context, streamID uuid.UUID, fn func(models.Detection) error) error
	SearchByColor(ctx context.Context, streamID uuid.UUID, feature [3]float32, team *int, limit int) ([]models.ColorMatch, error)
	DetectionStats(ctx context.Context, streamID uuid.UUID) (*models.DetectionStats, error)
}

type DetectionHandler struct {
	db DetectionStore
}

func NewDetectionHandler(db DetectionStore) *DetectionHandler {
	return &DetectionHandler{db: db}
}

func streamID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return uuid.Nil, false
	}
	return id, true
}

// optionalInt parses an optional integer query parameter.
func optionalInt(c *gin.Context, name string) (*int, error) {
	s := c.Query(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, s)
	}
	return &v, nil
}

func parseFilter(c *gin.Context) (models.DetectionFilter, error) {
	var f models.DetectionFilter
	var err error
	if f.FromFrame, err = optionalInt(c, "from_frame"); err != nil {
		return f, err
	}
	if f.ToFrame, err = optionalInt(c, "to_frame"); err != nil {
		return f, err
	}
	if f.Team, err = optionalInt(c, "team"); err != nil {
		return f, err
	}
	if f.Team != nil && (*f.Team < 0 || *f.Team > 1) {
		return f, fmt.Errorf("invalid team: %d", *f.Team)
	}
	if f.TrackID, err = optionalInt(c, "track_id"); err != nil {
		return f, err
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))
	f.ClampPage()
	return f, nil
}

func (h *DetectionHandler) List(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dets, total, err := h.db.QueryDetections(c.Request.Context(), id, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.DetectionListResponse{
		Detections: make([]dto.DetectionResponse, 0, len(dets)),
		Total:      total,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
	for _, d := range dets {
		resp.Detections = append(resp.Detections, detectionToResponse(d))
	}
	c.JSON(http.StatusOK, resp)
}

// CSV streams every detection of a stream as frame,x1,y1,x2,y2,team.
func (h *DetectionHandler) CSV(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))
	c.Status(http.StatusOK)

	w, err := report.NewCSVWriter(c.Writer)
	if err != nil {
		slog.Error("csv export", "stream_id", id, "error", err)
		return
	}
	err = h.db.EachDetection(c.Request.Context(), id, func(d models.Detection) error {
		return w.WriteRow(d.Frame, report.Detection{Box: image.Rect(d.X1, d.Y1, d.X2, d.Y2), Team: d.Team})
	})
	if flushErr := w.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		// Headers are gone; the client sees a truncated file.
		slog.Error("csv export", "stream_id", id, "rows", w.Rows(), "error", err)
	}
}

// Search ranks the stream's detections by jersey color distance.
func (h *DetectionHandler) Search(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	var req dto.ColorSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var feature [3]float32
	copy(feature[:], req.Feature)
	matches, err := h.db.SearchByColor(c.Request.Context(), id, feature, req.Team, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ColorSearchResponse{Results: make([]dto.ColorMatchResponse, 0, len(matches))}
	for _, m := range matches {
		resp.Results = append(resp.Results, dto.ColorMatchResponse{
			DetectionResponse: detectionToResponse(m.Detection),
			Distance:          m.Distance,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DetectionHandler) Stats(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	st, err := h.db.DetectionStats(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.DetectionStatsResponse{
		Frames:     st.Frames,
		Detections: st.Detections,
		Tracks:     st.Tracks,
		TeamCounts: st.TeamCounts,
	})
}

func detectionToResponse(d models.Detection) dto.DetectionResponse {
	return dto.DetectionResponse{
		ID:         d.ID,
		Frame:      d.Frame,
		FrameSeq:   d.FrameSeq,
		TrackID:    d.TrackID,
		Team:       d.Team,
		TeamLabel:  report.TeamLabel(d.Team),
		BBox:       [4]int{d.X1, d.Y1, d.X2, d.Y2},
		Feature:    d.Feature,
		Confidence: d.Confidence,
		FrameRef:   d.FrameRef,
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
	}
}
