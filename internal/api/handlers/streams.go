package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/storage"
	"github.com/your-org/pitchtrack/pkg/dto"
)

type StreamStore interface {
	CreateStream(ctx context.Context, st *models.Stream) error
	GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	ListStreams(ctx context.Context) ([]models.Stream, error)
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
	DeleteStream(ctx context.Context, id uuid.UUID) error
	DeleteDetections(ctx context.Context, streamID uuid.UUID) (int64, error)
}

type ControlPublisher interface {
	PublishControl(data []byte) error
}

type StreamHandler struct {
	db         StreamStore
	control    ControlPublisher
	defaultFPS int
	maxFPS     int
}

func NewStreamHandler(db StreamStore, control ControlPublisher, defaultFPS, maxFPS int) *StreamHandler {
	return &StreamHandler{db: db, control: control, defaultFPS: defaultFPS, maxFPS: maxFPS}
}

func (h *StreamHandler) Create(c *gin.Context) {
	var req dto.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fps := req.FPS
	if fps <= 0 {
		fps = h.defaultFPS
	}
	if h.maxFPS > 0 && fps > h.maxFPS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fps exceeds maximum"})
		return
	}

	st := &models.Stream{
		Name:       req.Name,
		URL:        req.URL,
		StreamType: models.StreamType(req.StreamType),
		FPS:        fps,
	}

	if err := h.db.CreateStream(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, streamToResponse(st))
}

// load resolves :id, writing the error response itself when it fails.
func (h *StreamHandler) load(c *gin.Context) (*models.Stream, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return nil, false
	}

	st, err := h.db.GetStream(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return nil, false
	}
	return st, true
}

func (h *StreamHandler) Get(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, streamToResponse(st))
}

func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.db.ListStreams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StreamResponse, 0, len(streams))
	for _, st := range streams {
		resp = append(resp, streamToResponse(&st))
	}

	c.JSON(http.StatusOK, dto.StreamListResponse{Streams: resp, Total: len(resp)})
}

func (h *StreamHandler) publish(cmd models.StreamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return h.control.PublishControl(data)
}

// Start asks the ingestor to start a stream. ?reset=true first deletes the
// stream's stored detections.
func (h *StreamHandler) Start(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if st.Status == models.StreamStatusRunning || st.Status == models.StreamStatusStarting {
		c.JSON(http.StatusConflict, gin.H{"error": "stream already running"})
		return
	}

	if c.Query("reset") == "true" {
		n, err := h.db.DeleteDetections(ctx, st.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("reset stream detections", "stream_id", st.ID, "deleted", n)
	}

	if err := h.db.UpdateStreamStatus(ctx, st.ID, models.StreamStatusStarting, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cmd := models.StreamCommand{
		Action:   models.ActionStart,
		StreamID: st.ID.String(),
		URL:      st.URL,
		Type:     string(st.StreamType),
		FPS:      st.FPS,
	}
	if err := h.publish(cmd); err != nil {
		_ = h.db.UpdateStreamStatus(ctx, st.ID, models.StreamStatusError, "failed to publish start command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send start command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.StreamStatusStarting, "stream_id": st.ID})
}

func (h *StreamHandler) Stop(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}

	if err := h.publish(models.StreamCommand{Action: models.ActionStop, StreamID: st.ID.String()}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send stop command"})
		return
	}

	if err := h.db.UpdateStreamStatus(c.Request.Context(), st.ID, models.StreamStatusStopped, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.StreamStatusStopped, "stream_id": st.ID})
}

func (h *StreamHandler) Delete(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}

	if st.Status == models.StreamStatusRunning || st.Status == models.StreamStatusStarting {
		_ = h.publish(models.StreamCommand{Action: models.ActionStop, StreamID: st.ID.String()})
	}

	if err := h.db.DeleteStream(c.Request.Context(), st.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func streamToResponse(st *models.Stream) dto.StreamResponse {
	return dto.StreamResponse{
		ID:           st.ID,
		Name:         st.Name,
		URL:          st.URL,
		StreamType:   string(st.StreamType),
		FPS:          st.FPS,
		Status:       string(st.Status),
		ErrorMessage: st.ErrorMessage,
		CreatedAt:    st.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
