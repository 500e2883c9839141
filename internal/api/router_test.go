package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/pitchtrack/internal/api/ws"
	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/storage"
	"github.com/your-org/pitchtrack/pkg/dto"
)

type fakeStore struct {
	mu       sync.Mutex
	streams  map[uuid.UUID]*models.Stream
	dets     []models.Detection
	lastTeam *int
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{streams: map[uuid.UUID]*models.Stream{}}
}

func (f *fakeStore) CreateStream(_ context.Context, st *models.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st.ID = uuid.New()
	st.Status = models.StreamStatusStopped
	st.CreatedAt, st.UpdatedAt = time.Now(), time.Now()
	cp := *st
	f.streams[st.ID] = &cp
	return nil
}

func (f *fakeStore) GetStream(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.streams[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) ListStreams(context.Context) ([]models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Stream
	for _, st := range f.streams {
		out = append(out, *st)
	}
	return out, nil
}

func (f *fakeStore) UpdateStreamStatus(_ context.Context, id uuid.UUID, status models.StreamStatus, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.streams[id]
	if !ok {
		return storage.ErrNotFound
	}
	st.Status, st.ErrorMessage = status, msg
	return nil
}

func (f *fakeStore) DeleteStream(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.streams, id)
	return nil
}

func (f *fakeStore) DeleteDetections(context.Context, uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.dets))
	f.dets = nil
	return n, nil
}

func (f *fakeStore) QueryDetections(_ context.Context, _ uuid.UUID, filter models.DetectionFilter) ([]models.Detection, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Detection
	for _, d := range f.dets {
		if filter.Team != nil && d.Team != *filter.Team {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (f *fakeStore) EachDetection(_ context.Context, _ uuid.UUID, fn func(models.Detection) error) error {
	f.mu.Lock()
	dets := append([]models.Detection(nil), f.dets...)
	f.mu.Unlock()
	for _, d := range dets {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) SearchByColor(_ context.Context, _ uuid.UUID, _ [3]float32, team *int, _ int) ([]models.ColorMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTeam = team
	return []models.ColorMatch{{Detection: f.dets[0], Distance: 1.5}}, nil
}

func (f *fakeStore) DetectionStats(context.Context, uuid.UUID) (*models.DetectionStats, error) {
	return &models.DetectionStats{Frames: 2, Detections: 3, Tracks: 2, TeamCounts: [2]int{2, 1}}, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeObjects map[string][]byte

func (o fakeObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	b, ok := o[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (o fakeObjects) Ping(context.Context) error { return nil }

type fakeControl struct {
	mu   sync.Mutex
	sent []models.StreamCommand
}

func (c *fakeControl) PublishControl(data []byte) error {
	var cmd models.StreamCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeControl) Ping() error { return nil }

type env struct {
	handler http.Handler
	store   *fakeStore
	objects fakeObjects
	control *fakeControl
}

func newEnv(t *testing.T, apiKey string) *env {
	t.Helper()
	e := &env{store: newFakeStore(), objects: fakeObjects{}, control: &fakeControl{}}
	e.handler = NewRouter(RouterConfig{
		APIKey:     apiKey,
		DefaultFPS: 10,
		MaxFPS:     30,
		DB:         e.store,
		MinIO:      e.objects,
		Producer:   e.control,
		Hub:        ws.NewHub(),
	})
	return e
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *env) createStream(t *testing.T) dto.StreamResponse {
	t.Helper()
	w := e.do(http.MethodPost, "/v1/streams", `{"name":"final","url":"/data/final.mp4","stream_type":"file"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var st dto.StreamResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestStreamLifecycle(t *testing.T) {
	e := newEnv(t, "")
	st := e.createStream(t)
	assert.Equal(t, 10, st.FPS)
	assert.Equal(t, "stopped", st.Status)

	w := e.do(http.MethodPost, "/v1/streams/"+st.ID.String()+"/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodPost, "/v1/streams/"+st.ID.String()+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/v1/streams/"+st.ID.String()+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	e.control.mu.Lock()
	require.Len(t, e.control.sent, 2)
	assert.Equal(t, models.StreamCommand{
		Action: models.ActionStart, StreamID: st.ID.String(), URL: "/data/final.mp4", Type: "file", FPS: 10,
	}, e.control.sent[0])
	assert.Equal(t, models.ActionStop, e.control.sent[1].Action)
	e.control.mu.Unlock()

	w = e.do(http.MethodGet, "/v1/streams", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.StreamListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	assert.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/v1/streams/"+st.ID.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/v1/streams/"+st.ID.String(), "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/streams/nope", "").Code)
}

func TestCreateStreamValidation(t *testing.T) {
	e := newEnv(t, "")
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/streams", `{"url":"x","stream_type":"ftp"}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/streams", `{"url":"x","stream_type":"file","fps":120}`).Code)
}

func seedDetections(e *env, id uuid.UUID) {
	e.store.dets = []models.Detection{
		{ID: uuid.New(), StreamID: id, Frame: 0, Team: 0, X1: 10, Y1: 20, X2: 30, Y2: 60},
		{ID: uuid.New(), StreamID: id, Frame: 0, Index: 1, Team: 1, X1: 100, Y1: 20, X2: 120, Y2: 60},
		{ID: uuid.New(), StreamID: id, Frame: 1, Team: 0, X1: 12, Y1: 20, X2: 32, Y2: 60},
	}
}

func TestDetectionPageIsClamped(t *testing.T) {
	e := newEnv(t, "")
	id := uuid.New()
	seedDetections(e, id)
	base := "/v1/streams/" + id.String() + "/detections"

	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"default", "", models.DefaultDetectionLimit, 0},
		{"negative", "?limit=-5&offset=-3", models.DefaultDetectionLimit, 0},
		{"too large", "?limit=5000", models.MaxDetectionLimit, 0},
		{"in range", "?limit=20&offset=40", 20, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(http.MethodGet, base+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code)
			var list dto.DetectionListResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
			assert.Equal(t, tt.wantLimit, list.Limit)
			assert.Equal(t, tt.wantOffset, list.Offset)
		})
	}
}

func TestDetectionEndpoints(t *testing.T) {
	e := newEnv(t, "")
	id := uuid.New()
	seedDetections(e, id)
	base := "/v1/streams/" + id.String()

	w := e.do(http.MethodGet, base+"/detections?team=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.DetectionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Detections, 1)
	assert.Equal(t, [4]int{100, 20, 120, 60}, list.Detections[0].BBox)
	assert.Equal(t, "Team B", list.Detections[0].TeamLabel)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, base+"/detections?team=7", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, base+"/detections?from_frame=x", "").Code)

	w = e.do(http.MethodGet, base+"/detections.csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "frame,x1,y1,x2,y2,team\n0,10,20,30,60,0\n0,100,20,120,60,1\n1,12,20,32,60,0\n", w.Body.String())

	w = e.do(http.MethodPost, base+"/detections/search", `{"feature":[120,150,140],"team":0,"limit":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res dto.ColorSearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Results, 1)
	assert.InDelta(t, 1.5, res.Results[0].Distance, 1e-9)
	require.NotNil(t, e.store.lastTeam)
	assert.Equal(t, 0, *e.store.lastTeam)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, base+"/detections/search", `{"feature":[1,2]}`).Code)

	w = e.do(http.MethodGet, base+"/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats dto.DetectionStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, [2]int{2, 1}, stats.TeamCounts)
}

func TestHeatmapEndpoint(t *testing.T) {
	e := newEnv(t, "")
	id := uuid.New()
	base := "/v1/streams/" + id.String() + "/heatmap"

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, base, "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, base+"?kind=raw", "").Code)

	e.objects[storage.HeatmapKey(id, storage.HeatmapOverlay)] = []byte("png")
	w := e.do(http.MethodGet, base+"?kind=overlay", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png", w.Body.String())
}

func TestSystemEndpointsAndAuth(t *testing.T) {
	e := newEnv(t, "key")

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/v1/streams", "").Code)

	e.store.pingErr = errors.New("connection refused")
	w := e.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
