package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/sync/semaphore"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/report"
	"github.com/your-org/pitchtrack/internal/storage"
)

type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type DetectionStore interface {
	InsertDetections(ctx context.Context, dets []models.Detection) error
}

type ResultPublisher interface {
	PublishResult(ctx context.Context, res models.FrameResult) error
}

// streamEntry is the worker-side state of one stream. mu is held for the
// whole of a frame so eviction never closes state that is in use.
type streamEntry struct {
	mu      sync.Mutex
	id      uuid.UUID
	state   *StreamState
	heatmap *report.Heatmap
	lastSeq int64
	seen    bool
	closed  bool
}

// Pipeline turns queued frame tasks into stored detections, heatmap
// snapshots and published results:
// load → decode → analyze → store → heatmap → publish.
type Pipeline struct {
	analyzer *Analyzer
	heatCfg  config.HeatmapConfig
	objects  ObjectStore
	db       DetectionStore
	results  ResultPublisher
	cpu      *semaphore.Weighted
	newState func() *StreamState

	mu      sync.Mutex
	streams map[uuid.UUID]*streamEntry
}

// NewPipeline builds the worker pipeline. concurrency bounds how many frames
// are analyzed at once across all streams.
func NewPipeline(
	cfg config.VisionConfig,
	heatCfg config.HeatmapConfig,
	concurrency int,
	objects ObjectStore,
	db DetectionStore,
	results ResultPublisher,
) *Pipeline {
	if concurrency <= 0 {
		concurrency = 1
	}
	a := NewAnalyzer(cfg)
	slog.Info("vision pipeline ready", "concurrency", concurrency)
	return &Pipeline{
		analyzer: a,
		heatCfg:  heatCfg,
		objects:  objects,
		db:       db,
		results:  results,
		cpu:      semaphore.NewWeighted(int64(concurrency)),
		newState: a.NewStream,
		streams:  make(map[uuid.UUID]*streamEntry),
	}
}

// acquire returns the locked entry of a stream, creating it on first use.
func (p *Pipeline) acquire(id uuid.UUID) *streamEntry {
	for {
		p.mu.Lock()
		e, ok := p.streams[id]
		if !ok {
			e = &streamEntry{id: id, state: p.newState(), heatmap: report.NewHeatmap(p.heatCfg)}
			p.streams[id] = e
			observability.ActiveStreams.Inc()
			slog.Info("stream state created", "stream_id", id)
		}
		p.mu.Unlock()

		e.mu.Lock()
		if !e.closed {
			return e
		}
		e.mu.Unlock()
	}
}

// ProcessFrame analyzes one frame task. Tasks of a stream must be delivered
// one at a time; a task whose Seq is not newer than the last one is dropped.
func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	e := p.acquire(task.StreamID)
	defer e.mu.Unlock()

	if e.seen && task.Seq <= e.lastSeq {
		slog.Debug("dropping stale frame", "stream_id", task.StreamID, "seq", task.Seq, "last_seq", e.lastSeq)
		return nil
	}

	// 1. Load frame from MinIO
	data, err := p.objects.GetObject(ctx, task.FrameRef)
	if err != nil {
		observability.FrameErrors.WithLabelValues("load").Inc()
		return fmt.Errorf("load frame: %w", err)
	}

	// 2. Decode JPEG
	frame, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		observability.FrameErrors.WithLabelValues("decode").Inc()
		return fmt.Errorf("decode frame %s: %w", task.FrameRef, err)
	}
	defer frame.Close()
	if frame.Empty() {
		observability.FrameErrors.WithLabelValues("decode").Inc()
		return fmt.Errorf("decode frame %s: %w", task.FrameRef, ErrEmptyFrame)
	}
	e.lastSeq, e.seen = task.Seq, true

	// 3. Analyze
	if err := p.cpu.Acquire(ctx, 1); err != nil {
		return err
	}
	res, err := p.analyzer.Analyze(e.state, frame)
	p.cpu.Release(1)
	if err != nil {
		observability.FrameErrors.WithLabelValues("analyze").Inc()
		return fmt.Errorf("analyze frame seq %d: %w", task.Seq, err)
	}
	p.recordMetrics(task.StreamID, res)

	// 4. Store detections
	if err := p.db.InsertDetections(ctx, detectionRows(task, res)); err != nil {
		observability.FrameErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("store detections: %w", err)
	}

	// 5. Heatmap
	if err := e.heatmap.Update(frame, res.Detections()); err != nil {
		slog.Warn("heatmap update", "stream_id", task.StreamID, "error", err)
	} else if every := p.heatCfg.SnapshotEvery; every > 0 && e.heatmap.Frames()%every == 0 {
		if err := p.snapshot(ctx, e); err != nil {
			slog.Warn("heatmap snapshot", "stream_id", task.StreamID, "error", err)
		}
	}

	// 6. Publish
	if err := p.results.PublishResult(ctx, frameResult(task, res)); err != nil {
		observability.FrameErrors.WithLabelValues("publish").Inc()
		slog.Error("publish result", "stream_id", task.StreamID, "frame", res.Frame, "error", err)
	}
	return nil
}

func (p *Pipeline) recordMetrics(id uuid.UUID, res *FrameResult) {
	sid := id.String()
	observability.FramesProcessed.WithLabelValues(sid).Inc()
	if len(res.Players) == 0 {
		observability.EmptyFrames.WithLabelValues(sid).Inc()
		return
	}
	for team, n := range res.TeamCounts() {
		observability.PlayersDetected.WithLabelValues(sid, strconv.Itoa(team)).Add(float64(n))
	}
	for _, pl := range res.Players {
		if pl.NewTrack {
			observability.NewTracks.WithLabelValues(sid).Inc()
		}
	}
}

// snapshot uploads both heatmap images of a stream.
func (p *Pipeline) snapshot(ctx context.Context, e *streamEntry) error {
	combined, overlay, err := e.heatmap.EncodePNG()
	if err != nil {
		return err
	}
	if err := p.objects.PutObject(ctx, storage.HeatmapKey(e.id, storage.HeatmapCombined), combined, "image/png"); err != nil {
		return err
	}
	return p.objects.PutObject(ctx, storage.HeatmapKey(e.id, storage.HeatmapOverlay), overlay, "image/png")
}

// Evict writes a final heatmap snapshot and releases a stream's state. Track
// identities do not survive eviction.
func (p *Pipeline) Evict(streamID uuid.UUID) {
	p.mu.Lock()
	e, ok := p.streams[streamID]
	if ok {
		delete(p.streams, streamID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true

	if e.heatmap.Frames() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.snapshot(ctx, e); err != nil {
			slog.Warn("final heatmap snapshot", "stream_id", streamID, "error", err)
		}
		cancel()
	}
	e.heatmap.Close()
	e.state.Close()
	observability.ActiveStreams.Dec()
	slog.Info("stream state evicted", "stream_id", streamID, "frames", e.state.Frames())
}

// EvictKey is Evict for a dispatcher key; unknown keys are ignored.
func (p *Pipeline) EvictKey(key string) {
	id, err := uuid.Parse(key)
	if err != nil {
		return
	}
	p.Evict(id)
}

// Streams is the number of streams with live state.
func (p *Pipeline) Streams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Close evicts every stream and releases the analyzer.
func (p *Pipeline) Close() {
	p.mu.Lock()
	ids := make([]uuid.UUID, 0, len(p.streams))
	for id := range p.streams {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Evict(id)
	}
	p.analyzer.Close()
}

func detectionRows(task models.FrameTask, res *FrameResult) []models.Detection {
	rows := make([]models.Detection, len(res.Players))
	for i, pl := range res.Players {
		rows[i] = models.Detection{
			StreamID:   task.StreamID,
			FrameSeq:   task.Seq,
			Frame:      res.Frame,
			Index:      i,
			TrackID:    pl.TrackID,
			Team:       pl.Team,
			X1:         pl.Box.Min.X,
			Y1:         pl.Box.Min.Y,
			X2:         pl.Box.Max.X,
			Y2:         pl.Box.Max.Y,
			Feature:    [3]float32{float32(pl.Feature[0]), float32(pl.Feature[1]), float32(pl.Feature[2])},
			Confidence: pl.Confidence,
			FrameRef:   task.FrameRef,
		}
	}
	return rows
}

func frameResult(task models.FrameTask, res *FrameResult) models.FrameResult {
	out := models.FrameResult{
		StreamID:   task.StreamID,
		FrameID:    task.FrameID,
		Seq:        task.Seq,
		Frame:      res.Frame,
		Timestamp:  task.Timestamp,
		FrameRef:   task.FrameRef,
		Boxes:      len(res.Boxes),
		TeamCounts: res.TeamCounts(),
		Players:    make([]models.PlayerResult, len(res.Players)),
	}
	for i, pl := range res.Players {
		out.Players[i] = models.PlayerResult{
			TrackID:    pl.TrackID,
			Team:       pl.Team,
			BBox:       [4]int{pl.Box.Min.X, pl.Box.Min.Y, pl.Box.Max.X, pl.Box.Max.Y},
			Feature:    pl.Feature,
			Confidence: pl.Confidence,
			NewTrack:   pl.NewTrack,
		}
	}
	return out
}

// IsMissingFrame reports whether err means the frame object was already
// trimmed by retention.
func IsMissingFrame(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
