package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/pitchtrack/internal/models"
	"github.com/your-org/pitchtrack/internal/observability"
	"github.com/your-org/pitchtrack/internal/storage"
)

// Extractor produces JPEG frames from a source until it ends or is stopped.
type Extractor interface {
	StartExtraction(ctx context.Context, streamURL string, fps int, width int, callback FrameCallback) error
	Stop()
}

type FramePublisher interface {
	PublishFrame(ctx context.Context, task models.FrameTask) error
}

type FrameStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	TrimPrefix(ctx context.Context, prefix string, keep int) (int, error)
}

type StatusStore interface {
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
}

// Options tunes a Manager; zero values take defaults.
type Options struct {
	FrameWidth int
	DefaultFPS int
	MaxFPS     int
	// MaxRetries is the number of restarts after a failed extraction.
	MaxRetries int
	// RetryBase doubles on every attempt: 2s, 4s, 8s with the default of 1s.
	RetryBase time.Duration
	// NewExtractor builds a fresh extractor per attempt.
	NewExtractor func() Extractor
	// Resolve turns a YouTube page URL into a media URL.
	Resolve func(ctx context.Context, url string) (string, error)
}

type activeStream struct {
	id        uuid.UUID
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	extractor Extractor
	seq       int64
	started   bool
}

func (as *activeStream) setExtractor(e Extractor) {
	as.mu.Lock()
	as.extractor = e
	as.mu.Unlock()
}

func (as *activeStream) stop() {
	as.mu.Lock()
	e := as.extractor
	as.mu.Unlock()
	if e != nil {
		e.Stop()
	}
	as.cancel()
}

// Manager manages video stream ingestion lifecycle.
type Manager struct {
	producer FramePublisher
	frames   FrameStore
	db       StatusStore
	opts     Options

	mu      sync.RWMutex
	streams map[uuid.UUID]*activeStream
}

func NewManager(producer FramePublisher, frames FrameStore, db StatusStore, opts Options) *Manager {
	if opts.FrameWidth <= 0 {
		opts.FrameWidth = 1280
	}
	if opts.DefaultFPS <= 0 {
		opts.DefaultFPS = 10
	}
	if opts.MaxFPS <= 0 {
		opts.MaxFPS = 30
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.NewExtractor == nil {
		opts.NewExtractor = func() Extractor { return &FFmpegExtractor{} }
	}
	if opts.Resolve == nil {
		opts.Resolve = ResolveYouTubeURL
	}
	return &Manager{
		producer: producer,
		frames:   frames,
		db:       db,
		opts:     opts,
		streams:  make(map[uuid.UUID]*activeStream),
	}
}

// HandleCommand processes a stream control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd models.StreamCommand) error {
	id, err := uuid.Parse(cmd.StreamID)
	if err != nil {
		return fmt.Errorf("invalid stream id %q: %w", cmd.StreamID, err)
	}
	switch cmd.Action {
	case models.ActionStart:
		return m.startStream(ctx, id, cmd)
	case models.ActionStop:
		m.stopStream(id)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

func (m *Manager) fps(requested int) int {
	if requested <= 0 {
		return m.opts.DefaultFPS
	}
	return min(requested, m.opts.MaxFPS)
}

func (m *Manager) startStream(ctx context.Context, id uuid.UUID, cmd models.StreamCommand) error {
	if cmd.URL == "" {
		return fmt.Errorf("stream %s: empty url", id)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	as := &activeStream{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		// Sequence numbers keep increasing across restarts of the same stream.
		seq: time.Now().UnixMicro(),
	}

	m.mu.Lock()
	if _, exists := m.streams[id]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("stream %s already running", id)
	}
	m.streams[id] = as
	m.mu.Unlock()

	observability.ActiveStreams.Inc()
	m.updateStatus(id, models.StreamStatusStarting, "")

	fps := m.fps(cmd.FPS)
	slog.Info("starting stream ingestion", "stream_id", id, "url", cmd.URL, "fps", fps)

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.streams, id)
			m.mu.Unlock()
			observability.ActiveStreams.Dec()
			close(as.done)
			slog.Info("stream ingestion stopped", "stream_id", id, "last_seq", as.seq)
		}()
		m.run(streamCtx, as, cmd, fps)
	}()

	return nil
}

// run extracts frames with exponential backoff between failed attempts and
// records the final status.
func (m *Manager) run(ctx context.Context, as *activeStream, cmd models.StreamCommand, fps int) {
	var lastErr error
	for attempt := 0; attempt <= m.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.opts.RetryBase << uint(attempt)
			slog.Warn("retrying stream extraction", "stream_id", as.id, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				m.updateStatus(as.id, models.StreamStatusStopped, "")
				return
			case <-time.After(delay):
			}
		}

		// YouTube media URLs expire, so resolve on every attempt.
		url := cmd.URL
		if models.StreamType(cmd.Type) == models.StreamTypeYouTube {
			resolved, err := m.opts.Resolve(ctx, cmd.URL)
			if err != nil {
				lastErr = fmt.Errorf("resolve youtube url: %w", err)
				slog.Warn("youtube resolve failed", "stream_id", as.id, "error", err)
				continue
			}
			url = resolved
		}

		extractor := m.opts.NewExtractor()
		as.setExtractor(extractor)

		err := extractor.StartExtraction(ctx, url, fps, m.opts.FrameWidth, func(frame []byte) error {
			return m.handleFrame(ctx, as, frame)
		})
		if ctx.Err() != nil {
			m.updateStatus(as.id, models.StreamStatusStopped, "")
			return
		}
		if err == nil {
			m.updateStatus(as.id, models.StreamStatusFinished, "")
			return
		}

		lastErr = err
		slog.Error("stream extraction failed", "stream_id", as.id, "attempt", attempt, "error", err)
	}

	msg := "stream failed after retries"
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	m.updateStatus(as.id, models.StreamStatusError, msg)
}

// handleFrame stores one frame and queues it for analysis.
func (m *Manager) handleFrame(ctx context.Context, as *activeStream, frame []byte) error {
	as.seq++
	task := models.FrameTask{
		StreamID:  as.id,
		FrameID:   uuid.New(),
		Seq:       as.seq,
		Timestamp: time.Now(),
		FrameRef:  storage.FrameKey(as.id, as.seq),
		Width:     m.opts.FrameWidth,
	}

	if err := m.frames.PutObject(ctx, task.FrameRef, frame, "image/jpeg"); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}
	if err := m.producer.PublishFrame(ctx, task); err != nil {
		return fmt.Errorf("publish frame task: %w", err)
	}

	if !as.started {
		as.started = true
		m.updateStatus(as.id, models.StreamStatusRunning, "")
	}
	observability.FramesIngested.WithLabelValues(as.id.String()).Inc()
	return nil
}

func (m *Manager) stopStream(id uuid.UUID) {
	m.mu.RLock()
	as, exists := m.streams[id]
	m.mu.RUnlock()

	if !exists {
		return
	}
	as.stop()
	slog.Info("stop command sent", "stream_id", id)
}

func (m *Manager) updateStatus(id uuid.UUID, status models.StreamStatus, errMsg string) {
	if err := m.db.UpdateStreamStatus(context.Background(), id, status, errMsg); err != nil {
		slog.Error("update stream status", "stream_id", id, "status", status, "error", err)
	}
}

// TrimFrames keeps only the newest keep frames of every running stream.
func (m *Manager) TrimFrames(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	var errs []error
	for _, id := range m.activeIDs() {
		n, err := m.frames.TrimPrefix(ctx, storage.FramePrefix(id), keep)
		if err != nil {
			errs = append(errs, fmt.Errorf("trim frames of %s: %w", id, err))
			continue
		}
		if n > 0 {
			slog.Debug("trimmed frames", "stream_id", id, "deleted", n)
		}
	}
	return errors.Join(errs...)
}

// ActiveCount returns the number of currently running streams.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

func (m *Manager) activeIDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops all running streams and waits for them to exit.
func (m *Manager) StopAll() {
	m.mu.RLock()
	running := make([]*activeStream, 0, len(m.streams))
	for _, as := range m.streams {
		running = append(running, as)
	}
	m.mu.RUnlock()

	for _, as := range running {
		as.stop()
	}
	for _, as := range running {
		<-as.done
	}
}

// ParseCommand parses a NATS message into a StreamCommand.
func ParseCommand(data []byte) (models.StreamCommand, error) {
	var cmd models.StreamCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	if cmd.Action != models.ActionStart && cmd.Action != models.ActionStop {
		return cmd, fmt.Errorf("parse command: unknown action %q", cmd.Action)
	}
	return cmd, nil
}
