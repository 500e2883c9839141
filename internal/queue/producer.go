package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/pitchtrack/internal/models"
)

const (
	FramesStreamName   = "FRAMES"
	FramesSubjectBase  = "frames"
	ResultsStreamName  = "RESULTS"
	ResultsSubjectBase = "results"
	ControlSubject     = "stream.control"
)

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        FramesStreamName,
			Subjects:    []string{FramesSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      5 * time.Minute,
			MaxMsgs:     100000,
			MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Frame tasks for analysis workers",
		},
		{
			Name:        ResultsStreamName,
			Subjects:    []string{ResultsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Per-frame player classification results",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := streamConfigs()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// FrameSubject is the subject a stream's frame tasks are published on.
func FrameSubject(streamID string) string { return FramesSubjectBase + "." + streamID }

// ResultSubject is the subject a stream's frame results are published on.
func ResultSubject(streamID string) string { return ResultsSubjectBase + "." + streamID }

// frameMsgID deduplicates republished frames within the stream's window.
func frameMsgID(task models.FrameTask) string {
	return fmt.Sprintf("%s-%d", task.StreamID, task.Seq)
}

// PublishFrame publishes a frame task to NATS.
func (p *Producer) PublishFrame(ctx context.Context, task models.FrameTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal frame task: %w", err)
	}

	_, err = p.js.Publish(ctx, FrameSubject(task.StreamID.String()), payload, jetstream.WithMsgID(frameMsgID(task)))
	if err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// PublishResult publishes an analyzed frame to NATS.
func (p *Producer) PublishResult(ctx context.Context, res models.FrameResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal frame result: %w", err)
	}

	_, err = p.js.Publish(ctx, ResultSubject(res.StreamID.String()), payload)
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the FRAMES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, FramesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

// PublishControl publishes a control command via raw NATS (not JetStream).
// The ingestor subscribes to ControlSubject for start/stop commands.
func (p *Producer) PublishControl(data []byte) error {
	return p.nc.Publish(ControlSubject, data)
}

// Conn exposes the underlying connection for plain subscriptions.
func (p *Producer) Conn() *nats.Conn { return p.nc }

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
