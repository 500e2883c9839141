package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// FrameOptions tunes ConsumeFrames.
type FrameOptions struct {
	// Batch is the number of messages fetched at once.
	Batch int
	// LaneSize is the per-stream buffer.
	LaneSize int
	// IdleTimeout retires a stream's goroutine after inactivity.
	IdleTimeout time.Duration
	// OnIdle is called with the stream key of a retired goroutine.
	OnIdle func(streamKey string)
	// DrainTimeout bounds how long stop waits for queued frames.
	DrainTimeout time.Duration
}

// retryable reports whether a handler error came from shutdown rather than
// from the frame itself.
func retryable(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// streamKey extracts the stream id from a frames.<id> subject.
func streamKey(subject string) string {
	return strings.TrimPrefix(subject, FramesSubjectBase+".")
}

// ConsumeFrames starts consuming frame tasks from the FRAMES stream. Frames of
// one stream are handed to handler one at a time in delivery order; streams
// are processed in parallel. A handler error terminates the message instead
// of redelivering it, since a late redelivery would arrive out of order.
// The returned function stops fetching and waits for in-flight frames.
func (c *Consumer) ConsumeFrames(ctx context.Context, consumerName string, handler MessageHandler, opts FrameOptions) (func(), error) {
	if opts.Batch <= 0 {
		opts.Batch = 16
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 20 * time.Second
	}

	stream, err := c.js.Stream(ctx, FramesStreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", FramesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		FilterSubject: FramesSubjectBase + ".>",
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	dispatcher := NewDispatcher(func(ctx context.Context, key string, msg jetstream.Msg) {
		if err := handler(ctx, msg); err != nil {
			if retryable(err) {
				slog.Warn("frame interrupted, redelivering", "stream_id", key, "error", err)
				_ = msg.Nak()
				return
			}
			slog.Error("process frame error", "stream_id", key, "error", err, "subject", msg.Subject())
			_ = msg.Term()
			return
		}
		_ = msg.Ack()
	}, opts.LaneSize, opts.IdleTimeout, opts.OnIdle)

	fetchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-fetchCtx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(opts.Batch, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if fetchCtx.Err() != nil {
					return
				}
				slog.Warn("fetch frames error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := dispatcher.Dispatch(fetchCtx, streamKey(msg.Subject()), msg); err != nil {
					_ = msg.Nak()
				}
			}
		}
	}()

	slog.Info("frame consumer started", "consumer", consumerName, "batch", opts.Batch)

	stop := func() {
		cancel()
		<-done
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), opts.DrainTimeout)
		defer cancelDrain()
		if err := dispatcher.Shutdown(drainCtx); err != nil {
			slog.Warn("frame lanes not drained", "timeout", opts.DrainTimeout, "error", err)
		}
	}
	return stop, nil
}

// ConsumeResults starts consuming frame results (for the API to broadcast via WebSocket).
func (c *Consumer) ConsumeResults(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, ResultsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ResultsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: ResultsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process result error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("result consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
