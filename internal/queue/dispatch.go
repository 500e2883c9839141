package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/your-org/pitchtrack/internal/observability"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher fans items out to one goroutine per key. Items with the same key
// are handled strictly in dispatch order; different keys run in parallel.
// A lane that stays empty for the idle timeout exits and reports its key.
//
// Handlers run on the dispatcher's own context, not the one passed to
// Dispatch, so cancelling intake does not fail items that are already queued.
type Dispatcher[T any] struct {
	ctx       context.Context
	abort     context.CancelFunc
	handle    func(ctx context.Context, key string, item T)
	onIdle    func(key string)
	queueSize int
	idle      time.Duration

	mu     sync.Mutex
	lanes  map[string]*lane[T]
	closed bool
	wg     sync.WaitGroup
}

type lane[T any] struct {
	ch      chan T
	pending int // sends in flight or buffered, guarded by Dispatcher.mu
}

// NewDispatcher returns a running dispatcher. onIdle may be nil; idle <= 0
// keeps lanes forever.
func NewDispatcher[T any](handle func(ctx context.Context, key string, item T), queueSize int, idle time.Duration, onIdle func(key string)) *Dispatcher[T] {
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, abort := context.WithCancel(context.Background())
	return &Dispatcher[T]{
		ctx:       ctx,
		abort:     abort,
		handle:    handle,
		onIdle:    onIdle,
		queueSize: queueSize,
		idle:      idle,
		lanes:     make(map[string]*lane[T]),
	}
}

// Dispatch queues item on key's lane, blocking while the lane is full. ctx
// only bounds that wait.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, key string, item T) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	l, ok := d.lanes[key]
	if !ok {
		l = &lane[T]{ch: make(chan T, d.queueSize)}
		d.lanes[key] = l
		d.wg.Add(1)
		go d.run(key, l)
	}
	l.pending++
	d.mu.Unlock()
	observability.QueueDepth.Inc()

	select {
	case l.ch <- item:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		l.pending--
		d.mu.Unlock()
		observability.QueueDepth.Dec()
		return ctx.Err()
	}
}

func (d *Dispatcher[T]) run(key string, l *lane[T]) {
	defer d.wg.Done()

	var timeout <-chan time.Time
	var timer *time.Timer
	if d.idle > 0 {
		timer = time.NewTimer(d.idle)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case item, ok := <-l.ch:
			if !ok {
				return
			}
			d.mu.Lock()
			l.pending--
			d.mu.Unlock()
			observability.QueueDepth.Dec()

			d.handle(d.ctx, key, item)

			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.idle)
			}
		case <-timeout:
			d.mu.Lock()
			if l.pending > 0 || d.closed {
				d.mu.Unlock()
				timer.Reset(d.idle)
				continue
			}
			delete(d.lanes, key)
			d.mu.Unlock()
			if d.onIdle != nil {
				d.onIdle(key)
			}
			return
		}
	}
}

// Lanes is the number of live per-key goroutines.
func (d *Dispatcher[T]) Lanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

// Close stops accepting items, lets every lane drain and waits for them.
// It must not be called concurrently with Dispatch.
func (d *Dispatcher[T]) Close() {
	_ = d.Shutdown(context.Background())
}

// Shutdown is Close with a deadline. When ctx ends before the lanes have
// drained, the handlers' context is cancelled so the remaining items fail
// fast, and ctx's error is returned once every lane has exited.
func (d *Dispatcher[T]) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, l := range d.lanes {
			close(l.ch)
		}
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.abort()
		return nil
	case <-ctx.Done():
		d.abort()
		<-drained
		return ctx.Err()
	}
}
