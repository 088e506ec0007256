package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWriterCapacity = 256
	writeMaxAttempts      = 3
	writeRetryStep        = 300 * time.Millisecond
)

type writeCmd struct {
	name    string
	fn      func(context.Context) error
	barrier chan struct{}
}

// WriterQueue applies storage writes in order on a background goroutine,
// retrying failed writes with a linear backoff. Commands past the soft
// capacity are kept in order rather than dropped or reordered.
type WriterQueue struct {
	logger   *slog.Logger
	capacity int
	kick     chan struct{}

	mu      sync.Mutex
	pending []writeCmd
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WriterQueue{
		logger:   logger,
		capacity: capacity,
		kick:     make(chan struct{}, 1),
	}
}

// Enqueue never blocks the caller.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	w.push(writeCmd{name: name, fn: fn})
}

func (w *WriterQueue) push(cmd writeCmd) {
	w.mu.Lock()
	w.pending = append(w.pending, cmd)
	backlog := len(w.pending)
	w.mu.Unlock()

	if backlog == w.capacity+1 {
		w.logger.Warn("write queue over capacity", "cmd", cmd.name, "capacity", w.capacity)
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *WriterQueue) take() []writeCmd {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.pending
	w.pending = nil

	return batch
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.kick:
			}
			for _, cmd := range w.take() {
				if cmd.barrier != nil {
					close(cmd.barrier)
					continue
				}
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

// Flush waits until every command queued before the call has been applied.
func (w *WriterQueue) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	w.push(writeCmd{name: "flush", barrier: barrier})

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of commands not yet picked up by the writer.
func (w *WriterQueue) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.pending)
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writeMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * writeRetryStep):
		}
	}
}
