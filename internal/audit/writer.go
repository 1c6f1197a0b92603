package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"agentgate/internal/domain"
)

const (
	defaultBuffer      = 1024
	defaultSinkTimeout = 5 * time.Second
)

// WriterConfig holds dependencies for the Writer.
type WriterConfig struct {
	Sinks       []domain.AuditSink
	Buffer      int
	SinkTimeout time.Duration
	Logger      *slog.Logger
	// OnDrop and OnError are optional hooks, used for metrics.
	OnDrop  func()
	OnError func(error)
}

// Writer serialises audit appends through a single goroutine. Record never
// blocks the caller: when the buffer is full the record is dropped with a
// warning. Sink failures are logged and never reach the request path.
type Writer struct {
	records chan domain.AuditRecord
	sinks   []domain.AuditSink
	timeout time.Duration
	logger  *slog.Logger
	onDrop  func()
	onError func(error)

	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWriter starts the writer goroutine.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Writer{
		records: make(chan domain.AuditRecord, cfg.Buffer),
		sinks:   cfg.Sinks,
		timeout: cfg.SinkTimeout,
		logger:  cfg.Logger,
		onDrop:  cfg.OnDrop,
		onError: cfg.OnError,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record enqueues rec. It reports whether the record was accepted.
func (w *Writer) Record(rec domain.AuditRecord) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(rec, "writer closed")
		return false
	}
	select {
	case w.records <- rec:
		return true
	default:
		w.drop(rec, "buffer full")
		return false
	}
}

func (w *Writer) drop(rec domain.AuditRecord, why string) {
	w.dropped.Add(1)
	w.logger.Warn("audit record dropped",
		"reason", why,
		"id", rec.ID,
		"action", rec.ActionName,
		"outcome", rec.Outcome,
	)
	if w.onDrop != nil {
		w.onDrop()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for rec := range w.records {
		w.write(rec)
	}
}

func (w *Writer) write(rec domain.AuditRecord) {
	for _, s := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := s.Append(ctx, rec)
		cancel()
		if err != nil {
			w.logger.Warn("audit sink append failed", "id", rec.ID, "err", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
	w.written.Add(1)
}

// Dropped is the number of records lost to a full buffer or a closed writer.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Written is the number of records handed to the sinks.
func (w *Writer) Written() int64 { return w.written.Load() }

// Pending is the number of buffered records.
func (w *Writer) Pending() int { return len(w.records) }

// Close stops accepting records, drains the buffer and closes every sink.
// It gives up waiting for the drain when ctx is done.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.records)
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, s := range w.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
