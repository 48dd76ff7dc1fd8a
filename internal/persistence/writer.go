package persistence

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talgya/tilesim/internal/structure"
)

// ErrQueueFull is returned when the writer cannot accept another record.
var ErrQueueFull = errors.New("persistence queue full")

// ErrWriterClosed is returned for saves after Close.
var ErrWriterClosed = errors.New("persistence writer closed")

// Store is the synchronous backend a Writer drains into.
type Store interface {
	SaveStructure(rec structure.Record) error
}

// WriterStats reports queue health.
type WriterStats struct {
	Written       uint64 `json:"written"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

// Writer saves structures on a background goroutine so callers never wait on disk.
type Writer struct {
	store Store
	ch    chan structure.Record

	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex // Guards closed against a concurrent close(ch)
	closed bool

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewWriter starts a writer with room for capacity pending records.
func NewWriter(store Store, capacity int) *Writer {
	if capacity <= 0 {
		capacity = 1024
	}
	w := &Writer{
		store: store,
		ch:    make(chan structure.Record, capacity),
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
	return w
}

// SaveStructure queues a record. It never blocks; a full queue drops the record.
func (w *Writer) SaveStructure(rec structure.Record) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.ch <- rec:
		return nil
	default:
		w.dropped.Add(1)
		slog.Warn("structure save dropped", "x", rec.X, "y", rec.Y, "reason", "queue full")
		return ErrQueueFull
	}
}

func (w *Writer) loop() {
	for rec := range w.ch {
		if err := w.store.SaveStructure(rec); err != nil {
			w.failed.Add(1)
			slog.Error("structure save failed", "x", rec.X, "y", rec.Y, "error", err)
			continue
		}
		w.written.Add(1)
	}
}

// Close stops accepting records and waits until every queued record is written.
func (w *Writer) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.ch)
		w.mu.Unlock()
		w.wg.Wait()
	})
}

// Stats returns counters and the current queue depth.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written:       w.written.Load(),
		Failed:        w.failed.Load(),
		Dropped:       w.dropped.Load(),
		QueueDepth:    len(w.ch),
		QueueCapacity: cap(w.ch),
	}
}
