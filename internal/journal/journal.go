// Package journal appends periodic world summaries to hourly zstd-compressed JSONL files.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/tilesim/internal/engine"
)

// Entry is one journal line. The job counters make starvation visible: a job
// that keeps resetting without completing shows up as Resets and Unreachable growing.
type Entry struct {
	Tick           uint64 `json:"tick"`
	Time           string `json:"time"`
	Units          int    `json:"units"`
	Idle           int    `json:"idle"`
	Moving         int    `json:"moving"`
	Working        int    `json:"working"`
	Structures     int    `json:"structures"`
	Chunks         int    `json:"chunks"`
	JobsAssigned   int    `json:"jobs_assigned"`
	JobsUnassigned int    `json:"jobs_unassigned"`
	JobsCompleted  uint64 `json:"jobs_completed"`
	Resets         uint64 `json:"resets"`
	Stale          uint64 `json:"stale"`
	Unreachable    uint64 `json:"unreachable"`
}

// EntryFromStats flattens simulation statistics into a journal entry.
func EntryFromStats(st engine.Stats, now time.Time) Entry {
	return Entry{
		Tick:           st.Tick,
		Time:           now.UTC().Format(time.RFC3339),
		Units:          st.Units,
		Idle:           st.Idle,
		Moving:         st.Moving,
		Working:        st.Working,
		Structures:     st.Structures,
		Chunks:         st.Chunks,
		JobsAssigned:   st.Jobs.Assigned,
		JobsUnassigned: st.Jobs.Unassigned,
		JobsCompleted:  st.Jobs.Completed,
		Resets:         st.Jobs.Resets,
		Stale:          st.Jobs.Stale,
		Unreachable:    st.Jobs.Unreached,
	}
}

// Writer rotates to a new file at each UTC hour boundary.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	hour  string
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
	lines uint64
}

// NewWriter creates a writer that places files under dir. Nothing is opened until
// the first Write.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

// Write appends v as one JSON line.
func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour {
		if err := w.rotate(hour); err != nil {
			return fmt.Errorf("journal rotate: %w", err)
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	w.lines++
	if err := w.buf.Flush(); err != nil {
		return err
	}
	// Push the pending block to the file so a crash loses at most the open frame trailer.
	return w.enc.Flush()
}

// Lines returns the number of entries written since creation.
func (w *Writer) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Path returns the file an entry written at t would go to.
func (w *Writer) Path(t time.Time) string {
	return w.pathFor(t.UTC().Format("2006-01-02-15"))
}

func (w *Writer) pathFor(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

func (w *Writer) rotate(hour string) error {
	if err := w.closeFile(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathFor(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *Writer) closeFile() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
		w.buf = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.hour = ""
	return err
}

// Close finishes the current zstd frame and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

// ErrQueueFull is returned when the journal goroutine has fallen behind.
var ErrQueueFull = errors.New("journal queue full")

// ErrClosed is returned by Observe after Close.
var ErrClosed = errors.New("journal closed")

// Journal records an entry every N ticks. Entries are written on a background
// goroutine so the tick never waits on disk.
type Journal struct {
	w     *Writer
	every uint64
	ch    chan Entry
	done  chan struct{}

	once   sync.Once
	mu     sync.RWMutex // Guards closed against a concurrent close(ch)
	closed bool
	err    error

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a journal under dir that records one entry per every ticks.
func New(dir string, every int) *Journal {
	if every <= 0 {
		every = 1
	}
	j := &Journal{
		w:     NewWriter(dir, "ticks"),
		every: uint64(every),
		ch:    make(chan Entry, 64),
		done:  make(chan struct{}),
	}
	go j.loop()
	return j
}

func (j *Journal) loop() {
	defer close(j.done)
	for e := range j.ch {
		if err := j.w.Write(e); err != nil {
			j.failed.Add(1)
			slog.Warn("journal write failed", "tick", e.Tick, "error", err)
		}
	}
}

// Observe queues an entry when the tick falls on the journal interval.
// It never blocks; a full queue drops the entry.
func (j *Journal) Observe(st engine.Stats) error {
	if st.Tick == 0 || st.Tick%j.every != 0 {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	select {
	case j.ch <- EntryFromStats(st, j.w.now()):
		return nil
	default:
		j.dropped.Add(1)
		return ErrQueueFull
	}
}

// Lines returns how many entries were written.
func (j *Journal) Lines() uint64 {
	return j.w.Lines()
}

// Dropped returns how many entries were discarded because the queue was full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close waits for queued entries, then flushes and closes the current file.
func (j *Journal) Close() error {
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()
		<-j.done
		j.err = j.w.Close()
		if n := j.failed.Load(); n > 0 && j.err == nil {
			j.err = fmt.Errorf("%d journal writes failed", n)
		}
	})
	return j.err
}
