package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/tilesim/internal/engine"
	"github.com/talgya/tilesim/internal/job"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJournalWritesEveryNTicks(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, 10)
	fixed := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	j.w.now = func() time.Time { return fixed }

	for tick := uint64(1); tick <= 35; tick++ {
		st := engine.Stats{Tick: tick, Units: 2, Idle: 1, Moving: 1, Jobs: job.Stats{Resets: tick}}
		if err := j.Observe(st); err != nil {
			t.Fatalf("Observe(%d): %v", tick, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "ticks-2026-03-01-12.jsonl.zst"))
	if len(entries) != 3 || j.Lines() != 3 {
		t.Fatalf("entries: %d lines: %d, want 3", len(entries), j.Lines())
	}
	for i, e := range entries {
		want := uint64(10 * (i + 1))
		if e.Tick != want || e.Resets != want || e.Units != 2 || e.Moving != 1 {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "ticks")
	now := time.Date(2026, 3, 1, 12, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(Entry{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(Entry{Tick: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readEntries(t, w.Path(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	second := readEntries(t, w.Path(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)))
	if len(first) != 1 || first[0].Tick != 1 || len(second) != 1 || second[0].Tick != 2 {
		t.Fatalf("rotation: first=%+v second=%+v", first, second)
	}
}

func TestObserveAfterCloseIsRejected(t *testing.T) {
	j := New(t.TempDir(), 1)
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := j.Observe(engine.Stats{Tick: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("observe after close: got %v", err)
	}
	// Off-interval ticks are ignored before the closed check.
	if err := j.Observe(engine.Stats{Tick: 0}); err != nil {
		t.Fatalf("tick 0: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestWriteReachesFileBeforeClose(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "ticks")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	defer w.Close()

	if err := w.Write(Entry{Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(w.Path(now))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("entry still buffered in the encoder")
	}
}

func TestEntryFromStats(t *testing.T) {
	st := engine.Stats{
		Tick:       7,
		Structures: 3,
		Chunks:     4,
		Jobs:       job.Stats{Assigned: 1, Unassigned: 2, Completed: 5, Stale: 1, Unreached: 9},
	}
	e := EntryFromStats(st, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if e.Tick != 7 || e.Structures != 3 || e.Chunks != 4 || e.JobsAssigned != 1 ||
		e.JobsUnassigned != 2 || e.JobsCompleted != 5 || e.Stale != 1 || e.Unreachable != 9 {
		t.Fatalf("entry: %+v", e)
	}
	if e.Time != "2026-01-02T03:04:05Z" {
		t.Fatalf("time: %s", e.Time)
	}
}
