// Package logbuf keeps the most recent log records in memory so observers can
// read them over the API.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSize is how many entries a ring keeps when no size is given.
const DefaultSize = 50

// Entry is one retained log record.
type Entry struct {
	ID      uint64         `json:"id"`
	Time    time.Time      `json:"timestamp"`
	Message string         `json:"message"`
	Type    string         `json:"type"` // debug, info, warn or error
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a fixed-size history; adding to a full ring evicts the oldest entry.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	start   int // Index of the oldest entry
	n       int
	nextID  uint64
}

// NewRing creates a ring holding up to size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{entries: make([]Entry, size)}
}

// Add stores e with the next id and returns that id.
func (r *Ring) Add(e Entry) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.nextID
	r.nextID++
	if r.n < len(r.entries) {
		r.entries[(r.start+r.n)%len(r.entries)] = e
		r.n++
	} else {
		r.entries[r.start] = e
		r.start = (r.start + 1) % len(r.entries)
	}
	return e.ID
}

// Entries returns a copy of the history, newest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.entries[(r.start+r.n-1-i)%len(r.entries)]
	}
	return out
}

// Len returns how many entries are held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Clear drops every entry. Ids keep increasing.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
	r.start, r.n = 0, 0
}

// Handler copies records at or above Level into a Ring, then passes them on.
type Handler struct {
	next   slog.Handler
	ring   *Ring
	level  slog.Leveler
	attrs  []slog.Attr // Bound with WithAttrs, keys already prefixed
	prefix string      // Open groups joined with "."
}

// NewHandler wraps next. A nil level records Info and above.
func NewHandler(next slog.Handler, ring *Ring, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{next: next, ring: ring, level: level}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= h.level.Level() {
		e := Entry{
			Time:    rec.Time,
			Message: rec.Message,
			Type:    levelName(rec.Level),
		}
		if len(h.attrs) > 0 || rec.NumAttrs() > 0 {
			e.Attrs = make(map[string]any, len(h.attrs)+rec.NumAttrs())
			for _, a := range h.attrs {
				putAttr(e.Attrs, "", a)
			}
			rec.Attrs(func(a slog.Attr) bool {
				putAttr(e.Attrs, h.prefix, a)
				return true
			})
		}
		h.ring.Add(e)
	}
	return h.next.Handle(ctx, rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(c.attrs, h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

// putAttr flattens groups into dotted keys.
func putAttr(m map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			putAttr(m, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if err, ok := v.Any().(error); ok {
		m[prefix+a.Key] = err.Error()
		return
	}
	m[prefix+a.Key] = v.Any()
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
