// Package api provides the HTTP API for observing and steering the simulation.
// GET endpoints are public (read-only observation).
// POST /api/v1/intents requires a bearer token when an admin key is configured.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/talgya/tilesim/internal/engine"
	"github.com/talgya/tilesim/internal/logbuf"
	"github.com/talgya/tilesim/internal/unit"
	"github.com/talgya/tilesim/internal/world"
)

const (
	maxStreamConns = 8
	maxIntentBytes = 4 << 10
)

// Server serves the world state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Loop     *engine.Loop // Optional; reports whether ticks are running
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = no auth.
	WorldID  string

	StreamInterval   time.Duration // Snapshot push period for /stream
	IntentsPerMinute int           // Per-IP cap on POST /intents; 0 = unlimited
	ChunksPerMinute  int           // Per-IP cap on chunk reads; 0 = unlimited
	TrustProxy       bool          // Trust X-Forwarded-For for client addresses

	Logs *logbuf.Ring // Optional; serves /logs

	started     time.Time
	srv         *http.Server
	streamConns atomic.Int32
	upgrader    websocket.Upgrader
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	if s.StreamInterval <= 0 {
		s.StreamInterval = 250 * time.Millisecond
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	intents := s.authorized(s.handleIntent)
	if s.IntentsPerMinute > 0 {
		rl := NewRateLimiter(s.IntentsPerMinute, time.Minute)
		rl.TrustProxy = s.TrustProxy
		intents = RateLimitMiddleware(rl, intents)
	}
	chunks := http.HandlerFunc(s.handleChunk)
	if s.ChunksPerMinute > 0 {
		rl := NewRateLimiter(s.ChunksPerMinute, time.Minute)
		rl.TrustProxy = s.TrustProxy
		chunks = RateLimitMiddleware(rl, chunks)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/structures", s.handleStructures)
	mux.HandleFunc("GET /api/v1/units", s.handleUnits)
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/v1/chunk/{cx}/{cy}", chunks)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/logs", s.handleLogs)
	mux.HandleFunc("DELETE /api/v1/logs", s.authorized(s.handleClearLogs))
	mux.HandleFunc("POST /api/v1/intents", intents)
	return mux
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authorized requires the admin bearer token when one is configured.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey != "" && r.Header.Get("Authorization") != "Bearer "+s.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.Stats()
	running := false
	if s.Loop != nil {
		running = s.Loop.Running()
	}
	writeJSON(w, map[string]any{
		"name":          "tilesim",
		"world_id":      s.WorldID,
		"tick":          st.Tick,
		"running":       running,
		"started":       humanize.Time(s.started),
		"units":         st.Units,
		"idle":          st.Idle,
		"moving":        st.Moving,
		"structures":    st.Structures,
		"chunks_loaded": humanize.Comma(int64(st.Chunks)),
		"entities":      st.Entities,
		"jobs":          st.Jobs,
		"intents":       st.IntentsApplied,
		"intent_errors": st.IntentErrors,
	})
}

func (s *Server) handleStructures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot().Structures)
}

// handleUnits lists units, optionally filtered with ?state=idle|moving|working.
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	units := s.Sim.Snapshot().Units
	if want := r.URL.Query().Get("state"); want != "" {
		filtered := make([]unit.Unit, 0, len(units))
		for _, u := range units {
			if u.State.String() == want {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}
	writeJSON(w, units)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()
	writeJSON(w, map[string]any{
		"tick":  snap.Tick,
		"jobs":  snap.Jobs,
		"stats": snap.Stats.Jobs,
	})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	cx, err1 := strconv.Atoi(r.PathValue("cx"))
	cy, err2 := strconv.Atoi(r.PathValue("cy"))
	if err1 != nil || err2 != nil {
		http.Error(w, "chunk coordinates must be integers", http.StatusBadRequest)
		return
	}
	// Chunks are cached forever once generated; only serve the walkable area.
	if !s.Sim.ChunkInBounds(cx, cy) {
		http.Error(w, "chunk outside world bounds", http.StatusNotFound)
		return
	}
	ch := s.Sim.Chunk(cx, cy)
	tiles := make([]uint8, len(ch.Tiles))
	for i, t := range ch.Tiles {
		tiles[i] = uint8(t)
	}
	terrain := make(map[string]int)
	for t, n := range world.TerrainCounts(ch) {
		terrain[t.String()] = n
	}
	writeJSON(w, map[string]any{
		"cx":      ch.CX,
		"cy":      ch.CY,
		"size":    ch.Size,
		"tiles":   tiles, // Row-major, index = ly*size + lx
		"terrain": terrain,
	})
}

// handleLogs returns the retained log history, newest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.Logs == nil {
		writeJSON(w, []logbuf.Entry{})
		return
	}
	writeJSON(w, s.Logs.Entries())
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if s.Logs != nil {
		s.Logs.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIntentBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	in, err := decodeIntent(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Sim.Enqueue(in)
	slog.Debug("intent queued", "intent", in.Name(), "remote", clientIP(r, s.TrustProxy))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"queued": in.Name(),
		"tick":   s.Sim.Stats().Tick,
	})
}

// handleStream pushes the published snapshot over a WebSocket at StreamInterval.
// A snapshot is only sent when the tick has advanced.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streamConns.Add(1) > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	slog.Info("stream client connected", "remote", clientIP(r, s.TrustProxy))

	// Reader: observe close frames; clients send nothing else.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.StreamInterval)
	defer ticker.Stop()

	var lastTick uint64
	sent := false
	for {
		snap := s.Sim.Snapshot()
		if !sent || snap.Tick != lastTick {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				slog.Debug("stream write failed", "error", err)
				return
			}
			lastTick, sent = snap.Tick, true
		}

		select {
		case <-closed:
			slog.Info("stream client disconnected", "remote", clientIP(r, s.TrustProxy))
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
