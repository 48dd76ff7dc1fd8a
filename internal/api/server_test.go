package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/tilesim/internal/config"
	"github.com/talgya/tilesim/internal/engine"
	"github.com/talgya/tilesim/internal/job"
	"github.com/talgya/tilesim/internal/logbuf"
	"github.com/talgya/tilesim/internal/structure"
	"github.com/talgya/tilesim/internal/unit"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.World.Width = 32
	cfg.World.Height = 32
	s := &Server{
		Sim:            engine.NewSimulation(cfg),
		WorldID:        "test-world",
		StreamInterval: 10 * time.Millisecond,
	}
	return s, s.Handler()
}

func do(h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["world_id"] != "test-world" || body["tick"].(float64) != 0 || body["running"] != false {
		t.Fatalf("body: %v", body)
	}
}

func TestIntentQueuedUntilNextTick(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(h, http.MethodPost, "/api/v1/intents", `{"type":"place_building","x":3,"y":4,"structure":"house"}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code %d: %s", rec.Code, rec.Body.String())
	}

	var before []structure.Structure
	json.Unmarshal(do(h, http.MethodGet, "/api/v1/structures", "", nil).Body.Bytes(), &before)
	if len(before) != 0 {
		t.Fatalf("intent applied before tick: %+v", before)
	}

	s.Sim.Update(50 * time.Millisecond)

	var after []structure.Structure
	json.Unmarshal(do(h, http.MethodGet, "/api/v1/structures", "", nil).Body.Bytes(), &after)
	if len(after) != 1 || after[0].X != 3 || after[0].Y != 4 || after[0].Type != structure.TypeHouse {
		t.Fatalf("structures: %+v", after)
	}
}

func TestIntentValidation(t *testing.T) {
	_, h := newTestServer(t)
	bad := []string{
		`not json`,
		`{"x":1,"y":1}`,
		`{"type":"teleport","x":1,"y":1}`,
		`{"type":"place_building","x":1,"y":1}`,
		`{"type":"place_building","x":1.5,"y":1,"structure":"house"}`,
		`{"type":"place_building","x":1,"y":1,"structure":"castle"}`,
		`{"type":"interact","x":1,"y":1,"color":"red"}`,
		`{"type":"queue_job","kind":"build","x":1,"y":1}`,
		`{"type":"queue_job","kind":"dig","x":1,"y":1}`,
		`{"type":"spawn_unit","x":1}`,
	}
	for _, body := range bad {
		if rec := do(h, http.MethodPost, "/api/v1/intents", body, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: code %d want 400", body, rec.Code)
		}
	}

	good := []string{
		`{"type":"interact","x":2,"y":2}`,
		`{"type":"interact","x":2,"y":2,"unit_id":1}`,
		`{"type":"spawn_unit","x":1.5,"y":2}`,
		`{"type":"queue_job","kind":"move","x":1,"y":1,"priority":3}`,
		`{"type":"queue_job","kind":"build","x":1,"y":1,"structure":"wall"}`,
	}
	for _, body := range good {
		if rec := do(h, http.MethodPost, "/api/v1/intents", body, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("%s: code %d want 202 (%s)", body, rec.Code, rec.Body.String())
		}
	}
}

func TestDecodeIntentTypes(t *testing.T) {
	in, err := decodeIntent([]byte(`{"type":"queue_job","kind":"build","x":4,"y":5,"priority":2,"structure":"wall"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	q, ok := in.(engine.QueueJob)
	if !ok || q.X != 4 || q.Y != 5 || q.Priority != 2 || q.Type != structure.TypeWall {
		t.Fatalf("queue job: %#v", in)
	}

	in, err = decodeIntent([]byte(`{"type":"queue_job","kind":"move","x":1,"y":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q := in.(engine.QueueJob); q.Priority != job.DefaultPriority {
		t.Fatalf("omitted priority: got %d want %d", q.Priority, job.DefaultPriority)
	}
	in, err = decodeIntent([]byte(`{"type":"queue_job","kind":"move","x":1,"y":1,"priority":0}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q := in.(engine.QueueJob); q.Priority != 0 {
		t.Fatalf("explicit zero priority: got %d", q.Priority)
	}

	in, err = decodeIntent([]byte(`{"type":"interact","x":7,"y":8,"unit_id":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if it, ok := in.(engine.Interact); !ok || it.Tile.X != 7 || it.Tile.Y != 8 || it.UnitID != 3 {
		t.Fatalf("interact: %#v", in)
	}
}

func TestIntentRequiresBearerWhenConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	s.AdminKey = "secret"
	h := s.Handler()
	body := `{"type":"spawn_unit","x":1,"y":1}`

	if rec := do(h, http.MethodPost, "/api/v1/intents", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/v1/intents", body, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/v1/intents", body, map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusAccepted {
		t.Fatalf("good token: code %d", rec.Code)
	}
}

func TestIntentRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	s.IntentsPerMinute = 2
	h := s.Handler()
	body := `{"type":"spawn_unit","x":1,"y":1}`

	for i := 0; i < 2; i++ {
		if rec := do(h, http.MethodPost, "/api/v1/intents", body, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: code %d", i, rec.Code)
		}
	}
	rec := do(h, http.MethodPost, "/api/v1/intents", body, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("third request: code %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestChunkEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodGet, "/api/v1/chunk/1/0", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d", rec.Code)
	}
	var body struct {
		CX, CY, Size int
		Tiles        []uint8
		Terrain      map[string]int
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CX != 1 || body.CY != 0 || body.Size != 16 || len(body.Tiles) != 256 {
		t.Fatalf("chunk: cx=%d cy=%d size=%d tiles=%d", body.CX, body.CY, body.Size, len(body.Tiles))
	}
	total := 0
	for _, n := range body.Terrain {
		total += n
	}
	if total != 256 {
		t.Fatalf("terrain counts sum to %d: %v", total, body.Terrain)
	}

	if rec := do(h, http.MethodGet, "/api/v1/chunk/a/1", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad coords: code %d", rec.Code)
	}
}

func TestChunkOutsideBoundsIsNotGenerated(t *testing.T) {
	s, h := newTestServer(t)

	// A 32x32 world is covered by chunks 0..1 on each axis.
	for _, path := range []string{
		"/api/v1/chunk/0/-1",
		"/api/v1/chunk/2/0",
		"/api/v1/chunk/0/2",
		"/api/v1/chunk/9223372036854775807/0",
		"/api/v1/chunk/-9223372036854775808/0",
	} {
		if rec := do(h, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: code %d want 404", path, rec.Code)
		}
	}
	for i := 0; i < 500; i++ {
		do(h, http.MethodGet, fmt.Sprintf("/api/v1/chunk/%d/-5000000", 1000000+i), "", nil)
	}

	s.Sim.Update(50 * time.Millisecond)
	if n := s.Sim.Stats().Chunks; n != 0 {
		t.Fatalf("resident chunks after out-of-bounds reads: %d", n)
	}
}

func TestChunkRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	s.ChunksPerMinute = 3
	h := s.Handler()

	for i := 0; i < 3; i++ {
		if rec := do(h, http.MethodGet, "/api/v1/chunk/0/0", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: code %d", i, rec.Code)
		}
	}
	if rec := do(h, http.MethodGet, "/api/v1/chunk/0/0", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("fourth request: code %d", rec.Code)
	}
	// Other reads are not limited.
	if rec := do(h, http.MethodGet, "/api/v1/status", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("status: code %d", rec.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	body := `{"type":"spawn_unit","x":1,"y":1}`
	for _, trust := range []bool{false, true} {
		s, _ := newTestServer(t)
		s.IntentsPerMinute = 1
		s.TrustProxy = trust
		h := s.Handler()

		first := do(h, http.MethodPost, "/api/v1/intents", body, map[string]string{"X-Forwarded-For": "10.0.0.1"})
		second := do(h, http.MethodPost, "/api/v1/intents", body, map[string]string{"X-Forwarded-For": "10.0.0.2"})
		if first.Code != http.StatusAccepted {
			t.Fatalf("trust=%v first: code %d", trust, first.Code)
		}
		want := http.StatusTooManyRequests
		if trust {
			want = http.StatusAccepted
		}
		if second.Code != want {
			t.Fatalf("trust=%v second: code %d want %d", trust, second.Code, want)
		}
	}
}

func TestLogsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.AdminKey = "secret"
	s.Logs = logbuf.NewRing(logbuf.DefaultSize)
	h := s.Handler()

	s.Logs.Add(logbuf.Entry{Message: "first", Type: "info"})
	s.Logs.Add(logbuf.Entry{Message: "second", Type: "warn"})

	var got []logbuf.Entry
	if err := json.Unmarshal(do(h, http.MethodGet, "/api/v1/logs", "", nil).Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Message != "second" || got[1].Message != "first" {
		t.Fatalf("logs: %+v", got)
	}

	if rec := do(h, http.MethodDelete, "/api/v1/logs", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("clear without token: code %d", rec.Code)
	}
	if rec := do(h, http.MethodDelete, "/api/v1/logs", "", map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusNoContent {
		t.Fatalf("clear: code %d", rec.Code)
	}
	if s.Logs.Len() != 0 {
		t.Fatalf("logs not cleared")
	}
}

func TestUnitsFilter(t *testing.T) {
	s, h := newTestServer(t)
	s.Sim.SpawnUnit(1, 1)
	s.Sim.SpawnUnit(2, 2)
	s.Sim.Update(50 * time.Millisecond)

	var idle, moving []unit.Unit
	json.Unmarshal(do(h, http.MethodGet, "/api/v1/units?state=idle", "", nil).Body.Bytes(), &idle)
	json.Unmarshal(do(h, http.MethodGet, "/api/v1/units?state=moving", "", nil).Body.Bytes(), &moving)
	if len(idle) != 2 || len(moving) != 0 {
		t.Fatalf("idle=%d moving=%d", len(idle), len(moving))
	}
}

func TestStreamPushesNewTicks(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first engine.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Tick != 0 {
		t.Fatalf("first tick: %d", first.Tick)
	}

	s.Sim.Update(50 * time.Millisecond)

	var next engine.Snapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read: %v", err)
	}
	if next.Tick != 1 {
		t.Fatalf("next tick: %d", next.Tick)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatalf("first window")
	}
	if !rl.Allow("b") {
		t.Fatalf("other ip should be independent")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Fatalf("retry after: %d", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatalf("new window should allow")
	}
}
