package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/gorilla/websocket"

	"OctaFlight/internal/mavlink"
	"OctaFlight/internal/model"
	"OctaFlight/internal/nav"
	"OctaFlight/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (fixedClock) Sleep(context.Context, time.Duration) error { return nil }

type staticLink struct{ tel mavlink.Telemetry }

func (l staticLink) Telemetry() mavlink.Telemetry { return l.tel }

func dial(t *testing.T, srv *httptest.Server, hub *Hub) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return ev
}

func TestHubBroadcastsMission(t *testing.T) {
	hub := NewHub(fixedClock{t0}, func() uint64 { return 7 }, nil)
	srv := httptest.NewServer(NewServer("", hub).Handler())
	defer srv.Close()
	conn := dial(t, srv, hub)
	ctx := context.Background()

	hub.MissionStarted(ctx, nav.MissionState{Start: t0, Speed: 1}, make([]nav.Waypoint, 12))
	ev := readEvent(t, conn)
	if ev.Type != model.EventMissionStarted || ev.Run != 7 || ev.Mission == nil || ev.Mission.Waypoints != 12 {
		t.Fatalf("start event = %+v", ev)
	}

	hub.TransitTick(ctx, nav.TransitAttempt{Waypoint: 0, Update: 1, Remaining: 9, TimeLeft: 3 * time.Second, Speed: 3})
	ev = readEvent(t, conn)
	if ev.Type != model.EventTransitTick || ev.Tick == nil || ev.Tick.TimeLeft != 3 || ev.Tick.Speed != 3 {
		t.Fatalf("tick event = %+v", ev)
	}

	hub.WaypointDone(ctx, nav.WaypointResult{Index: 0, Outcome: nav.OutcomeArrived, Deadline: t0, Finished: t0.Add(time.Second)})
	ev = readEvent(t, conn)
	if ev.Type != model.EventWaypointDone || ev.Waypoint == nil || ev.Waypoint.Outcome != nav.OutcomeArrived || ev.Waypoint.Lateness != 1 {
		t.Fatalf("waypoint event = %+v", ev)
	}

	hub.MissionFinished(ctx, []nav.WaypointResult{{Outcome: nav.OutcomeArrived}}, errors.New("link lost"))
	ev = readEvent(t, conn)
	if ev.Type != model.EventMissionFinished || ev.Finished == nil || ev.Finished.Arrived != 1 || ev.Finished.Error != "link lost" {
		t.Fatalf("finish event = %+v", ev)
	}

	st := hub.Status()
	if st.Running || st.Run != 7 || st.Planned != 12 || len(st.Results) != 1 || st.Error != "link lost" {
		t.Fatalf("status = %+v", st)
	}
	if st.Last == nil || st.Last.Remaining != 9 {
		t.Fatalf("last tick = %+v", st.Last)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	srv := httptest.NewServer(NewServer("", hub).Handler())
	defer srv.Close()
	conn := dial(t, srv, hub)

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("closed client still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// broadcasting with no clients must not block or panic
	hub.TransitTick(context.Background(), nav.TransitAttempt{})
}

func TestHubDoesNotWaitForStalledClient(t *testing.T) {
	hub := NewHub(fixedClock{t0}, nil, nil)
	srv := httptest.NewServer(NewServer("", hub).Handler())
	defer srv.Close()
	dial(t, srv, hub) // never read from

	// enough ticks to fill the socket buffers many times over
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50000; i++ {
		hub.TransitTick(ctx, nav.TransitAttempt{Waypoint: i % 12, Update: i, Remaining: 40, TimeLeft: time.Minute, Speed: 3})
	}
	if took := time.Since(start); took >= writeWait {
		t.Fatalf("observer calls took %v behind a stalled client", took)
	}
	if st := hub.Status(); st.Last == nil || st.Last.Update != 49999 {
		t.Fatalf("status last tick = %+v", st.Last)
	}
}

func TestStatusEndpoint(t *testing.T) {
	hub := NewHub(fixedClock{t0}, nil, nil)
	link := staticLink{mavlink.Telemetry{
		SystemID:     1,
		Mode:         "GUIDED",
		Armed:        true,
		SystemStatus: common.MAV_STATE_ACTIVE,
		Satellites:   10,
		RelativeAlt:  10,
		Heartbeat:    t0,
	}}
	s := NewServer("", hub, WithLink(link))
	hub.MissionStarted(context.Background(), nav.MissionState{Index: 0, Start: t0}, make([]nav.Waypoint, 3))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Vehicle VehicleStatus `json:"vehicle"`
		Mission MissionStatus `json:"mission"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Vehicle.Connected || body.Vehicle.Mode != "GUIDED" || !body.Vehicle.Armed || body.Vehicle.RelativeAlt != 10 {
		t.Fatalf("vehicle = %+v", body.Vehicle)
	}
	if !body.Mission.Running || body.Mission.Planned != 3 {
		t.Fatalf("mission = %+v", body.Mission)
	}

	// no heartbeat yet
	s = NewServer("", hub, WithLink(staticLink{}))
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if strings.Contains(rr.Body.String(), `"connected":true`) {
		t.Fatalf("disconnected link reported connected: %s", rr.Body.String())
	}
}

func TestRunEndpoints(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "flights.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	s := NewServer("", NewHub(nil, nil, nil), WithRuns(st))
	h := s.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	if rr := get("/api/runs/latest"); rr.Code != http.StatusNotFound {
		t.Fatalf("latest on empty log = %d", rr.Code)
	}
	if rr := get("/api/runs"); rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("runs on empty log = %d %q", rr.Code, rr.Body.String())
	}

	for _, name := range []string{"a", "b"} {
		if _, err := st.Create(&model.RunRecord{Name: name}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var rec model.RunRecord
	rr := get("/api/runs/latest")
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil || rec.Name != "b" {
		t.Fatalf("latest = %+v, %v", rec, err)
	}
	rr = get("/api/runs/1")
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil || rec.Name != "a" {
		t.Fatalf("run 1 = %+v, %v", rec, err)
	}
	if rr := get("/api/runs/9"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing run = %d", rr.Code)
	}
	if rr := get("/api/runs/x"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", rr.Code)
	}
	var runs []model.RunRecord
	rr = get("/api/runs?limit=1")
	if err := json.NewDecoder(rr.Body).Decode(&runs); err != nil || len(runs) != 1 || runs[0].ID != 2 {
		t.Fatalf("runs?limit=1 = %+v, %v", runs, err)
	}
	if rr := get("/api/runs?limit=-1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative limit = %d", rr.Code)
	}
}

func TestRunEndpointsWithoutStore(t *testing.T) {
	s := NewServer("", NewHub(nil, nil, nil))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics without collector = %d", rr.Code)
	}
}
