// Package telemetry publishes mission progress to monitoring clients. The
// Hub is a nav.Observer that keeps the current mission status and
// broadcasts every event as JSON to connected websocket clients.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"OctaFlight/internal/geo"
	"OctaFlight/internal/model"
	"OctaFlight/internal/nav"
)

const (
	writeWait = 2 * time.Second
	// sendQueue is how many events a client may fall behind before it is
	// dropped.
	sendQueue = 64
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// MissionStatus is the hub's view of the mission in flight.
type MissionStatus struct {
	Running  bool                   `json:"running"`
	Run      uint64                 `json:"run,omitempty"`
	Home     geo.Location           `json:"home"`
	Planned  int                    `json:"planned"`
	Index    int                    `json:"index"`
	Last     *model.TickInfo        `json:"last_tick,omitempty"`
	Results  []model.WaypointRecord `json:"results"`
	Started  time.Time              `json:"started"`
	Finished time.Time              `json:"finished"`
	Error    string                 `json:"error,omitempty"`
}

// client owns one websocket; only its writer goroutine writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket clients.
type Hub struct {
	clock nav.Clock
	log   *slog.Logger
	runID func() uint64

	mu      sync.Mutex
	clients map[*client]bool

	stMu   sync.RWMutex
	status MissionStatus
}

// NewHub returns a Hub with no clients. runID, when not nil, stamps each
// event with the flight log run it belongs to.
func NewHub(clock nav.Clock, runID func() uint64, log *slog.Logger) *Hub {
	if clock == nil {
		clock = nav.WallClock()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if runID == nil {
		runID = func() uint64 { return 0 }
	}
	return &Hub{
		clock:   clock,
		log:     log.With("component", "telemetry"),
		runID:   runID,
		clients: map[*client]bool{},
		status:  MissionStatus{Results: []model.WaypointRecord{}},
	}
}

// Status returns a copy of the current mission status.
func (h *Hub) Status() MissionStatus {
	h.stMu.RLock()
	defer h.stMu.RUnlock()
	st := h.status
	st.Results = append([]model.WaypointRecord(nil), h.status.Results...)
	return st
}

// Clients reports how many websocket clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and registers the client
// for broadcasts. Anything the client sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Debug("client connected", "remote", r.RemoteAddr)

	go h.write(c)
	go func() {
		defer h.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// write drains the client's queue until drop closes it.
func (h *Hub) write(c *client) {
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.Debug("websocket write", "err", err)
			h.drop(c)
			return
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	cs := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	for _, c := range cs {
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		if err := c.conn.Close(); err != nil {
			h.log.Debug("close websocket", "err", err)
		}
	}
}

// broadcast queues ev for every client without waiting on the network.
// A client whose queue is full is dropped.
func (h *Hub) broadcast(ev model.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.log.Warn("dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.drop(c)
	}
}

func (h *Hub) event(typ string) model.Event {
	return model.Event{Type: typ, Run: h.runID(), Time: h.clock.Now()}
}

func (h *Hub) MissionStarted(_ context.Context, st nav.MissionState, wps []nav.Waypoint) {
	ev := h.event(model.EventMissionStarted)
	ev.Mission = &model.MissionInfo{Home: st.Home, Waypoints: len(wps), Speed: st.Speed}

	h.stMu.Lock()
	h.status = MissionStatus{
		Running: true,
		Run:     ev.Run,
		Home:    st.Home,
		Planned: len(wps),
		Results: []model.WaypointRecord{},
		Started: st.Start,
	}
	h.stMu.Unlock()
	h.broadcast(ev)
}

func (h *Hub) TransitTick(_ context.Context, at nav.TransitAttempt) {
	ev := h.event(model.EventTransitTick)
	ev.Tick = model.NewTickInfo(at)

	h.stMu.Lock()
	h.status.Index = at.Waypoint
	h.status.Last = ev.Tick
	h.stMu.Unlock()
	h.broadcast(ev)
}

func (h *Hub) WaypointDone(_ context.Context, res nav.WaypointResult) {
	rec := model.NewWaypointRecord(res)
	ev := h.event(model.EventWaypointDone)
	ev.Waypoint = &rec

	h.stMu.Lock()
	h.status.Results = append(h.status.Results, rec)
	h.stMu.Unlock()
	h.broadcast(ev)
}

func (h *Hub) MissionFinished(_ context.Context, results []nav.WaypointResult, err error) {
	ev := h.event(model.EventMissionFinished)
	ev.Finished = model.NewFinishInfo(results, err)

	h.stMu.Lock()
	h.status.Running = false
	h.status.Finished = ev.Time
	h.status.Error = ev.Finished.Error
	h.stMu.Unlock()
	h.broadcast(ev)
}
