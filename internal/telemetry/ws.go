package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Dashboard fans out progress/log/node-completed events to connected
// dashboard clients, one websocket connection per client, grouped by run
// id the same way the teacher groups timeline viewers by session id.
type Dashboard struct {
	mu          sync.Mutex
	connections map[string]map[*websocket.Conn]bool // runID -> set of conns
}

// NewDashboard constructs an empty fan-out registry.
func NewDashboard() *Dashboard {
	return &Dashboard{connections: map[string]map[*websocket.Conn]bool{}}
}

// HandleConnection upgrades conn's lifetime to subscribe it to runID's
// events until the context is cancelled or the connection errors.
func (d *Dashboard) HandleConnection(ctx context.Context, runID string, conn *websocket.Conn) {
	d.register(runID, conn)
	defer d.unregister(runID, conn)

	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return
		}
		// Dashboard connections are read-only subscribers; any client
		// message is ignored beyond keeping the read loop alive.
	}
}

func (d *Dashboard) register(runID string, conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connections[runID] == nil {
		d.connections[runID] = map[*websocket.Conn]bool{}
	}
	d.connections[runID][conn] = true
}

func (d *Dashboard) unregister(runID string, conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.connections[runID], conn)
}

// Broadcast sends ev, JSON-encoded, to every connection subscribed to
// ev.RunID. Write failures drop that connection silently; a slow or dead
// client never blocks other subscribers since each write runs
// independently in a short-lived goroutine.
func (d *Dashboard) Broadcast(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("dashboard broadcast: encode failed", "error", err)
		return
	}
	d.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.connections[ev.RunID]))
	for c := range d.connections[ev.RunID] {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		go func(c *websocket.Conn) {
			if err := c.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("dashboard write failed, dropping connection", "error", err)
				_ = c.CloseNow()
			}
		}(c)
	}
}
