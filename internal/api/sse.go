package api

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/gin-gonic/gin"
)

// eventHub fans out run telemetry to SSE subscribers, one buffered
// channel per connected client, grouped by run id. Mirrors
// telemetry.Dashboard's registration shape but speaks gin's SSE helper
// instead of a websocket frame.
type eventHub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: map[string]map[chan []byte]bool{}}
}

// Broadcast delivers a JSON-encodable telemetry event to every SSE
// subscriber of runID. Accepts any payload implementing the shape
// telemetry.Event already provides, kept generic here so api need not
// import telemetry just to re-export its type.
func (h *eventHub) Broadcast(runID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	chans := make([]chan []byte, 0, len(h.subs[runID]))
	for ch := range h.subs[runID] {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- data:
		default:
			// slow subscriber, drop rather than block the broadcaster
		}
	}
}

func (h *eventHub) subscribe(runID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = map[chan []byte]bool{}
	}
	h.subs[runID][ch] = true
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(runID string, ch chan []byte) {
	h.mu.Lock()
	delete(h.subs[runID], ch)
	h.mu.Unlock()
}

// handleRunEvents streams run telemetry as Server-Sent Events until the
// client disconnects.
func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")
	ch := s.hub.subscribe(runID)
	defer s.hub.unsubscribe(runID, ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case data, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("telemetry", string(data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
