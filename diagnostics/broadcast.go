package diagnostics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
)

// FrameStats is one frame's worth of counters periodically pushed to
// live-stats clients.
type FrameStats struct {
	SplatsDrawn    uint32
	PagesResident  uint32
	FetchQueueDepth int
	SortLatency    time.Duration
}

// Summary renders a human-readable line using the same byte/count
// formatting idiom (dustin/go-humanize) the corpus reaches for whenever a
// raw count needs a readable label.
func (s FrameStats) Summary() string {
	return humanize.Comma(int64(s.SplatsDrawn)) + " splats, " +
		humanize.Comma(int64(s.PagesResident)) + " pages resident, " +
		humanize.Comma(int64(s.FetchQueueDepth)) + " queued, sort " +
		s.SortLatency.String()
}

// Hub fans FrameStats out to every connected WebSocket client, mirroring
// the retrieved corpus's observer-server hub: one upgrade handler, a
// per-client buffered outbound channel, and a broadcast that drops slow
// readers rather than blocking the frame loop.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	out  chan []byte
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades incoming requests and registers them as broadcast
// targets until the connection closes.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &client{conn: conn, out: make(chan []byte, 32)}

		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			_ = conn.Close()
		}()

		for msg := range c.out {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Broadcast sends stats to every connected client, dropping it for clients
// whose outbound buffer is full rather than stalling the caller.
func (h *Hub) Broadcast(stats FrameStats) {
	payload, err := json.Marshal(struct {
		SplatsDrawn     uint32 `json:"splats_drawn"`
		PagesResident   uint32 `json:"pages_resident"`
		FetchQueueDepth int    `json:"fetch_queue_depth"`
		SortLatencyMs   float64 `json:"sort_latency_ms"`
		Summary         string `json:"summary"`
	}{
		SplatsDrawn:     stats.SplatsDrawn,
		PagesResident:   stats.PagesResident,
		FetchQueueDepth: stats.FetchQueueDepth,
		SortLatencyMs:   stats.SortLatency.Seconds() * 1000,
		Summary:         stats.Summary(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- payload:
		default:
		}
	}
}

// Close disconnects every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.out)
		delete(h.clients, c)
	}
}
