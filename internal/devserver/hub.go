package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelayoade/fieldsync/internal/transport"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = (hubPongWait * 9) / 10
)

// hubClient is one connected device.
type hubClient struct {
	deviceID string
	conn     *websocket.Conn
	send     chan []byte
}

// broadcast pairs a frame with the device that caused it, so the origin
// doesn't hear its own change echoed back.
type broadcast struct {
	frame         []byte
	excludeDevice string
}

// Hub fans accepted changes out to every other connected device.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *hubClient
	unregister chan *hubClient
	broadcasts chan broadcast
	done       chan struct{}
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]bool
}

// NewHub creates an idle hub; call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcasts: make(chan broadcast, 64),
		done:       make(chan struct{}),
		logger:     logger,
		clients:    make(map[*hubClient]bool),
	}
}

// Run processes registrations and broadcasts until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("hub: device connected", "device", c.deviceID)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("hub: device disconnected", "device", c.deviceID)

		case b := <-h.broadcasts:
			h.mu.Lock()
			for c := range h.clients {
				if c.deviceID != "" && c.deviceID == b.excludeDevice {
					continue
				}
				select {
				case c.send <- b.frame:
				default:
					// Slow consumer: drop it rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Broadcast queues an entity change for fan-out.
func (h *Hub) Broadcast(msgType transport.MessageType, upd transport.ServerUpdate, excludeDevice string) {
	payload, err := json.Marshal(upd)
	if err != nil {
		h.logger.Warn("hub: marshal update", "err", err)
		return
	}
	frame, err := json.Marshal(transport.Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Warn("hub: marshal frame", "err", err)
		return
	}

	select {
	case h.broadcasts <- broadcast{frame: frame, excludeDevice: excludeDevice}:
	case <-h.done:
	}
}

// HandleUpgrade upgrades an HTTP request to a websocket and attaches the
// device to the hub.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("hub: upgrade", "err", err)
		return
	}

	c := &hubClient{
		deviceID: r.Header.Get("X-Device-ID"),
		conn:     conn,
		send:     make(chan []byte, 64),
	}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// readPump drains client frames (only control frames are expected) and
// unregisters on error.
func (c *hubClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(hubWriteWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("hub: read", "device", c.deviceID, "err", err)
			}
			return
		}
	}
}

// writePump pushes queued frames and keeps the connection alive with pings.
func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
