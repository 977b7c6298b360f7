package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// State is the connection state of the channel.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// MessageType tags websocket frames from the server.
type MessageType string

const (
	TypeEntityUpdate MessageType = "entity_update"
	TypeEntityDelete MessageType = "entity_delete"
)

// Message is the websocket envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Channel is the persistent bidirectional link to the server. Operations go
// out over the REST client; unsolicited updates from other devices arrive on
// the websocket. The channel reconnects with exponential backoff when the
// socket drops; while it is not open, operations accumulate in the store
// queue and nothing is lost.
type Channel struct {
	rest   *Client
	wsURL  string
	dialer *websocket.Dialer

	// backoff bookkeeping lives on the channel, not in package state
	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	subs    map[int]func(State)
	nextSub int

	updates     chan ServerUpdate
	done        chan struct{}
	wg          sync.WaitGroup
	sendTimeout time.Duration
}

// NewChannel creates a channel over the given REST client and websocket URL.
func NewChannel(rest *Client, wsURL string, sendTimeout time.Duration) *Channel {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Channel{
		rest:        rest,
		wsURL:       wsURL,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minBackoff:  time.Second,
		maxBackoff:  time.Minute,
		state:       StateClosed,
		subs:        make(map[int]func(State)),
		updates:     make(chan ServerUpdate, 64),
		sendTimeout: sendTimeout,
	}
}

// Connect dials the websocket and starts the reconnect loop. Returns an
// error if the first dial fails within ctx; the reconnect loop keeps trying
// either way, so callers may treat the error as "starting degraded".
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.done != nil {
		ch.mu.Unlock()
		return fmt.Errorf("channel already connected")
	}
	ch.done = make(chan struct{})
	done := ch.done
	ch.mu.Unlock()

	ch.setState(StateConnecting)
	firstErr := ch.dial(ctx)

	ch.wg.Add(1)
	go ch.run(done)

	return firstErr
}

// dial establishes the websocket and starts its read pump.
func (ch *Channel) dial(ctx context.Context) error {
	header := make(map[string][]string)
	if ch.rest.APIKey != "" {
		header["Authorization"] = []string{"Bearer " + ch.rest.APIKey}
	}
	if ch.rest.DeviceID != "" {
		header["X-Device-ID"] = []string{ch.rest.DeviceID}
	}

	conn, _, err := ch.dialer.DialContext(ctx, ch.wsURL, header)
	if err != nil {
		return Transient(fmt.Errorf("dial %s: %w", ch.wsURL, err))
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.mu.Unlock()
	ch.setState(StateOpen)

	ch.wg.Add(1)
	go ch.readPump(conn)
	return nil
}

// run maintains the connection: when the socket drops it redials with
// exponential backoff up to the ceiling, resetting after a good connection.
func (ch *Channel) run(done chan struct{}) {
	defer ch.wg.Done()

	backoff := ch.minBackoff
	for {
		select {
		case <-done:
			return
		default:
		}

		if ch.State() == StateOpen {
			// Healthy; poll for drop at a coarse interval.
			select {
			case <-done:
				return
			case <-time.After(ch.minBackoff):
			}
			backoff = ch.minBackoff
			continue
		}

		ch.setState(StateConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := ch.dial(ctx)
		cancel()
		if err == nil {
			backoff = ch.minBackoff
			continue
		}

		slog.Debug("channel reconnect failed", "backoff", backoff, "err", err)
		select {
		case <-done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > ch.maxBackoff {
			backoff = ch.maxBackoff
		}
	}
}

// readPump consumes server frames until the socket errors, keeping the
// read deadline fresh via pongs.
func (ch *Channel) readPump(conn *websocket.Conn) {
	defer ch.wg.Done()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("channel read", "err", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("channel: bad frame", "err", err)
			continue
		}

		switch msg.Type {
		case TypeEntityUpdate, TypeEntityDelete:
			var upd ServerUpdate
			if err := json.Unmarshal(msg.Payload, &upd); err != nil {
				slog.Warn("channel: bad update payload", "err", err)
				continue
			}
			upd.Deleted = msg.Type == TypeEntityDelete
			select {
			case ch.updates <- upd:
			default:
				slog.Warn("channel: update buffer full, dropping", "kind", upd.Kind, "id", upd.ID)
			}
		default:
			slog.Debug("channel: ignoring frame", "type", msg.Type)
		}
	}

	conn.Close()
	ch.mu.Lock()
	if ch.conn == conn {
		ch.conn = nil
	}
	closing := ch.state == StateClosing || ch.state == StateClosed
	ch.mu.Unlock()
	if !closing {
		ch.setState(StateConnecting)
	}
}

// Send pushes one operation over the transport with the per-send timeout.
// Callers get ErrNotOpen (transient) while the channel is down.
func (ch *Channel) Send(ctx context.Context, op *models.Operation) (*ServerResult, error) {
	if ch.State() != StateOpen {
		return nil, Transient(ErrNotOpen)
	}
	ctx, cancel := context.WithTimeout(ctx, ch.sendTimeout)
	defer cancel()
	return ch.rest.Send(ctx, op)
}

// Updates returns the stream of unsolicited server pushes.
func (ch *Channel) Updates() <-chan ServerUpdate {
	return ch.updates
}

// State returns the current connection state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// OnStateChange registers a callback for state transitions; the returned
// function unregisters it.
func (ch *Channel) OnStateChange(fn func(State)) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id := ch.nextSub
	ch.nextSub++
	ch.subs[id] = fn
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.subs, id)
	}
}

func (ch *Channel) setState(s State) {
	ch.mu.Lock()
	if ch.state == s {
		ch.mu.Unlock()
		return
	}
	ch.state = s
	subs := make([]func(State), 0, len(ch.subs))
	for _, fn := range ch.subs {
		subs = append(subs, fn)
	}
	ch.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Close tears the channel down cleanly and waits for its goroutines.
func (ch *Channel) Close() error {
	ch.setState(StateClosing)

	ch.mu.Lock()
	if ch.done != nil {
		close(ch.done)
		ch.done = nil
	}
	conn := ch.conn
	ch.conn = nil
	ch.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}

	ch.wg.Wait()
	ch.setState(StateClosed)
	return nil
}
