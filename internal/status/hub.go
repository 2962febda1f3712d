package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultSendBuf      = 32
	defaultBroadcastBuf = 128
)

// envelope is the wire format of every websocket frame
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(msgType string, data any) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(envelope{Type: msgType, Ts: &now, Data: data})
}

// Hub tracks websocket clients and fans frames out to them.
// Clients that cannot keep up are disconnected.
type Hub struct {
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*Client]struct{}
	stopped bool

	sendBuf int
}

// NewHub creates a hub. Call Run to start it.
func NewHub(sendBuf, broadcastBuf int) *Hub {
	if sendBuf <= 0 {
		sendBuf = defaultSendBuf
	}
	if broadcastBuf <= 0 {
		broadcastBuf = defaultBroadcastBuf
	}
	return &Hub{
		broadcast: make(chan []byte, broadcastBuf),
		clients:   make(map[*Client]struct{}),
		sendBuf:   sendBuf,
	}
}

// Run fans out broadcasts until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// add registers c. Once the hub has stopped the client is closed instead.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		c.close()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("remote_addr", c.remoteAddr).Int("clients", n).Msg("Websocket client registered")
	return true
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		log.Debug().Str("remote_addr", c.remoteAddr).Str("reason", reason).Int("clients", n).Msg("Websocket client disconnected")
	}
}

// Broadcast serializes a frame and queues it for every client. Never blocks.
func (h *Hub) Broadcast(msgType string, data any) {
	msg, err := marshalEnvelope(msgType, data)
	if err != nil {
		log.Warn().Err(err).Str("type", msgType).Msg("Failed to marshal websocket frame")
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Int("bytes", len(msg)).Msg("Websocket broadcast queue full, dropping frame")
	}
}

// Client is one websocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	closeOnce  sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

func closeStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func logPumpExit(pump, remoteAddr string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	ev := log.Debug().Str("remote_addr", remoteAddr).Str("pump", pump)
	if code, text, ok := closeStatus(err); ok {
		ev = ev.Int("code", code).Str("reason", text)
	} else {
		ev = ev.Err(err)
	}
	ev.Msg("Websocket pump exiting")
}

// writePump exits on write error or when send is closed
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logPumpExit("write", c.remoteAddr, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logPumpExit("write", c.remoteAddr, err)
				return
			}
		}
	}
}

// readPump discards inbound frames and unregisters the client on read error
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logPumpExit("read", c.remoteAddr, err)
			c.hub.removeClient(c, "read_error")
			return
		}
	}
}
