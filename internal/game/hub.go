package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	HUB_BUFFER        = 100
	HUB_WRITE_TIMEOUT = 10 * time.Second
)

// Message is what spectators receive on the websocket feed.
type Message struct {
	Type    string      `json:"type"`
	RoundID int64       `json:"round_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// wsConn is the part of a websocket connection the hub writes to.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	conn     wsConn
	playerID string
	mu       sync.Mutex
}

// Hub fans round events out to connected spectators. Slow clients are
// written to from their own goroutine; a full broadcast buffer drops
// messages rather than blocking game operations.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, HUB_BUFFER),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With("component", "ws_hub"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled. Clients
// that connect or leave after that are closed without waiting on Run.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", "player_id", client.playerID, "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				h.log.Debug("client disconnected", "player_id", client.playerID, "clients", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.log.Warn("marshal broadcast", "type", message.Type, "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				go h.write(client, data)
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a Message, or any value, which is wrapped as a "raw"
// message. It never blocks.
func (h *Hub) Broadcast(message interface{}) {
	msg, ok := message.(Message)
	if !ok {
		msg = Message{Type: "raw", Data: message}
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast buffer full, dropping message", "type", msg.Type)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) write(c *Client, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(HUB_WRITE_TIMEOUT))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Debug("write failed", "player_id", c.playerID, "error", err)
	}
}

// SendSummary writes the active round summary to one client.
func (h *Hub) SendSummary(c *Client, s *RoundSummary) {
	if s == nil {
		return
	}
	h.Send(c, Message{Type: "round_summary", RoundID: s.RoundID, Data: s})
}

// Send writes one message to one client, serialized with broadcasts.
func (h *Hub) Send(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("marshal message", "type", msg.Type, "error", err)
		return
	}
	h.write(c, data)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, playerID string) *Client {
	return h.addClient(conn, playerID)
}

func (h *Hub) addClient(conn wsConn, playerID string) *Client {
	c := &Client{conn: conn, playerID: playerID}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
	}
	return c
}

func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.conn.Close()
	}
}
