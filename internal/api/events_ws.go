package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy for upgrades. Local addresses are allowed so a
	// proxied UI and curl keep working.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == r.Host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == r.Host
		}
		return false
	},
}

// wsClient is one connected event stream consumer. An empty topic set
// receives everything; subscribe messages narrow it.
type wsClient struct {
	conn   *websocket.Conn
	topics map[string]bool
	send   chan []byte
}

// WSBridge forwards hub events to websocket clients. Topics are event
// type strings ("rule.created", "apply.completed", ...).
type WSBridge struct {
	log  *logging.Logger
	feed <-chan events.Event
	done chan struct{}

	mu      sync.RWMutex
	clients map[*wsClient]bool
	closed  bool
}

// NewWSBridge subscribes to every hub event and starts the fan-out
// pump.
func NewWSBridge(hub *events.Hub, log *logging.Logger) *WSBridge {
	b := &WSBridge{
		log:     log,
		feed:    hub.Subscribe(256),
		done:    make(chan struct{}),
		clients: make(map[*wsClient]bool),
	}
	go b.pump()
	return b
}

func (b *WSBridge) pump() {
	for {
		select {
		case e := <-b.feed:
			b.broadcast(e)
		case <-b.done:
			return
		}
	}
}

// broadcast sends one event to every client subscribed to its topic.
// Slow clients are skipped, never waited on.
func (b *WSBridge) broadcast(e events.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	topic := string(e.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if len(c.topics) > 0 && !c.topics[topic] {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (b *WSBridge) add(c *wsClient) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c] = true
	return true
}

func (b *WSBridge) remove(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

// Close disconnects every client and stops the pump.
func (b *WSBridge) Close() {
	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

// readPump consumes subscription messages until the connection drops.
func (b *WSBridge) readPump(c *wsClient) {
	defer b.remove(c)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Topics []string `json:"topics"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		b.mu.Lock()
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				c.topics[topic] = true
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				delete(c.topics, topic)
			}
		}
		b.mu.Unlock()
	}
}

// writePump drains the send channel onto the connection.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleEvents handles GET /api/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &wsClient{
		conn:   conn,
		topics: make(map[string]bool),
		send:   make(chan []byte, 256),
	}
	if !s.ws.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go s.ws.readPump(client)
}
