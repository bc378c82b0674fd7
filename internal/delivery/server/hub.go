package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"relay/internal/app/relay"
	jsonx "relay/internal/shared/json"
	"relay/internal/shared/logging"
	id "relay/internal/shared/utils/id"
)

const clientSendBuffer = 64

// client is one websocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans run events out to websocket subscribers. Publish never blocks:
// a subscriber whose buffer is full is dropped.
type Hub struct {
	logger logging.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{logger: logging.OrNop(logger), clients: make(map[string]*client)}
}

var _ relay.EventSink = (*Hub)(nil)

// Publish implements relay.EventSink.
func (h *Hub) Publish(event relay.RunEvent) {
	payload, err := jsonx.Marshal(event)
	if err != nil {
		h.logger.Warn("Encode run event %s for %s failed: %v", event.Type, event.RunID, err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Websocket client %s buffer full, closing", c.id)
		h.unregister(c)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.closed = true
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(conn *websocket.Conn) (*client, bool) {
	c := &client{id: id.NewConnID(), conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c.id] = c
	h.logger.Info("Websocket client %s connected from %s", c.id, conn.RemoteAddr())
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("Websocket client %s disconnected", c.id)
	}
}
