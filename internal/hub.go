package internal

import (
	"log/slog"
	"sync"
)

// Broadcaster is the fan-out capability the relay components depend on. The
// Hub implements it over websocket clients; tests substitute a recorder.
type Broadcaster interface {
	// Publish sends the event to every connected peer.
	Publish(event string, payload any)
	// PublishExcept sends the event to every connected peer but one.
	PublishExcept(connID string, event string, payload any)
	// SendTo delivers the event to a single peer and reports whether it was queued.
	SendTo(connID string, event string, payload any) bool
}

// Hub keeps track of connected clients by connection id.
type Hub struct {
	mutex   sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
	metrics *Metrics
}

func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		metrics: metrics,
	}
}

// Connected reports whether a peer with the id is currently registered.
func (hub *Hub) Connected(connID string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.clients[connID]
	return ok
}

// Size returns the number of registered peers.
func (hub *Hub) Size() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

func (hub *Hub) register(client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.clients[client.id] = client
}

// unregister removes the client and closes its send queue. It returns false
// when the client was already gone (dropped as slow, or hub closed).
func (hub *Hub) unregister(client *Client) bool {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if current, exists := hub.clients[client.id]; exists && current == client {
		delete(hub.clients, client.id)
		close(client.send)
		return true
	}
	return false
}

func (hub *Hub) Publish(event string, payload any) {
	hub.fanOut("", event, payload)
}

func (hub *Hub) PublishExcept(connID string, event string, payload any) {
	hub.fanOut(connID, event, payload)
}

func (hub *Hub) SendTo(connID string, event string, payload any) bool {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		hub.logger.Error("encode frame", "event", event, "error", err)
		return false
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	client, ok := hub.clients[connID]
	if !ok {
		return false
	}
	return hub.enqueue(client, frame)
}

func (hub *Hub) fanOut(except string, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		hub.logger.Error("encode frame", "event", event, "error", err)
		return
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for id, client := range hub.clients {
		if id == except {
			continue
		}
		hub.enqueue(client, frame)
	}
}

// enqueue must be called with the write lock held. A client that cannot keep
// up is dropped; closing its queue makes the write pump hang up.
func (hub *Hub) enqueue(client *Client, frame []byte) bool {
	select {
	case client.send <- frame:
		return true
	default:
		close(client.send)
		delete(hub.clients, client.id)
		hub.metrics.slowClientDropped()
		hub.logger.Warn("dropping slow client", "conn", client.id)
		return false
	}
}

// Close drops every client. Their write pumps send a close frame and exit.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for id, client := range hub.clients {
		close(client.send)
		delete(hub.clients, id)
	}
}
