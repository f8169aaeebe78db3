package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// TraceEvent is the message broadcast to trace stream subscribers after
// each query completes.
type TraceEvent struct {
	Type      string  `json:"type"`
	TraceID   string  `json:"trace_id"`
	Query     string  `json:"query"`
	Strategy  string  `json:"strategy"`
	Outcome   string  `json:"outcome"`
	Fallbacks int     `json:"fallbacks"`
	CostRU    float64 `json:"cost_ru"`
	Rendered  string  `json:"rendered"`
}

// TraceHub fans completed query traces out to websocket subscribers.
type TraceHub struct {
	clients    map[clientInterface]bool
	broadcast  chan interface{}
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// streamClient represents a websocket subscriber.
type streamClient struct {
	hub  *TraceHub
	conn *websocket.Conn
	send chan []byte
}

func (c *streamClient) getSendChannel() chan []byte {
	return c.send
}

func (c *streamClient) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewTraceHub creates a trace stream hub. Call Run to start it.
func NewTraceHub() *TraceHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &TraceHub{
		clients:    make(map[clientInterface]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan clientInterface),
		unregister: make(chan clientInterface),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *TraceHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("server: trace subscriber connected (total: %d)", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: trace subscriber disconnected (total: %d)", count)

		case message := <-h.broadcast:
			// Full lock because slow clients get deleted below.
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("server: marshal trace event: %v", err)
				h.mu.Unlock()
				continue
			}
			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					// Subscriber's send channel is full, disconnect them.
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the hub and disconnects all subscribers.
func (h *TraceHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for all subscribers. Drops when the queue is full.
func (h *TraceHub) Broadcast(event interface{}) {
	select {
	case h.broadcast <- event:
	default:
		log.Println("server: trace broadcast queue full, dropping event")
	}
}

// Register adds a subscriber to the hub.
func (h *TraceHub) Register(client clientInterface) {
	h.register <- client
}

// Unregister removes a subscriber from the hub.
func (h *TraceHub) Unregister(client clientInterface) {
	h.unregister <- client
}

// ServeHTTP handles websocket upgrade requests for the trace stream.
func (h *TraceHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := &streamClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends queued events to the websocket connection.
func (c *streamClient) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains inbound messages to detect disconnections. The stream is
// one-way; client messages are ignored.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockClient is a mock subscriber for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {
	// No-op for mock client
}
