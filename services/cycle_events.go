package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"finance-scraper/models"

	"github.com/gorilla/websocket"
)

const (
	maxEventClients       = 100
	eventWriteTimeout     = 10 * time.Second
	eventClientBufferSize = 16
)

// CycleEvent is one message on the scheduler event stream.
type CycleEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time string      `json:"time"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

// CycleEventHub broadcasts scheduler progress (cycle started, symbol
// processed, cycle finished) to connected WebSocket clients. It satisfies
// the scheduler's event sink; broadcasts never block the running cycle.
type CycleEventHub struct {
	clients    map[*eventClient]bool
	broadcast  chan CycleEvent
	register   chan *eventClient
	unregister chan *eventClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewCycleEventHub creates the hub and starts its dispatch loop.
func NewCycleEventHub() *CycleEventHub {
	hub := &CycleEventHub{
		clients:    make(map[*eventClient]bool),
		broadcast:  make(chan CycleEvent, 256),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	go hub.run()
	return hub
}

// CycleStarted implements the scheduler event sink.
func (h *CycleEventHub) CycleStarted(considered int) {
	h.publish("cycle_started", map[string]interface{}{"considered": considered})
}

// SymbolProcessed implements the scheduler event sink.
func (h *CycleEventHub) SymbolProcessed(symbol string, succeeded bool) {
	h.publish("symbol_processed", map[string]interface{}{
		"symbol":    symbol,
		"succeeded": succeeded,
	})
}

// CycleFinished implements the scheduler event sink.
func (h *CycleEventHub) CycleFinished(result models.CycleResult) {
	h.publish("cycle_finished", result)
}

func (h *CycleEventHub) publish(eventType string, data interface{}) {
	event := CycleEvent{
		Type: eventType,
		Data: data,
		Time: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- event:
	default:
		// Buffer full; the cycle must not stall on slow consumers.
	}
}

// Shutdown closes every client connection and stops the dispatch loop.
func (h *CycleEventHub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*eventClient]bool)
	h.mu.Unlock()
}

// run dispatches register/unregister/broadcast traffic.
func (h *CycleEventHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxEventClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", maxEventClients)
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("Error marshaling cycle event: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *CycleEventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= maxEventClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &eventClient{
		conn: conn,
		send: make(chan []byte, eventClientBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// writePump pushes queued events to one client.
func (h *CycleEventHub) writePump(client *eventClient) {
	defer client.conn.Close()

	for message := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readPump drains the connection so pings/close frames are processed, and
// unregisters the client when it goes away.
func (h *CycleEventHub) readPump(client *eventClient) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.shutdown:
		}
		client.conn.Close()
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
