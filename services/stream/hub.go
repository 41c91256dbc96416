package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"stock_data_backend/models"

	"github.com/gorilla/websocket"
)

// Service configuration
const (
	MaxClients   = 100
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// QuoteMessage is the payload broadcast to websocket clients
type QuoteMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_percent"`
	Volume    int64   `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

// client wraps one websocket connection. writeMu serializes frames on
// this connection only; gorilla connections do not support concurrent
// writers, but one slow client must not stall writes to the others.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Hub fans successfully refreshed live quotes out to websocket clients
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades an HTTP request and registers the client
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	h.mu.RLock()
	full := len(h.clients) >= MaxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return nil
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	cl := &client{conn: conn}
	h.mu.Lock()
	h.clients[cl] = true
	h.mu.Unlock()
	log.Printf("WebSocket client connected (%d active)", h.ClientCount())

	go h.serveClient(cl)
	return nil
}

// serveClient keeps the connection alive with pings and drains incoming
// frames until the client goes away.
func (h *Hub) serveClient(cl *client) {
	defer h.removeClient(cl)

	cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := cl.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := cl.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeClient(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.conn.Close()
}

// BroadcastQuote implements refresh.QuoteBroadcaster. Dead clients are
// dropped on write failure.
func (h *Hub) BroadcastQuote(price models.StockPrice) {
	msg := QuoteMessage{
		Type:      "quote",
		Symbol:    price.Symbol,
		Price:     price.Close.InexactFloat64(),
		Change:    price.Change.InexactFloat64(),
		ChangePct: price.ChangePercent.InexactFloat64(),
		Volume:    price.Volume,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.writeJSON(msg); err != nil {
			h.removeClient(cl)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
