package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsHub tracks websocket clients and fans frames out to them. Clients are
// read-only observers; inbound messages are drained and discarded.
type wsHub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte

	mu          sync.RWMutex
	latestFrame []byte
}

func newHub() *wsHub {
	hub := &wsHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 16),
	}
	go hub.run()
	return hub
}

func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					GetLogger().Warnf("failed to send frame to websocket client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

func (h *wsHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		GetLogger().Errorf("websocket upgrade failed: %v", err)
		return
	}

	h.register <- conn

	h.mu.RLock()
	if h.latestFrame != nil {
		conn.WriteMessage(websocket.TextMessage, h.latestFrame)
	}
	h.mu.RUnlock()

	go func() {
		defer func() { h.remove <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					GetLogger().Warnf("websocket error: %v", err)
				}
				break
			}
		}
	}()
}

func (h *wsHub) broadcastFrame(frame *MonitorFrame) {
	if frame == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		GetLogger().Errorf("failed to marshal monitor frame: %v", err)
		return
	}
	h.mu.Lock()
	h.latestFrame = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
	}
}
