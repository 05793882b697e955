// Package ws implements a live event-stream diagnostics endpoint: every
// device state publish is mirrored onto a WebSocket broadcast so an
// operator dashboard can watch traffic without attaching to MQTT. Adapted
// from the engine codebase's pkg/api/ws server, narrowed from its
// bidirectional subscribe/send protocol (this bridge has exactly one BLE
// gateway, not a named-gateway registry) down to a one-way broadcast of
// state-change events.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/proctorlabs/rvlink-bridge/internal/logger"
)

// PingInterval keeps idle connections from being reaped by intermediate
// proxies.
const PingInterval = 30 * time.Second

const writeTimeout = 10 * time.Second

// Event is one broadcast message: a device's unique_id, its new state's
// string form, and the wall-clock time it was observed.
type Event struct {
	UniqueID  string    `json:"unique_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Server is the diagnostics WebSocket broadcaster.
type Server struct {
	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
	srv      *http.Server
	path     string
	log      *logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer constructs a Server listening on addr at path (e.g. "/ws").
func NewServer(addr, path string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	s := &Server{
		clients: make(map[*client]bool),
		path:    path,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleUpgrade)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("ws server error", "error", err)
		}
	}()
	s.log.Info("ws diagnostics listening", "addr", s.srv.Addr, "path", s.path)
}

// Stop closes every client connection and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	return s.srv.Shutdown(ctx)
}

// Broadcast implements publisher.EventBroadcaster: it fans out ev to every
// connected client, skipping the message for any client whose send buffer
// is full (the client stays connected) rather than blocking the publisher's
// own dispatch path.
func (s *Server) Broadcast(uniqueID, state string) {
	body, err := json.Marshal(Event{UniqueID: uniqueID, State: state, Timestamp: time.Now()})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- body:
		default:
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	go s.writePump(c)
	go s.readPump(c)
}

// readPump drains and discards inbound frames, only to notice disconnects
// (this endpoint is broadcast-only; it has no client->server protocol).
func (s *Server) readPump(c *client) {
	defer s.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}
