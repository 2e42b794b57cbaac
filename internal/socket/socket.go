package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"rfid-bridge/internal/model"
	"rfid-bridge/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Client represents a connected websocket client
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan model.WsMessage
	done     chan struct{}
	doneOnce sync.Once
	server   *Server
}

// close stops the client's write pump. The send channel is never closed so
// late replies from readPump cannot panic.
func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Server fans scan events out to every connected websocket client.
type Server struct {
	clients    map[*Client]bool
	broadcast  chan model.WsMessage
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	log        *logger.Logger

	mu       sync.RWMutex
	count    int
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewServer creates a new websocket server
func NewServer(log *logger.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	return &Server{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan model.WsMessage, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from a different origin than the bridge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the hub until Stop is called.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished != nil && s.ctx.Err() == nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.finished = make(chan struct{})

	go s.run(s.ctx, s.finished)
	s.log.Debug("websocket hub started")
}

// Stop disconnects every client and waits for the hub to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel, finished := s.cancel, s.finished
	s.mu.Unlock()

	cancel()
	if finished != nil {
		<-finished
	}
	s.log.Debug("websocket hub stopped")
}

func (s *Server) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// run owns the clients map.
func (s *Server) run(ctx context.Context, finished chan struct{}) {
	defer close(finished)

	for {
		select {
		case <-ctx.Done():
			for client := range s.clients {
				s.drop(client)
			}
			return

		case client := <-s.register:
			s.clients[client] = true
			s.setCount(len(s.clients))
			s.log.Info("websocket client %s connected, total clients: %d", client.id, len(s.clients))

		case client := <-s.unregister:
			if s.clients[client] {
				s.drop(client)
				s.log.Info("websocket client %s disconnected, total clients: %d", client.id, len(s.clients))
			}

		case message := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					s.log.Warn("websocket client %s is not keeping up, dropping it", client.id)
					s.drop(client)
				}
			}
		}
	}
}

func (s *Server) drop(c *Client) {
	delete(s.clients, c)
	s.setCount(len(s.clients))
	c.close()
	c.conn.Close()
}

func (s *Server) setCount(n int) {
	s.mu.Lock()
	s.count = n
	s.mu.Unlock()
}

// ServeWS handles websocket connections
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := s.context()
	if ctx.Err() != nil {
		http.Error(w, "live feed is not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan model.WsMessage, sendBuffer),
		done:   make(chan struct{}),
		server: s,
	}

	select {
	case s.register <- client:
	case <-ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(ctx)
}

// BroadcastMessage queues a message for every connected client. It never
// blocks; when the queue is full the message is dropped.
func (s *Server) BroadcastMessage(msgType string, payload interface{}) {
	if s.context().Err() != nil {
		return
	}
	select {
	case s.broadcast <- model.WsMessage{Type: msgType, Payload: payload}:
	default:
		s.log.Warn("broadcast queue full, %s message dropped", msgType)
	}
}

// GetConnectedClientsCount returns the number of connected clients
func (s *Server) GetConnectedClientsCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Error("websocket error for client %s: %v", c.id, err)
			}
			return
		}

		var msg model.WsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.server.log.Warn("malformed message from client %s: %v", c.id, err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.log.Error("failed to write message to client %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg model.WsMessage) {
	switch msg.Type {
	case "ping":
		select {
		case c.send <- model.WsMessage{Type: "pong", Payload: msg.Payload}:
		case <-c.done:
		default:
			c.server.log.Warn("client %s send buffer full, pong dropped", c.id)
		}
	default:
		c.server.log.Debug("ignoring %q message from client %s", msg.Type, c.id)
	}
}
