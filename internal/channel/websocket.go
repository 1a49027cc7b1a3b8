package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"babelbot/internal/domain"
	"babelbot/internal/metrics"
	"babelbot/internal/relay"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// chatConn tracks one open chat connection.
type chatConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // guards writes
}

func (c *chatConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *chatConn) sendError(msg string) {
	_ = c.writeJSON(domain.ErrorReply{Error: msg})
}

// handleChat upgrades the request and serves the duplex chat protocol. The
// read loop only parses and enqueues; a single worker per connection runs
// the pipeline so replies keep the order messages arrived in. Pipeline
// failures become error frames and the connection stays open.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("chat upgrade failed", "err", err)
		return
	}

	c := &chatConn{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	metrics.ActiveConnections.Inc()
	s.logger.Info("chat client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	conn.SetReadLimit(s.maxMessageBytes)

	ctx, cancel := context.WithCancel(s.baseCtx)
	queue := make(chan domain.ChatPayload, s.queueDepth)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.serveQueue(ctx, c, queue)
	}()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		metrics.ActiveConnections.Dec()
		close(queue)
		cancel()
		wg.Wait()
		conn.Close()
		s.logger.Info("chat client disconnected", "conn_id", c.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("chat read error", "conn_id", c.id, "err", err)
			}
			return
		}

		var payload domain.ChatPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			s.logger.Warn("malformed chat frame", "conn_id", c.id, "err", err)
			c.sendError("Invalid payload: request is not valid JSON")
			continue
		}

		select {
		case queue <- payload:
		default:
			// Never block the read loop: shed the newest message and say so.
			metrics.DroppedMessages.Inc()
			s.logger.Warn("inbound queue full, dropping message", "conn_id", c.id)
			c.sendError("Message dropped: inbound queue full")
		}
	}
}

// serveQueue drains one connection's queue in arrival order.
func (s *Server) serveQueue(ctx context.Context, c *chatConn, queue <-chan domain.ChatPayload) {
	for payload := range queue {
		reply, err := s.relay.Process(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.sendError(relay.ErrorMessage(err))
			continue
		}
		if err := c.writeJSON(reply); err != nil {
			s.logger.Debug("chat write failed", "conn_id", c.id, "err", err)
			return
		}
	}
}
