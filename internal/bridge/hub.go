package bridge

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"recallai/internal/session"
)

const (
	// Время на запись одного сообщения.
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента.
	pongWait = 60 * time.Second

	// Период ping, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

// message - событие сессии в формате websocket.
type message struct {
	Type    session.EventType `json:"type"`
	Time    time.Time         `json:"time"`
	Payload any               `json:"payload,omitempty"`
}

func encodeEvent(e session.Event) ([]byte, error) {
	msg := message{Type: e.Type, Time: e.Time}
	switch e.Type {
	case session.EventRunning:
		msg.Payload = map[string]bool{"running": e.Running}
	case session.EventTranscript:
		msg.Payload = map[string]any{"lines": e.Lines, "reset": e.Reset}
	case session.EventCard:
		msg.Payload = e.Card
	case session.EventCloudError:
		msg.Payload = e.CloudError
	case session.EventBackendLost:
		msg.Payload = map[string]string{"error": e.Err}
	}
	return json.Marshal(msg)
}

// hub раздаёт сообщения подключённым клиентам.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{clients: make(map[*client]struct{}), logger: logger}
}

func (h *hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast не блокируется: клиент с переполненной очередью отключается.
func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow websocket client", zap.String("remote", c.remote))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin пускает только страницы с localhost и клиентов без Origin.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		remote: r.RemoteAddr,
	}
	if !s.hub.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.logger.Debug("websocket client connected", zap.String("remote", c.remote))

	go c.writePump()
	go c.readPump(s.hub, s.logger)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump читает только управляющие кадры; входящие сообщения игнорируются.
func (c *client) readPump(h *hub, logger *zap.Logger) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}
