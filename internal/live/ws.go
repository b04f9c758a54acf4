package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/PaulBabatuyi/realtyhub/internal/events"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	handshakeWait = 10 * time.Second
	maxFrameSize  = 64 * 1024
	sendBuffer    = 256
)

var (
	errConnClosed = errors.New("connection closed")
	errSlowReader = errors.New("send buffer full")
)

// wsConn adapts a WebSocket to Sender. Writes go through a buffered queue
// drained by writePump, so a slow client never blocks the sender.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (c *wsConn) Send(ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSlowReader
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// WSHandler serves the live channel over WebSocket.
type WSHandler struct {
	ch       *Channel
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWSHandler returns a handler accepting browser connections from
// allowedOrigins. An empty list or "*" accepts any origin.
func NewWSHandler(ch *Channel, allowedOrigins []string, logger *log.Logger) *WSHandler {
	return &WSHandler{
		ch: ch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With("component", "ws"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 || set["*"] {
			return true
		}
		return set[origin]
	}
}

// bundleFromRequest takes the credential from the Authorization header or
// the token query parameter.
func bundleFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "err", err)
		return
	}
	c := newWSConn(ws)
	go c.writePump()
	defer c.close()

	ws.SetReadLimit(maxFrameSize)
	bundle := bundleFromRequest(r)
	if bundle == "" {
		// otherwise the first frame carries {"token": "..."}
		_ = ws.SetReadDeadline(time.Now().Add(handshakeWait))
		var hs TokenData
		if err := ws.ReadJSON(&hs); err != nil {
			h.logger.Debug("handshake failed", "err", err)
			return
		}
		bundle = hs.Token
	}

	ctx := r.Context()
	s := h.ch.Open(ctx, c, bundle)
	defer s.Close(ctx)
	h.readLoop(ctx, ws, c, s)
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, c *wsConn, s *Session) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("connection lost", "socket", s.SocketID(), "err", err)
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		s.HandleRaw(ctx, raw)
	}
}
