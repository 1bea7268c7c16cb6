package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wachiwi/picam/pkg/frame"
)

const pongWait = 60 * time.Second

// WebSocketTransport sends every frame as one binary message.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex // frames and pings share the connection writer

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWebSocketTransport takes ownership of conn and starts reading from it to
// notice when the viewer goes away. Pings keep the connection alive while no
// frames are flowing.
func NewWebSocketTransport(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketTransport {
	return newWebSocketTransport(conn, writeTimeout, pongWait)
}

func newWebSocketTransport(conn *websocket.Conn, writeTimeout, pongWait time.Duration) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	t := &WebSocketTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go t.readPump()
	go t.pingLoop(pongWait * 9 / 10)
	return t
}

func (t *WebSocketTransport) readPump() {
	defer t.markClosed()
	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read failed", "error", err)
			}
			return
		}
	}
}

func (t *WebSocketTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.closed) })
}

// Closed is closed when the viewer disconnected.
func (t *WebSocketTransport) Closed() <-chan struct{} {
	return t.closed
}

func (t *WebSocketTransport) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
			t.writeMu.Unlock()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err)
				return
			}
		case <-t.closed:
			return
		}
	}
}

// WriteFrame sends f.
func (t *WebSocketTransport) WriteFrame(f *frame.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.BinaryMessage, f.Data)
}

// Close sends a close message and closes the connection.
func (t *WebSocketTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
