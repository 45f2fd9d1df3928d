package stream

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketWriter sends each written line as one websocket text message.
type WebSocketWriter struct {
	conn *websocket.Conn
}

// NewWebSocketWriter wraps an established websocket connection.
func NewWebSocketWriter(conn *websocket.Conn) *WebSocketWriter {
	return &WebSocketWriter{conn: conn}
}

// DialWebSocket connects to a websocket consumer at url.
func DialWebSocket(ctx context.Context, url string) (*WebSocketWriter, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	return NewWebSocketWriter(conn), nil
}

// Write sends p without its trailing newline as a single text message.
func (w *WebSocketWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(p, "\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetWriteDeadline bounds the next write.
func (w *WebSocketWriter) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

// Close sends a close frame and closes the connection.
func (w *WebSocketWriter) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}
