package transport

import (
	"bytes"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket adapts a *websocket.Conn to vnc.Transport, for the
// noVNC-style browser deployment: each Write becomes one binary
// WebSocket message, and Read drains messages into a byte-stream
// buffer since RFB reads don't align with WebSocket message
// boundaries.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending bytes.Buffer
}

// DialWebSocket connects to an RFB-over-WebSocket endpoint (typically a
// noVNC-compatible proxy) and negotiates the "binary" subprotocol.
func DialWebSocket(rawURL string, header http.Header) (*WebSocket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{Subprotocols: []string{"binary"}}
	conn, _, err := dialer.Dial(u.String(), header)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn}, nil
}

// NewWebSocket wraps an already-established connection, e.g. one
// accepted server-side by a browser-facing proxy.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (w *WebSocket) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocket) Read(p []byte) (int, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()
	for w.pending.Len() == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.pending.Write(data)
	}
	return w.pending.Read(p)
}

func (w *WebSocket) Close() error {
	return w.conn.Close()
}

// SetDeadline bounds both halves of the connection, letting callers
// treat a WebSocket transport the same way they would a net.Conn (see
// vnc.ClientConfig's ConnectTimeout).
func (w *WebSocket) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}
