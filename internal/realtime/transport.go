package realtime

import (
	"context"

	"github.com/gorilla/websocket"
)

// Transport is a duplex frame pipe. The Manager is its sole owner; other
// components never touch the raw handle.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Transport to the server's real-time endpoint.
type Dialer func(ctx context.Context, url string) (Transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketDialer dials with the gorilla default dialer, attaching the
// session token as a bearer header.
func WebSocketDialer(token string) Dialer {
	return func(ctx context.Context, url string) (Transport, error) {
		header := map[string][]string{}
		if token != "" {
			header["Authorization"] = []string{"Bearer " + token}
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsTransport{conn: conn}, nil
	}
}
