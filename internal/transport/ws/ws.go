// Package ws adapts a gorilla websocket to the transport port.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolkovv/relaypub/internal/transport"
)

const handshakeTimeout = 10 * time.Second

// Dialer opens websocket connections.
type Dialer struct {
	d *websocket.Dialer
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns a dialer with sane defaults.
func NewDialer() *Dialer {
	return &Dialer{d: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

// DialContext connects to the relay at url (ws:// or wss://).
func (d *Dialer) DialContext(ctx context.Context, url string) (transport.Conn, error) {
	c, resp, err := d.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &conn{ws: c}, nil
}

type conn struct {
	ws *websocket.Conn

	// gorilla allows one concurrent writer; session writes and close frames
	// can race without this.
	wmu sync.Mutex
}

func (c *conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *conn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
