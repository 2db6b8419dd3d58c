package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// WebsocketDialer opens websocket connections.
type WebsocketDialer struct {
	// HTTPClient is used for the opening handshake (optional).
	HTTPClient *http.Client
}

// NewWebsocketDialer creates a websocket dialer with default options.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{}
}

// Dial opens a websocket connection and starts its read loop. Handlers are
// invoked from the read loop goroutine, one frame at a time, in arrival
// order.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, h Handlers) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	wc := &wsConn{conn: conn, handlers: h}
	go wc.readLoop()
	return wc, nil
}

type wsConn struct {
	conn     *websocket.Conn
	handlers Handlers

	mu        sync.Mutex
	closed    bool
	notifyOne sync.Once
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			locallyClosed := c.closed
			c.mu.Unlock()

			c.notifyOne.Do(func() {
				if c.handlers.OnClose == nil {
					return
				}
				// A read failure after a local Close is the expected
				// teardown, not a transport fault.
				if locallyClosed || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					c.handlers.OnClose(nil)
					return
				}
				c.handlers.OnClose(err)
			})
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}

// Send writes one text frame.
func (c *wsConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close tears down the websocket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close(websocket.StatusNormalClosure, "")
}

var _ Conn = (*wsConn)(nil)
var _ Dialer = (*WebsocketDialer)(nil)
