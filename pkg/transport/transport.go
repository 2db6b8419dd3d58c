// Package transport abstracts the duplex message connection the protocol
// engine runs over. The engine is transport-agnostic above this line; the
// default implementation is a websocket, and tests use an in-memory pipe.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport is closed")

// Conn is an open duplex message connection.
type Conn interface {
	// Send writes one message frame.
	Send(ctx context.Context, data []byte) error

	// Close tears down the connection. The OnClose callback fires at most
	// once regardless of whether the close was local or remote.
	Close() error
}

// Handlers carries the receive-side callbacks for a connection. Callbacks
// are invoked sequentially from a single reader; no two callbacks run
// concurrently.
type Handlers struct {
	// OnMessage is called for every received message frame.
	OnMessage func(data []byte)

	// OnClose is called exactly once when the connection dies. err is nil
	// for a clean close and non-nil for an abnormal one.
	OnClose func(err error)
}

// Dialer opens connections to a remote endpoint.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, h Handlers) (Conn, error)
}
