package transport

import (
	"context"
	"sync"
)

// PipeConn is one end of an in-memory duplex connection. It is used to
// script server behavior in tests without a network.
type PipeConn struct {
	mu       sync.Mutex
	peer     *PipeConn
	handlers Handlers
	closed   bool
	closeOne sync.Once
}

// NewPipe creates a connected pair of in-memory connections. Handlers must
// be attached with SetHandlers before traffic flows.
func NewPipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{}
	b := &PipeConn{}
	a.peer = b
	b.peer = a
	return a, b
}

// SetHandlers attaches receive callbacks to this end.
func (p *PipeConn) SetHandlers(h Handlers) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = h
}

// Send delivers a message synchronously to the peer's OnMessage handler.
func (p *PipeConn) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	peer := p.peer
	p.mu.Unlock()

	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return ErrClosed
	}
	onMessage := peer.handlers.OnMessage
	peer.mu.Unlock()

	if onMessage != nil {
		// Copy so the receiver can retain the slice.
		buf := make([]byte, len(data))
		copy(buf, data)
		onMessage(buf)
	}
	return nil
}

// Close tears down both ends. The local end reports a clean close; the peer
// observes a remote close.
func (p *PipeConn) Close() error {
	p.closeDown(nil, true)
	return nil
}

// CloseWithError tears down the pipe, surfacing err to the peer's OnClose.
// It models an abnormal transport failure.
func (p *PipeConn) CloseWithError(err error) {
	p.closeDown(err, true)
}

func (p *PipeConn) closeDown(err error, propagate bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	onClose := p.handlers.OnClose
	peer := p.peer
	p.mu.Unlock()

	p.closeOne.Do(func() {
		if onClose != nil {
			onClose(nil)
		}
	})

	if propagate && peer != nil {
		peer.remoteClosed(err)
	}
}

func (p *PipeConn) remoteClosed(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	onClose := p.handlers.OnClose
	p.mu.Unlock()

	p.closeOne.Do(func() {
		if onClose != nil {
			onClose(err)
		}
	})
}

var _ Conn = (*PipeConn)(nil)
