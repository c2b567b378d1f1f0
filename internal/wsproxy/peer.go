package wsproxy

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// wsPeer adapts a *websocket.Conn to session.Peer. Writes are serialized
// with a mutex since coder/websocket does not allow concurrent writers on
// one connection, and the fan-out loop and the ping/detach replies can both
// write to the same peer.
type wsPeer struct {
	conn *websocket.Conn
	ctx  context.Context

	mu     sync.Mutex
	closed bool
}

func newPeer(ctx context.Context, conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, ctx: ctx}
}

// SendBinary implements session.Peer.
func (p *wsPeer) SendBinary(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.conn.Write(p.ctx, websocket.MessageBinary, data)
}

// sendText writes a text frame, used for ping replies.
func (p *wsPeer) sendText(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.conn.Write(p.ctx, websocket.MessageText, data)
}

// Close implements session.Peer.
func (p *wsPeer) Close(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close(websocket.StatusCode(code), reason)
}
