package wsproxy

import (
	"context"
	"errors"

	"github.com/coder/websocket"

	"termproxy/internal/session"
)

// readLimit bounds a single WebSocket message on a terminal socket.
const readLimit = 1024 * 1024

// attachedBanner is written to a peer immediately after it attaches. It is
// the only scrollback a newly attached peer ever sees.
const attachedBanner = "\r\n[attached]\r\n"

// Attach upgrades a peer already holding the WebSocket handshake: it
// registers the connection as a fan-out target for id, relays shell output
// to it until it disconnects, and dispatches its control frames (resize,
// stdin, ping, detach) back onto the shell. readOnly suppresses resize and
// stdin dispatch (and raw passthrough, which is indistinguishable from
// anonymous stdin) while still answering ping and honoring detach.
func Attach(ctx context.Context, conn *websocket.Conn, engine *session.Engine, id string, readOnly bool) {
	peer := newPeer(ctx, conn)

	sess, err := engine.AttachPeer(id, peer)
	if err != nil {
		code := session.CloseUpstreamFailure
		msg := "session not ready"
		if errors.Is(err, session.ErrNotFound) {
			msg = "session not found"
		}
		conn.Close(websocket.StatusCode(code), msg)
		return
	}
	defer engine.DetachPeer(id, peer)

	conn.SetReadLimit(readLimit)
	_ = peer.SendBinary([]byte(attachedBanner))

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		engine.Touch(id)

		if msgType == websocket.MessageText {
			if frame, ok := decodeControlFrame(string(data)); ok {
				if handled := dispatchControlFrame(engine, sess, peer, id, frame, readOnly); handled {
					continue
				}
			}
		}

		if readOnly {
			continue
		}
		if shell := sess.Shell(); shell != nil {
			shell.Write(data)
		}
	}
}

// dispatchControlFrame acts on a decoded control frame. It returns true for
// every decoded frame, including types it does not dispatch and frames it
// does not act on, so the caller never falls through to raw passthrough for
// it.
func dispatchControlFrame(engine *session.Engine, sess *session.Session, peer *wsPeer, id string, frame controlFrame, readOnly bool) bool {
	switch frame.Type {
	case framePing:
		_ = peer.sendText([]byte(`{"type":"pong"}`))
		return true

	case frameDetach:
		_ = peer.Close(1000, "detached")
		return true

	case frameResize:
		if readOnly {
			return true
		}
		if cols, rows, ok := frame.dims(); ok {
			_ = engine.Resize(id, cols, rows)
		}
		return true

	case frameStdin:
		if readOnly {
			return true
		}
		if shell := sess.Shell(); shell != nil {
			shell.Write(frame.stdinPayload())
		}
		return true

	default:
		// Recognized as a control-shaped frame (had a string "type") but not
		// a type we dispatch; bookkeeping only, no passthrough.
		return true
	}
}
