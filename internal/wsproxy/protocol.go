// Package wsproxy implements the WebSocket attachment lifecycle: per-peer
// control-frame decoding and the peer-facing half of the fan-out engine
// (shell output -> this peer, this peer's stdin -> shell).
package wsproxy

import (
	"encoding/json"
	"strings"
)

// controlFrame is the tagged-union shape of a peer->server control message.
// Resize and Stdin dispatch only when Type matches; Cols/Rows/Data are
// ignored otherwise.
type controlFrame struct {
	Type string          `json:"type"`
	Cols json.Number     `json:"cols"`
	Rows json.Number     `json:"rows"`
	Data json.RawMessage `json:"data"`
}

const (
	frameResize = "resize"
	frameStdin  = "stdin"
	framePing   = "ping"
	frameDetach = "detach"
)

// decodeControlFrame attempts to parse a text message as a control frame.
// It only looks like JSON if, once trimmed, it starts with '{' and ends
// with '}'; anything else is reported as not a control frame so the caller
// falls back to raw passthrough.
func decodeControlFrame(text string) (controlFrame, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return controlFrame{}, false
	}
	var frame controlFrame
	if err := json.Unmarshal([]byte(trimmed), &frame); err != nil {
		return controlFrame{}, false
	}
	if frame.Type == "" {
		return controlFrame{}, false
	}
	return frame, true
}

// stdinPayload extracts the stdin bytes carried in a stdin control frame's
// Data field, which may be a JSON string or left absent.
func (f controlFrame) stdinPayload() []byte {
	if len(f.Data) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return []byte(s)
	}
	// Data wasn't a JSON string; forward its raw bytes verbatim.
	return []byte(f.Data)
}

// dims parses Cols/Rows as positive integers. ok is false if either is
// missing, non-integral, or not positive.
func (f controlFrame) dims() (cols, rows int, ok bool) {
	c, err1 := f.Cols.Int64()
	r, err2 := f.Rows.Int64()
	if err1 != nil || err2 != nil || c <= 0 || r <= 0 {
		return 0, 0, false
	}
	return int(c), int(r), true
}
