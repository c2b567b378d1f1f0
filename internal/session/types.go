// Package session implements the session record, state machine, registry
// and lifecycle engine at the core of the proxy: one record per SSH shell,
// fanned out to any number of WebSocket peers.
package session

import (
	"sync"
	"time"

	"termproxy/internal/sshadapter"
)

// State is one of the four points in the session lifecycle. Connecting and
// Ready are live; Closed and Error are terminal and irreversible.
type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// terminal reports whether s cannot leave its current state.
func (s State) terminal() bool {
	return s == StateClosed || s == StateError
}

// Close codes applied to peer WebSocket connections when a session ends.
// CloseAdministrative marks closures this process initiated on purpose
// (explicit delete, idle sweep); CloseUpstreamFailure marks closures driven
// by the SSH connection or remote shell itself.
const (
	CloseAdministrative  = 1001
	CloseUpstreamFailure = 1011
)

// Meta carries the destination coordinates a session was opened against.
type Meta struct {
	Host     string
	Port     int
	Username string
}

// Peer is anything that can receive fanned-out shell output and be closed
// administratively. wsproxy's WebSocket wrapper is the only implementation.
type Peer interface {
	// SendBinary delivers a raw chunk of shell output. Implementations must
	// not block the caller indefinitely; a slow peer should drop frames
	// rather than stall the fan-out loop.
	SendBinary(data []byte) error
	// Close ends the peer's transport with the given close code and reason.
	Close(code int, reason string) error
}

// Session is one managed SSH interactive shell, attached to zero or more
// peers. All mutable fields are guarded by mu; Host/Port/Username/ID and the
// creation timestamp are set once at construction and never change.
type Session struct {
	ID        string
	Meta      Meta
	CreatedAt time.Time

	mu             sync.Mutex
	state          State
	lastActivityAt time.Time
	idleTimeout    time.Duration
	cols, rows     int

	ssh   *sshadapter.Client
	shell *sshadapter.Shell

	peers map[Peer]struct{}
}

// newSession constructs a session record in StateConnecting.
func newSession(id string, meta Meta, cols, rows int, idleTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		Meta:           meta,
		CreatedAt:      now,
		state:          StateConnecting,
		lastActivityAt: now,
		idleTimeout:    idleTimeout,
		cols:           cols,
		rows:           rows,
		peers:          make(map[Peer]struct{}),
	}
}

// View is the JSON-shaped snapshot of a session returned by the admin
// facade and the REST API.
type View struct {
	ID             string `json:"id"`
	State          State  `json:"state"`
	CreatedAt      int64  `json:"createdAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	IdleTimeoutMs  int64  `json:"idleTimeoutMs"`
	Cols           int    `json:"cols"`
	Rows           int    `json:"rows"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Peers          int    `json:"peers"`
	WSPath         string `json:"wsPath"`
}

// View takes a consistent snapshot of the session under its own lock.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{
		ID:             s.ID,
		State:          s.state,
		CreatedAt:      s.CreatedAt.UnixMilli(),
		LastActivityAt: s.lastActivityAt.UnixMilli(),
		IdleTimeoutMs:  s.idleTimeout.Milliseconds(),
		Cols:           s.cols,
		Rows:           s.rows,
		Host:           s.Meta.Host,
		Port:           s.Meta.Port,
		Username:       s.Meta.Username,
		Peers:          len(s.peers),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Shell returns the session's shell handle, or nil before it reaches Ready.
func (s *Session) Shell() *sshadapter.Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

// touch records activity now. Touching alone never produces a notification;
// only state transitions, peer-set changes, and resizes do.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// idleFor reports how long the session has had no activity.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivityAt)
}

// openPeerCount returns the number of attached peers.
func (s *Session) openPeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// snapshotPeers copies the current peer set for iteration outside the lock.
func (s *Session) snapshotPeers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

func (s *Session) addPeer(p Peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) removePeer(p Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}
