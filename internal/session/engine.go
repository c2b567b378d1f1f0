package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"termproxy/internal/logutil"
	"termproxy/internal/notify"
	"termproxy/internal/sshadapter"
)

// CreateParams describes a new session request.
type CreateParams struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Cols          int
	Rows          int
	Term          string
	IdleTimeoutMs int64

	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveMisses   int
}

// Engine is the process-wide session lifecycle controller: it owns the
// Registry and the notify.Bus together and publishes every notification
// while holding the registry's lock, so that each Summary's counts match
// the registry at the moment its version is assigned.
type Engine struct {
	Registry *Registry
	Bus      *notify.Bus
}

// NewEngine wires a registry and bus into a single engine value.
func NewEngine(maxConnections int, sseHeartbeat time.Duration) *Engine {
	return &Engine{
		Registry: NewRegistry(maxConnections),
		Bus:      notify.NewBus(sseHeartbeat),
	}
}

// Subscribe registers a new SSE subscriber, seeded with the registry's
// current counts.
func (e *Engine) Subscribe() *notify.Subscriber {
	return e.Bus.Subscribe(e.Registry.counts())
}

func (e *Engine) publish(reason notify.Reason, id string) {
	e.Registry.mu.Lock()
	defer e.Registry.mu.Unlock()
	e.Bus.Publish(reason, []string{id}, e.Registry.countsLocked())
}

// Create opens a new SSH connection and PTY shell and registers the
// resulting session. It blocks until the session reaches Ready or fails;
// on failure the session is removed from the registry before Create
// returns, matching the "create is synchronous" flow implied by
// the REST create endpoint returning a final state.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Session, error) {
	idleTimeout := time.Duration(p.IdleTimeoutMs) * time.Millisecond
	sess := newSession(uuid.NewString(), Meta{Host: p.Host, Port: p.Port, Username: p.Username}, p.Cols, p.Rows, idleTimeout)

	if _, err := e.Registry.insert(sess); err != nil {
		return nil, err
	}
	e.publish(notify.ReasonCreated, sess.ID)

	connectCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()

	client, err := sshadapter.Connect(connectCtx, sshadapter.ConnectConfig{
		Host:              p.Host,
		Port:              p.Port,
		Username:          p.Username,
		Password:          p.Password,
		KeepaliveInterval: p.KeepaliveInterval,
		KeepaliveMisses:   p.KeepaliveMisses,
	})
	if err != nil {
		e.terminate(sess, StateError, notify.ReasonState, CloseUpstreamFailure, "connect failed")
		return nil, fmt.Errorf("sshadapter: connect: %w", err)
	}

	shell, err := client.OpenShell(uint16(p.Cols), uint16(p.Rows), p.Term)
	if err != nil {
		client.Close()
		e.terminate(sess, StateError, notify.ReasonState, CloseUpstreamFailure, "open shell failed")
		return nil, fmt.Errorf("sshadapter: open shell: %w", err)
	}

	sess.mu.Lock()
	sess.ssh = client
	sess.shell = shell
	sess.state = StateReady
	sess.lastActivityAt = time.Now()
	sess.mu.Unlock()

	e.publish(notify.ReasonState, sess.ID)
	go e.runFanout(sess)
	go e.watchUpstream(sess)

	return sess, nil
}

// Touch records activity on id without publishing a notification. A
// missing session is ignored: the caller may be racing a termination.
func (e *Engine) Touch(id string) {
	if sess, err := e.Registry.lookup(id); err == nil {
		sess.touch()
	}
}

// Get looks up a single session.
func (e *Engine) Get(id string) (*Session, error) {
	return e.Registry.lookup(id)
}

// Delete terminates a session administratively. NotFound if unknown.
func (e *Engine) Delete(id string) error {
	sess, err := e.Registry.lookup(id)
	if err != nil {
		return err
	}
	e.terminate(sess, StateClosed, notify.ReasonDeleted, CloseAdministrative, "session deleted")
	return nil
}

// Resize changes a session's PTY dimensions. NotFound if unknown or not
// currently Ready.
func (e *Engine) Resize(id string, cols, rows int) error {
	sess, err := e.Registry.lookup(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	if sess.state != StateReady {
		sess.mu.Unlock()
		return ErrNotFound
	}
	sess.cols, sess.rows = cols, rows
	sess.lastActivityAt = time.Now()
	shell := sess.shell
	sess.mu.Unlock()

	if shell != nil {
		if err := shell.Resize(uint16(cols), uint16(rows)); err != nil {
			log.Printf("session: resize %s: %v", logutil.SanitizeForLog(id), err)
		}
	}
	e.publish(notify.ReasonResize, id)
	return nil
}

// AttachPeer registers p as a fan-out target for id. Returns the session so
// callers can read its shell for the stdin direction. NotReady if the
// session exists but has not reached Ready (or is terminal).
func (e *Engine) AttachPeer(id string, p Peer) (*Session, error) {
	sess, err := e.Registry.lookup(id)
	if err != nil {
		return nil, err
	}
	if sess.State() != StateReady {
		return nil, ErrNotReady
	}
	sess.addPeer(p)
	e.publish(notify.ReasonWSAttached, id)
	return sess, nil
}

// DetachPeer removes p from id's fan-out set. A missing session is not an
// error: the session may have already ended.
func (e *Engine) DetachPeer(id string, p Peer) {
	sess, err := e.Registry.lookup(id)
	if err != nil {
		return
	}
	sess.removePeer(p)
	e.publish(notify.ReasonWSDetached, id)
}

// ErrNotReady is returned when an operation requires a session to be in
// StateReady and it is not.
var ErrNotReady = fmt.Errorf("session: not ready")

// terminate moves sess to a terminal state exactly once, closes every
// attached peer with the given close code, releases the shell and SSH
// client, removes the session from the registry, and publishes one
// notification. Safe to call more than once concurrently (from Delete and
// the idle sweeper racing, or from Delete and an upstream failure racing):
// only the first caller to observe a non-terminal state performs the work.
func (e *Engine) terminate(sess *Session, target State, reason notify.Reason, closeCode int, closeMsg string) {
	sess.mu.Lock()
	if sess.state.terminal() {
		sess.mu.Unlock()
		return
	}
	sess.state = target
	ssh, shell := sess.ssh, sess.shell
	sess.mu.Unlock()

	for _, p := range sess.snapshotPeers() {
		_ = p.Close(closeCode, closeMsg)
	}
	if shell != nil {
		shell.Close()
	}
	if ssh != nil {
		ssh.Close()
	}

	e.Registry.remove(sess.ID)
	e.publish(reason, sess.ID)
}

// runFanout copies shell output to every attached peer until the shell
// closes or errors, then terminates the session.
func (e *Engine) runFanout(sess *Session) {
	shell := sess.Shell()
	if shell == nil {
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := shell.Stdout.Read(buf)
		if n > 0 {
			sess.touch()
			chunk := append([]byte(nil), buf[:n]...)
			for _, p := range sess.snapshotPeers() {
				if sendErr := p.SendBinary(chunk); sendErr != nil {
					sess.removePeer(p)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.terminate(sess, StateClosed, notify.ReasonState, CloseUpstreamFailure, "shell closed")
			} else {
				e.terminate(sess, StateError, notify.ReasonState, CloseUpstreamFailure, "shell read error")
			}
			return
		}
	}
}

// watchUpstream terminates the session if the underlying SSH connection
// ends before the shell's own read loop notices (e.g. the transport drops
// without the shell stream reporting an error).
func (e *Engine) watchUpstream(sess *Session) {
	client := sess.ssh
	if client == nil {
		return
	}
	<-client.Done()
	if client.Err() != nil {
		e.terminate(sess, StateError, notify.ReasonState, CloseUpstreamFailure, "ssh connection lost")
	} else {
		e.terminate(sess, StateClosed, notify.ReasonState, CloseUpstreamFailure, "ssh connection closed")
	}
}

// SweepIdle terminates every Ready session with zero open peers whose last
// activity is older than its idle timeout. Returns the number reaped.
func (e *Engine) SweepIdle() int {
	now := time.Now()
	reaped := 0
	for _, sess := range e.Registry.all() {
		if sess.State() != StateReady {
			continue
		}
		if sess.openPeerCount() > 0 {
			continue
		}
		sess.mu.Lock()
		timeout := sess.idleTimeout
		sess.mu.Unlock()
		if timeout <= 0 || sess.idleFor(now) < timeout {
			continue
		}
		e.terminate(sess, StateClosed, notify.ReasonIdleTimeout, CloseAdministrative, "idle timeout")
		reaped++
	}
	return reaped
}
