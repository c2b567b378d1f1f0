// Package admin is the pure-function facade over the session engine: every
// admin HTTP handler goes through here instead of touching internal/session
// or internal/sshadapter directly.
package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"termproxy/internal/apierr"
	"termproxy/internal/session"
)

// Facade wraps a session.Engine with request validation and error-kind
// translation for the HTTP layer.
type Facade struct {
	Engine *session.Engine

	DefaultCols          int
	DefaultRows          int
	DefaultTerm          string
	DefaultIdleTimeoutMs int64
	ConnectTimeout       time.Duration
	KeepaliveInterval    time.Duration
	KeepaliveMisses      int
}

// CreateRequest is the JSON body of POST /connections.
type CreateRequest struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
	Term          string `json:"term"`
	IdleTimeoutMs int64  `json:"idleTimeoutMs"`
}

// Create validates req, opens the SSH/PTY session, and returns its View.
func (f *Facade) Create(ctx context.Context, req CreateRequest) (*session.View, error) {
	if req.Host == "" || req.Username == "" {
		return nil, apierr.New(apierr.KindInvalidRequest, errors.New("host and username are required"))
	}
	port := req.Port
	if port <= 0 {
		port = 22
	}

	p := session.CreateParams{
		Host:              req.Host,
		Port:              port,
		Username:          req.Username,
		Password:          req.Password,
		Cols:              req.Cols,
		Rows:              req.Rows,
		Term:              req.Term,
		IdleTimeoutMs:     req.IdleTimeoutMs,
		ConnectTimeout:    f.ConnectTimeout,
		KeepaliveInterval: f.KeepaliveInterval,
		KeepaliveMisses:   f.KeepaliveMisses,
	}
	if p.Cols <= 0 {
		p.Cols = f.DefaultCols
	}
	if p.Rows <= 0 {
		p.Rows = f.DefaultRows
	}
	if p.Term == "" {
		p.Term = f.DefaultTerm
	}
	if p.IdleTimeoutMs <= 0 {
		p.IdleTimeoutMs = f.DefaultIdleTimeoutMs
	}

	sess, err := f.Engine.Create(ctx, p)
	if err != nil {
		return nil, translateCreateErr(err)
	}
	view := sess.View()
	return &view, nil
}

// Get returns a single session's View.
func (f *Facade) Get(id string) (*session.View, error) {
	sess, err := f.Engine.Get(id)
	if err != nil {
		return nil, apierr.New(apierr.KindNotFound, err)
	}
	view := sess.View()
	return &view, nil
}

// Snapshot returns every registered session's View.
func (f *Facade) Snapshot() session.SnapshotView {
	return f.Engine.Registry.Snapshot()
}

// Delete terminates a session administratively.
func (f *Facade) Delete(id string) error {
	if err := f.Engine.Delete(id); err != nil {
		return apierr.New(apierr.KindNotFound, err)
	}
	return nil
}

// Resize changes a session's PTY dimensions.
func (f *Facade) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apierr.New(apierr.KindInvalidRequest, errors.New("cols and rows must be positive"))
	}
	if err := f.Engine.Resize(id, cols, rows); err != nil {
		return apierr.New(apierr.KindNotFound, err)
	}
	return nil
}

func translateCreateErr(err error) error {
	if errors.Is(err, session.ErrCapacityExceeded) {
		return apierr.New(apierr.KindCapacityExceeded, err)
	}
	if strings.Contains(err.Error(), "open shell") {
		return apierr.New(apierr.KindShellError, err)
	}
	return apierr.New(apierr.KindConnectError, err)
}
