// Package sshadapter wraps golang.org/x/crypto/ssh with the connect,
// PTY-shell, resize, write and close operations the session engine needs,
// plus a background keepalive loop that reports connection loss.
package sshadapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ConnectConfig describes the destination and transport tunables for
// Connect.
type ConnectConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// KeepaliveInterval is how often a keepalive request is sent once
	// connected. KeepaliveMisses is how many consecutive failures are
	// tolerated before the connection is declared dead.
	KeepaliveInterval time.Duration
	KeepaliveMisses   int
}

// Client is a connected SSH transport with a background keepalive watchdog.
type Client struct {
	conn *ssh.Client

	done    chan struct{}
	doneErr error
	once    sync.Once

	keepCancel context.CancelFunc
}

// Connect dials host:port, performs the SSH handshake with password
// authentication, and starts the keepalive watchdog. The context bounds the
// dial and handshake only; once connected, the keepalive loop runs
// independently until the connection closes or goes dead.
func Connect(ctx context.Context, cfg ConnectConfig) (*Client, error) {
	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialer := net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	type handshakeResult struct {
		sshConn ssh.Conn
		chans   <-chan ssh.NewChannel
		reqs    <-chan *ssh.Request
		err     error
	}
	resultCh := make(chan handshakeResult, 1)
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
		resultCh <- handshakeResult{sshConn, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			netConn.Close()
			return nil, fmt.Errorf("ssh handshake with %s: %w", addr, res.err)
		}
		sshClient := ssh.NewClient(res.sshConn, res.chans, res.reqs)

		keepCtx, keepCancel := context.WithCancel(context.Background())
		c := &Client{
			conn:       sshClient,
			done:       make(chan struct{}),
			keepCancel: keepCancel,
		}
		go c.keepalive(keepCtx, cfg.KeepaliveInterval, cfg.KeepaliveMisses)
		return c, nil
	}
}

// keepalive sends periodic keepalive requests; after consecutive failures
// reach the configured miss count, the client is marked done with an error.
func (c *Client) keepalive(ctx context.Context, interval time.Duration, maxMisses int) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if maxMisses <= 0 {
		maxMisses = 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, err := c.conn.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				misses++
				if misses >= maxMisses {
					c.fail(fmt.Errorf("keepalive: %d consecutive failures: %w", misses, err))
					return
				}
				continue
			}
			misses = 0
		}
	}
}

// NewSession opens a fresh SSH channel over the connection, for callers
// that need raw session access beyond OpenShell.
func (c *Client) NewSession() (*ssh.Session, error) {
	return c.conn.NewSession()
}

// OpenShell opens a PTY-backed interactive shell on this connection.
func (c *Client) OpenShell(cols, rows uint16, term string) (*Shell, error) {
	if term == "" {
		term = "xterm-256color"
	}

	session, err := c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(term, int(rows), int(cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{
		Stdin:   stdin,
		Stdout:  stdout,
		session: session,
	}, nil
}

// Done returns a channel closed once the connection has ended, whether by
// explicit Close or by keepalive failure. Err reports the reason after Done
// closes: nil for an orderly Close, non-nil for a detected failure.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. Only meaningful after Done() has
// closed.
func (c *Client) Err() error { return c.doneErr }

func (c *Client) fail(err error) {
	c.once.Do(func() {
		c.doneErr = err
		close(c.done)
	})
}

// Close ends the connection and stops the keepalive loop. Idempotent.
func (c *Client) Close() error {
	c.keepCancel()
	c.once.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}
