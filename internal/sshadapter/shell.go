package sshadapter

import (
	"io"

	"golang.org/x/crypto/ssh"
)

// Shell is a PTY-backed interactive shell opened on an SSH connection.
// Stdout is a lazy, possibly-infinite sequence of byte chunks: callers read
// it until it returns an error (io.EOF on orderly close, anything else on
// failure).
type Shell struct {
	Stdin  io.WriteCloser
	Stdout io.Reader

	session *ssh.Session
}

// Write sends data to the shell's stdin, i.e. keystrokes.
func (s *Shell) Write(data []byte) (int, error) {
	return s.Stdin.Write(data)
}

// Resize changes the PTY's terminal dimensions.
func (s *Shell) Resize(cols, rows uint16) error {
	return s.session.WindowChange(int(rows), int(cols))
}

// Close terminates the shell session and releases its resources.
func (s *Shell) Close() error {
	return s.session.Close()
}
