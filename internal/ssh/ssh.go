package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/kubeprovision/internal/remote"
)

type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dialer opens authenticated sessions to fleet hosts. It is safe for
// concurrent use; every Connect yields an independent connection.
type Dialer struct {
	Port       int
	Auth       []xssh.AuthMethod
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Net        ContextDialer
}

func (d *Dialer) config(user string) (*xssh.ClientConfig, error) {
	if len(d.Auth) == 0 {
		return nil, errors.New("ssh: no auth method configured")
	}
	hk := d.KnownHosts
	if hk == nil {
		hk = xssh.InsecureIgnoreHostKey()
	}
	return &xssh.ClientConfig{
		User:            user,
		Auth:            d.Auth,
		HostKeyCallback: hk,
		Timeout:         d.Timeout,
	}, nil
}

// Connect dials host and completes the SSH handshake. Failures are not retried.
func (d *Dialer) Connect(ctx context.Context, user, host string) (*Session, error) {
	cfg, err := d.config(user)
	if err != nil {
		return nil, err
	}
	port := d.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	nd := d.Net
	if nd == nil {
		nd = &net.Dialer{Timeout: d.Timeout}
	}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// the handshake itself is not context aware; closing the conn unblocks it
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := xssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	log.Debug().Str("addr", addr).Str("user", user).Msg("ssh connected")
	return &Session{addr: addr, client: xssh.NewClient(c, chans, reqs)}, nil
}

// Session is one authenticated connection to a single host.
type Session struct {
	addr   string
	client *xssh.Client
}

// Addr returns the host:port the session is connected to.
func (s *Session) Addr() string { return s.addr }

// Run executes inv in a fresh channel and waits for it to exit.
func (s *Session) Run(ctx context.Context, inv remote.Invocation) (remote.Outcome, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return remote.Outcome{}, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var stderr bytes.Buffer
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(CommandLine(inv)) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(xssh.SIGKILL)
		return remote.Outcome{}, ctx.Err()
	case err := <-done:
		var exitErr *xssh.ExitError
		switch {
		case err == nil:
			return remote.Outcome{Succeeded: true, Stderr: stderr.Bytes()}, nil
		case errors.As(err, &exitErr):
			return remote.Outcome{Stderr: stderr.Bytes()}, nil
		default:
			return remote.Outcome{}, fmt.Errorf("run command: %w", err)
		}
	}
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.client.Close() }

// CommandLine renders inv as a single POSIX shell line, quoting every word.
func CommandLine(inv remote.Invocation) string {
	words := make([]string, 0, len(inv.Args)+1)
	words = append(words, quote(inv.Name))
	for _, a := range inv.Args {
		words = append(words, quote(a))
	}
	return strings.Join(words, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,@%+", r)
}
