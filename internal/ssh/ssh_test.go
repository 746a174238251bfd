package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/kubeprovision/internal/remote"
)

// testServer accepts any client key and answers exec requests through handle.
type testServer struct {
	ln     net.Listener
	mu     sync.Mutex
	execs  []string
	handle func(cmd string) (stderr string, status uint32)
}

func startServer(t *testing.T, handle func(string) (string, uint32)) *testServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := xssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)
	cfg := &xssh.ServerConfig{
		PublicKeyCallback: func(xssh.ConnMetadata, xssh.PublicKey) (*xssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &testServer{ln: ln, handle: handle}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg)
		}
	}()
	return srv
}

func (s *testServer) serve(conn net.Conn, cfg *xssh.ServerConfig) {
	_, chans, reqs, err := xssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go xssh.DiscardRequests(reqs)
	for nc := range chans {
		ch, chReqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type == "subsystem" {
					_ = req.Reply(true, nil)
					if srv, err := sftp.NewServer(ch); err == nil {
						_ = srv.Serve()
					}
					return
				}
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = xssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				s.mu.Lock()
				s.execs = append(s.execs, payload.Command)
				s.mu.Unlock()
				stderr, status := s.handle(payload.Command)
				_, _ = ch.Stderr().Write([]byte(stderr))
				_, _ = ch.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func (s *testServer) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func testDialer(t *testing.T, port int) *Dialer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := xssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return &Dialer{Port: port, Auth: []xssh.AuthMethod{xssh.PublicKeys(signer)}, Timeout: 5 * time.Second}
}

func TestSessionRun(t *testing.T) {
	srv := startServer(t, func(cmd string) (string, uint32) {
		if strings.HasPrefix(cmd, "false") {
			return "boom", 1
		}
		return "", 0
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := testDialer(t, srv.port()).Connect(ctx, "ubuntu", "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(srv.port()), sess.Addr())

	out, err := sess.Run(ctx, remote.Sudo("swapoff", "-a").Invocation())
	require.NoError(t, err)
	assert.True(t, out.Succeeded)

	// a non-zero exit is an outcome, not a transport error
	out, err = sess.Run(ctx, remote.Exec("false").Invocation())
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	assert.Equal(t, "boom", string(out.Stderr))

	require.NoError(t, remote.Execute(ctx, sess, remote.Bash("echo 'hi there' > /tmp/x")))
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"sudo swapoff -a", "false", `bash -c 'echo '\''hi there'\'' > /tmp/x'`}, srv.execs)
}

func TestSessionRunCanceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := startServer(t, func(cmd string) (string, uint32) {
		if strings.HasPrefix(cmd, "sleep") {
			select {
			case <-release:
			case <-time.After(30 * time.Second):
			}
		}
		return "", 0
	})

	sess, err := testDialer(t, srv.port()).Connect(context.Background(), "ubuntu", "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	out, err := sess.Run(ctx, remote.Exec("sleep", "600").Invocation())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ctx.Err(), err)
	assert.False(t, out.Succeeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = testDialer(t, port).Connect(context.Background(), "ubuntu", "127.0.0.1")
	assert.Error(t, err)
}

func TestConnectRequiresAuth(t *testing.T) {
	d := &Dialer{}
	_, err := d.Connect(context.Background(), "ubuntu", "127.0.0.1")
	assert.ErrorContains(t, err, "no auth method")
}

func TestCommandLine(t *testing.T) {
	cases := map[string]remote.Invocation{
		"sudo swapoff -a":                  remote.Sudo("swapoff", "-a").Invocation(),
		"sudo sysctl --system":             remote.Sudo("sysctl", "--system").Invocation(),
		"bash -c 'echo $HOME'":             remote.Bash("echo $HOME").Invocation(),
		"service containerd status":        remote.Exec("service", "containerd", "status").Invocation(),
		"sudo mkdir -p /etc/containerd ''": remote.Sudo("mkdir", "-p", "/etc/containerd", "").Invocation(),
		`bash -c 'printf '\''a\nb'\'''`:    remote.Bash(`printf 'a\nb'`).Invocation(),
	}
	for want, inv := range cases {
		assert.Equal(t, want, CommandLine(inv), "%v", inv)
	}
}

func TestSessionUpload(t *testing.T) {
	srv := startServer(t, func(string) (string, uint32) { return "", 0 })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := testDialer(t, srv.port()).Connect(ctx, "ubuntu", "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "kubeadm.yaml")
	content := []byte("kind: InitConfiguration\n")
	require.NoError(t, os.WriteFile(local, content, 0o640))
	dst := filepath.Join(dir, "remote", "etc", "kubeadm.yaml")
	require.NoError(t, sess.Upload(ctx, local, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Error(t, sess.Upload(ctx, filepath.Join(dir, "missing"), dst))
}
