package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"androidssh/internal/settings"

	gossh "golang.org/x/crypto/ssh"
)

const testPassword = "s3cret-pw"

// testServer is a minimal in-process sshd. It understands a handful of
// commands:
//
//	echo <text>  writes text to stdout, exits 0
//	fail         writes "boom" to stderr, exits 3
//	nap          sleeps briefly, exits 0
//	sleep        blocks until the client closes the channel
//	nostatus     closes the channel without an exit status
//	die          drops the TCP connection
type testServer struct {
	addr    string
	hostKey gossh.PublicKey
	keyPath string

	accepts atomic.Int32
	signals atomic.Int32

	running    atomic.Int32
	maxRunning atomic.Int32

	listener net.Listener
}

func generateKeyFile(t *testing.T, dir, name string) (string, gossh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("convert public key: %v", err)
	}

	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	return path, sshPub
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("create host signer: %v", err)
	}

	keyPath, clientPub := generateKeyFile(t, t.TempDir(), "id_ed25519")

	cfg := &gossh.ServerConfig{
		PublicKeyCallback: func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientPub.Marshal()) {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
		PasswordCallback: func(conn gossh.ConnMetadata, password []byte) (*gossh.Permissions, error) {
			if string(password) == testPassword {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &testServer{
		addr:     listener.Addr().String(),
		hostKey:  hostSigner.PublicKey(),
		keyPath:  keyPath,
		listener: listener,
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			srv.accepts.Add(1)
			go srv.serve(conn, cfg)
		}
	}()

	t.Cleanup(func() { listener.Close() })

	return srv
}

func (s *testServer) serve(conn net.Conn, cfg *gossh.ServerConfig) {
	defer conn.Close()

	srvConn, chans, reqs, err := gossh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer srvConn.Close()

	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}

		go func() {
			for req := range requests {
				switch req.Type {
				case "exec":
					var payload struct{ Command string }
					if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
						req.Reply(false, nil)
						continue
					}
					req.Reply(true, nil)
					go s.exec(conn, ch, payload.Command)
				case "signal":
					s.signals.Add(1)
					if req.WantReply {
						req.Reply(false, nil)
					}
				default:
					if req.WantReply {
						req.Reply(false, nil)
					}
				}
			}
		}()
	}
}

func (s *testServer) exec(conn net.Conn, ch gossh.Channel, command string) {
	exit := func(code uint32) {
		ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{code}))
		ch.Close()
	}

	switch {
	case strings.HasPrefix(command, "echo "):
		io.WriteString(ch, strings.TrimPrefix(command, "echo ")+"\n")
		exit(0)
	case command == "fail":
		io.WriteString(ch.Stderr(), "boom\n")
		exit(3)
	case command == "nap":
		n := s.running.Add(1)
		for {
			peak := s.maxRunning.Load()
			if n <= peak || s.maxRunning.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		s.running.Add(-1)
		exit(0)
	case command == "sleep":
		io.Copy(io.Discard, ch)
		ch.Close()
	case command == "nostatus":
		ch.Close()
	case command == "die":
		conn.Close()
	default:
		io.WriteString(ch.Stderr(), command+": command not found\n")
		exit(127)
	}
}

func (s *testServer) hostPort(t *testing.T) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("split address: %v", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	return host, port
}

// keySettings authenticates with the authorized client key.
func (s *testServer) keySettings(t *testing.T) settings.Settings {
	host, port := s.hostPort(t)
	return settings.Settings{Host: host, Port: port, User: "u0_a555", KeyPath: s.keyPath}
}

func (s *testServer) passwordSettings(t *testing.T, password string) settings.Settings {
	host, port := s.hostPort(t)
	return settings.Settings{Host: host, Port: port, User: "u0_a555", Password: password}
}

// startClosingListener accepts TCP connections and closes them immediately.
func startClosingListener(t *testing.T) (string, *atomic.Int32) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var accepts atomic.Int32

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			conn.Close()
		}
	}()

	t.Cleanup(func() { listener.Close() })

	return listener.Addr().String(), &accepts
}

// startTimedClosingListener is startClosingListener that also records when
// each connection arrived.
func startTimedClosingListener(t *testing.T) (string, func() []time.Time) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		times []time.Time
	)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
			conn.Close()
		}
	}()

	t.Cleanup(func() { listener.Close() })

	return listener.Addr().String(), func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Time(nil), times...)
	}
}

type fakeSource struct {
	mu       sync.Mutex
	settings settings.Settings
	revision uint64
	err      error
}

func newFakeSource(s settings.Settings) *fakeSource {
	return &fakeSource{settings: s, revision: 1}
}

func (f *fakeSource) Snapshot() (settings.Settings, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, f.revision, f.err
}

func (f *fakeSource) set(s settings.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
	f.revision++
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) count(t EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func testManager(source SettingsSource, opts ...Option) *Manager {
	base := []Option{
		WithRetryDelay(10 * time.Millisecond),
		WithDialTimeout(2 * time.Second),
		WithKeepaliveInterval(0),
	}
	return NewManager(source, append(base, opts...)...)
}
