package ssh

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"androidssh/internal/settings"

	"golang.org/x/crypto/ssh/knownhosts"
)

func TestExecute_Connects_Lazily(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	if m.State() != Disconnected {
		t.Fatalf("expected a new manager to be disconnected, got %s", m.State())
	}

	res, err := m.Execute(context.Background(), "echo hello", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if res.Stdout != "hello\n" || res.Stderr != "" || res.ExitCode != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	if m.State() != Connected {
		t.Errorf("expected connected, got %s", m.State())
	}

	trans := m.Transitions()
	if len(trans) != 2 || trans[0].From != Disconnected || trans[0].To != Connecting || trans[1].To != Connected {
		t.Errorf("unexpected transitions: %+v", trans)
	}

	status := m.Status()
	if status.SessionID == "" || status.User != "u0_a555" || status.ConnectedAt.IsZero() {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestExecute_Nonzero_Exit_Is_A_Result(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	res, err := m.Execute(context.Background(), "fail", 5*time.Second)
	if err != nil {
		t.Fatalf("expected no error for a non-zero exit, got %v", err)
	}

	if res.ExitCode != 3 || res.Stderr != "boom\n" || res.Success() {
		t.Errorf("unexpected result: %+v", res)
	}

	if m.State() != Connected {
		t.Errorf("expected session to stay connected, got %s", m.State())
	}
}

func TestExecute_Reuses_Connection(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	for i := 0; i < 3; i++ {
		if _, err := m.Execute(context.Background(), "echo again", 5*time.Second); err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}
	}

	if n := srv.accepts.Load(); n != 1 {
		t.Errorf("expected a single connection, got %d", n)
	}
}

func TestExecute_Timeout_Keeps_Session(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	rec := &eventRecorder{}
	m.OnEvent(rec.record)

	start := time.Now()
	_, err := m.Execute(context.Background(), "sleep", 200*time.Millisecond)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}

	if !strings.Contains(err.Error(), "sleep") {
		t.Errorf("expected error to name the command, got %v", err)
	}

	if m.State() != Connected {
		t.Errorf("expected session to stay connected after a timeout, got %s", m.State())
	}

	if rec.count(EventCommandTimeout) != 1 {
		t.Errorf("expected one command_timeout event, got %v", rec.types())
	}

	res, err := m.Execute(context.Background(), "echo still here", 5*time.Second)
	if err != nil || res.Stdout != "still here\n" {
		t.Fatalf("expected the session to be usable after a timeout, got %+v, %v", res, err)
	}

	if n := srv.accepts.Load(); n != 1 {
		t.Errorf("expected the same connection to be reused, got %d connections", n)
	}

	if n := srv.signals.Load(); n != 0 {
		t.Errorf("expected no signal to be sent on timeout, got %d", n)
	}
}

func TestExecute_Cancel_Keeps_Session(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := m.Execute(ctx, "sleep", 5*time.Second)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if errors.Is(err, ErrExecution) || errors.Is(err, ErrTimeout) {
		t.Errorf("cancellation must not look like a channel failure or timeout: %v", err)
	}

	if m.State() != Connected {
		t.Errorf("expected session to stay connected after cancellation, got %s", m.State())
	}

	res, err := m.Execute(context.Background(), "echo again", 5*time.Second)
	if err != nil || res.Stdout != "again\n" {
		t.Fatalf("expected the session to be usable after cancellation, got %+v, %v", res, err)
	}
}

func TestExecute_Serializes_Commands(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Execute(context.Background(), "nap", 5*time.Second); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Execute failed: %v", err)
	}

	if peak := srv.maxRunning.Load(); peak != 1 {
		t.Errorf("expected at most one command in flight, got %d", peak)
	}

	if n := srv.accepts.Load(); n != 1 {
		t.Errorf("expected one connection, got %d", n)
	}
}

func TestExecute_Queued_Caller_Honours_Context(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	started := make(chan struct{}, 1)
	m.OnEvent(func(e Event) {
		if e.Type == EventCommandStarted {
			select {
			case started <- struct{}{}:
			default:
			}
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Execute(context.Background(), "sleep", time.Second)
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Execute(ctx, "echo queued", 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the queued caller to give up, got %v", err)
	}

	<-done
}

func TestExecute_Transport_Loss_Disconnects(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	_, err := m.Execute(context.Background(), "die", 5*time.Second)
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}

	if m.State() != Disconnected {
		t.Errorf("expected disconnected after transport loss, got %s", m.State())
	}

	if _, err := m.Execute(context.Background(), "echo back", 5*time.Second); err != nil {
		t.Fatalf("expected the next command to reconnect, got %v", err)
	}

	sawReconnecting := false
	for _, tr := range m.Transitions() {
		if tr.From == Disconnected && tr.To == Reconnecting {
			sawReconnecting = true
		}
	}

	if !sawReconnecting {
		t.Errorf("expected a Disconnected -> Reconnecting transition, got %+v", m.Transitions())
	}

	if n := srv.accepts.Load(); n != 2 {
		t.Errorf("expected two connections, got %d", n)
	}
}

func TestExecute_Missing_Exit_Status(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))
	defer m.Disconnect()

	_, err := m.Execute(context.Background(), "nostatus", 5*time.Second)
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}

	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestConnect_Missing_Credentials(t *testing.T) {
	srv := startTestServer(t)

	cfg := srv.keySettings(t)
	cfg.KeyPath = ""

	m := testManager(newFakeSource(cfg))

	if err := m.Connect(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}

	if n := srv.accepts.Load(); n != 0 {
		t.Errorf("expected no network activity, got %d connections", n)
	}

	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestConnect_Unreadable_Key_Fails_Fast(t *testing.T) {
	srv := startTestServer(t)

	badKey := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(badKey, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	for _, keyPath := range []string{badKey, filepath.Join(t.TempDir(), "missing")} {
		cfg := srv.passwordSettings(t, testPassword)
		cfg.KeyPath = keyPath

		m := testManager(newFakeSource(cfg))

		if err := m.Connect(context.Background()); !errors.Is(err, ErrConfig) {
			t.Errorf("expected ErrConfig for %s, got %v", keyPath, err)
		}
	}

	if n := srv.accepts.Load(); n != 0 {
		t.Errorf("expected no network activity, got %d connections", n)
	}
}

func TestConnect_Password(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.passwordSettings(t, testPassword)))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if m.State() != Connected {
		t.Errorf("expected connected, got %s", m.State())
	}
}

func TestConnect_Falls_Back_To_Password(t *testing.T) {
	srv := startTestServer(t)

	unknownKey, _ := generateKeyFile(t, t.TempDir(), "other_key")

	cfg := srv.passwordSettings(t, testPassword)
	cfg.KeyPath = unknownKey

	m := testManager(newFakeSource(cfg))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("expected password fallback to succeed, got %v", err)
	}
}

func TestConnect_Auth_Failure_Is_Not_Retried(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.passwordSettings(t, "wrong")))

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}

	if strings.Contains(err.Error(), "wrong") {
		t.Errorf("error must not contain the password: %v", err)
	}

	if n := srv.accepts.Load(); n != 1 {
		t.Errorf("expected exactly one attempt, got %d", n)
	}

	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestConnect_Retries_Three_Times(t *testing.T) {
	addr, accepts := startClosingListener(t)

	srv := &testServer{addr: addr}
	cfg := srv.passwordSettings(t, testPassword)

	m := testManager(newFakeSource(cfg))
	rec := &eventRecorder{}
	m.OnEvent(rec.record)

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	if n := accepts.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}

	if n := rec.count(EventConnectFailed); n != 3 {
		t.Errorf("expected 3 connect_failed events, got %d", n)
	}

	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}

	if m.Status().Retries != 3 {
		t.Errorf("expected retries to be 3, got %d", m.Status().Retries)
	}
}

func TestConnect_Retries_Are_Spaced_By_Retry_Delay(t *testing.T) {
	addr, accepted := startTimedClosingListener(t)

	srv := &testServer{addr: addr}
	delay := 150 * time.Millisecond

	m := testManager(newFakeSource(srv.passwordSettings(t, testPassword)), WithRetryDelay(delay))

	if err := m.Connect(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	times := accepted()
	if len(times) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(times))
	}

	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < delay {
			t.Errorf("attempt %d came %s after the previous one, want at least %s", i+1, gap, delay)
		}
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(newFakeSource(testSettingsForState()))

	if DefaultConnectAttempts != 3 || m.attempts != 3 {
		t.Errorf("expected 3 connect attempts, got default %d, manager %d", DefaultConnectAttempts, m.attempts)
	}

	if DefaultRetryDelay != 2*time.Second || m.retryDelay != 2*time.Second {
		t.Errorf("expected a 2s retry delay, got default %s, manager %s", DefaultRetryDelay, m.retryDelay)
	}

	if m.State() != Disconnected {
		t.Errorf("expected a new manager to be disconnected, got %s", m.State())
	}
}

func TestConnect_Retry_Wait_Honours_Context(t *testing.T) {
	addr, accepts := startClosingListener(t)

	srv := &testServer{addr: addr}
	m := testManager(newFakeSource(srv.passwordSettings(t, testPassword)), WithRetryDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := m.Connect(ctx); !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}

	if n := accepts.Load(); n != 1 {
		t.Errorf("expected a single attempt before the context ended, got %d", n)
	}
}

func TestConnect_Known_Hosts(t *testing.T) {
	srv := startTestServer(t)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)

	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	cfg := srv.keySettings(t)
	cfg.KnownHostsPath = knownHosts

	m := testManager(newFakeSource(cfg))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("expected known host to be accepted, got %v", err)
	}
}

func TestConnect_Known_Hosts_Mismatch_Is_Not_Retried(t *testing.T) {
	srv := startTestServer(t)
	_, otherKey := generateKeyFile(t, t.TempDir(), "other_host")

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, otherKey)

	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	cfg := srv.keySettings(t)
	cfg.KnownHostsPath = knownHosts

	m := testManager(newFakeSource(cfg))

	if err := m.Connect(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	if n := srv.accepts.Load(); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestEnsureConnected_Reconnects_On_Settings_Change(t *testing.T) {
	srv := startTestServer(t)
	source := newFakeSource(srv.keySettings(t))

	m := testManager(source)
	defer m.Disconnect()

	ctx := context.Background()

	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	if n := srv.accepts.Load(); n != 1 {
		t.Fatalf("expected EnsureConnected to be a no-op while connected, got %d connections", n)
	}

	first := m.Status().SessionID

	source.set(srv.passwordSettings(t, testPassword))

	if err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected after reconfiguration failed: %v", err)
	}

	if n := srv.accepts.Load(); n != 2 {
		t.Errorf("expected a reconnect after the settings changed, got %d connections", n)
	}

	if m.Status().SessionID == first {
		t.Errorf("expected a new session id after reconnecting")
	}

	trans := m.Transitions()
	last := trans[len(trans)-2]

	if last.From != Connected || last.To != Reconnecting {
		t.Errorf("expected Connected -> Reconnecting, got %+v", trans)
	}
}

func TestEnsureConnected_Invalid_Reconfiguration_Drops_Session(t *testing.T) {
	srv := startTestServer(t)
	source := newFakeSource(srv.keySettings(t))

	m := testManager(source)
	defer m.Disconnect()

	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	source.set(settings.Settings{Host: "10.0.0.1", Port: 8022})

	if err := m.EnsureConnected(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}

	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestDisconnect_Is_Idempotent(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.keySettings(t)))

	rec := &eventRecorder{}
	m.OnEvent(rec.record)

	m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m.Disconnect()
	m.Disconnect()

	if m.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}

	if n := rec.count(EventDisconnected); n != 1 {
		t.Errorf("expected one disconnected event, got %d (%v)", n, rec.types())
	}

	m.mu.RLock()
	cred, client := m.sess.credential, m.sess.client
	m.mu.RUnlock()

	if cred != nil || client != nil {
		t.Errorf("expected credential and transport to be released")
	}
}

func TestEvents_Never_Carry_Password(t *testing.T) {
	srv := startTestServer(t)
	m := testManager(newFakeSource(srv.passwordSettings(t, testPassword)))

	rec := &eventRecorder{}
	m.OnEvent(rec.record)

	if _, err := m.Execute(context.Background(), "echo hi", 5*time.Second); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	m.Disconnect()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.events) == 0 {
		t.Fatal("expected events")
	}

	for _, e := range rec.events {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		if strings.Contains(string(data), testPassword) {
			t.Errorf("event leaks the password: %s", data)
		}
	}

	var finished *Event
	for i := range rec.events {
		if rec.events[i].Type == EventCommandFinished {
			finished = &rec.events[i]
		}
	}

	if finished == nil || finished.ExecutionID == "" || finished.ExitCode == nil || *finished.ExitCode != 0 {
		t.Errorf("unexpected command_finished event: %+v", finished)
	}
}
