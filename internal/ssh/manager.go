package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"androidssh/internal/logger"
	"androidssh/internal/settings"

	"github.com/google/uuid"
	"github.com/melbahja/goph"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultConnectAttempts   = 3
	DefaultRetryDelay        = 2 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
)

// SettingsSource supplies the current connection settings and a revision that
// changes whenever they do.
type SettingsSource interface {
	Snapshot() (settings.Settings, uint64, error)
}

type Option func(*Manager)

func WithConnectAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.dialTimeout = d
		}
	}
}

// WithKeepaliveInterval sets the keepalive period. Zero disables keepalives.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.keepaliveInterval = d
	}
}

// WithHostKeyCallback overrides host key verification for every connection.
func WithHostKeyCallback(cb gossh.HostKeyCallback) Option {
	return func(m *Manager) {
		m.hostKeyCallback = cb
	}
}

type session struct {
	id          string
	state       State
	host        string
	port        int
	user        string
	credential  *Credential
	client      *goph.Client
	retries     int
	revision    uint64
	connectedAt time.Time
	stop        chan struct{}
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID   string    `json:"session_id,omitempty"`
	State       State     `json:"state"`
	Host        string    `json:"host,omitempty"`
	Port        int       `json:"port,omitempty"`
	User        string    `json:"user,omitempty"`
	Retries     int       `json:"retries"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// Manager owns the single SSH session to the device. Commands are serialized;
// State and Status never block behind a running command.
type Manager struct {
	source SettingsSource

	attempts          int
	retryDelay        time.Duration
	dialTimeout       time.Duration
	keepaliveInterval time.Duration
	hostKeyCallback   gossh.HostKeyCallback

	// slot is held by whoever is connecting or executing.
	slot chan struct{}

	mu            sync.RWMutex
	sess          session
	connectedOnce bool
	generation    uint64
	transitions   []Transition

	listenersMu sync.RWMutex
	listeners   []EventListener
}

func NewManager(source SettingsSource, opts ...Option) *Manager {
	m := &Manager{
		source:            source,
		attempts:          DefaultConnectAttempts,
		retryDelay:        DefaultRetryDelay,
		dialTimeout:       DefaultDialTimeout,
		keepaliveInterval: DefaultKeepaliveInterval,
		slot:              make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.state
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		SessionID:   m.sess.id,
		State:       m.sess.state,
		Host:        m.sess.host,
		Port:        m.sess.port,
		User:        m.sess.user,
		Retries:     m.sess.retries,
		ConnectedAt: m.sess.connectedAt,
	}
}

// Transitions returns a copy of the most recent state transitions, oldest first.
func (m *Manager) Transitions() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for the session: %w", ctx.Err())
	}
}

func (m *Manager) release() {
	<-m.slot
}

// transitionLocked moves the session to next. Illegal transitions are refused
// and logged. Caller holds m.mu.
func (m *Manager) transitionLocked(next State, reason string) bool {
	from := m.sess.state
	if from == next {
		return true
	}

	if !from.CanTransitionTo(next) {
		logger.Warn("Refusing session transition %s -> %s (%s)", from, next, reason)
		return false
	}

	m.sess.state = next
	m.transitions = appendTransition(m.transitions, Transition{From: from, To: next, At: time.Now(), Reason: reason})

	logger.Debug("Session %s: %s -> %s (%s)", m.sess.id, from, next, reason)

	return true
}

// teardownLocked closes the live transport, if any, and moves to next. It
// reports whether there was a transport to close. Caller holds m.mu.
func (m *Manager) teardownLocked(next State, reason string) bool {
	client := m.sess.client
	m.sess.client = nil
	m.sess.connectedAt = time.Time{}

	if m.sess.stop != nil {
		close(m.sess.stop)
		m.sess.stop = nil
	}

	m.transitionLocked(next, reason)

	if client == nil {
		return false
	}

	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("Closing SSH transport: %v", err)
	}

	return true
}

// Connect (re)establishes the session from the current settings.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	return m.connect(ctx)
}

// EnsureConnected is a no-op while the session is connected and the settings
// revision has not changed. Otherwise it connects, replacing any live
// transport.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	return m.ensureConnected(ctx)
}

func (m *Manager) ensureConnected(ctx context.Context) error {
	m.mu.RLock()
	state, revision := m.sess.state, m.sess.revision
	m.mu.RUnlock()

	if state == Connected {
		if _, current, err := m.source.Snapshot(); err == nil && current == revision {
			return nil
		}
	}

	return m.connect(ctx)
}

// connect runs with the slot held.
func (m *Manager) connect(ctx context.Context) error {
	cfg, revision, err := m.source.Snapshot()

	if err == nil {
		err = cfg.Validate()
	}

	var cred *Credential
	if err == nil {
		cred, err = NewCredential(cfg)
	}

	var auth []gossh.AuthMethod
	if err == nil {
		auth, err = cred.AuthMethods()
	}

	var hostKeys gossh.HostKeyCallback
	if err == nil {
		hostKeys, err = m.hostKeys(cfg)
	}

	if err != nil {
		cred.Wipe()

		m.mu.Lock()
		dropped := m.teardownLocked(Disconnected, "invalid configuration")
		m.mu.Unlock()

		if dropped {
			m.emit(Event{Type: EventDisconnected, SessionID: m.Status().SessionID, Error: err.Error()})
		}

		if errors.Is(err, ErrConfig) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	id := uuid.NewString()

	m.mu.Lock()
	next, eventType := Connecting, EventConnecting
	if m.connectedOnce {
		next, eventType = Reconnecting, EventReconnecting
	}
	m.teardownLocked(next, "connect")
	m.sess.credential.Wipe()
	m.sess.id = id
	m.sess.host = cfg.Host
	m.sess.port = cfg.Port
	m.sess.user = cfg.User
	m.sess.credential = cred
	m.sess.retries = 0
	generation := m.generation
	m.mu.Unlock()

	m.emit(Event{Type: eventType, SessionID: id, Host: cfg.Address(), User: cfg.User})

	clientConfig := &gossh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         m.dialTimeout,
	}

	var lastErr error

	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, m.retryDelay); err != nil {
				lastErr = err
				break
			}
		}

		client, err := m.dial(ctx, cfg.Address(), clientConfig)

		if err == nil {
			return m.install(client, generation, revision, cfg)
		}

		lastErr = err

		m.mu.Lock()
		m.sess.retries = attempt
		m.mu.Unlock()

		m.emit(Event{Type: EventConnectFailed, SessionID: id, Host: cfg.Address(), Attempt: attempt, Error: err.Error()})

		if isAuthError(err) || isHostKeyError(err) || ctx.Err() != nil {
			break
		}
	}

	m.mu.Lock()
	m.transitionLocked(Disconnected, "connect failed")
	m.mu.Unlock()

	switch {
	case isAuthError(lastErr):
		return fmt.Errorf("%w: %s@%s: %v", ErrAuth, cfg.User, cfg.Address(), lastErr)
	case isHostKeyError(lastErr):
		return fmt.Errorf("%w: host key verification failed for %s: %v", ErrConnection, cfg.Address(), lastErr)
	default:
		return fmt.Errorf("%w: %s after %d attempt(s): %v", ErrConnection, cfg.Address(), m.sessRetries(), lastErr)
	}
}

func (m *Manager) sessRetries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.retries
}

func (m *Manager) install(client *gossh.Client, generation, revision uint64, cfg settings.Settings) error {
	m.mu.Lock()

	if m.generation != generation {
		m.mu.Unlock()
		client.Close()
		return fmt.Errorf("%w: session was closed while connecting to %s", ErrConnection, cfg.Address())
	}

	handle := &goph.Client{Client: client}
	stop := make(chan struct{})

	m.sess.client = handle
	m.sess.stop = stop
	m.sess.revision = revision
	m.sess.connectedAt = time.Now()
	m.connectedOnce = true
	m.transitionLocked(Connected, "handshake complete")
	id := m.sess.id
	m.mu.Unlock()

	go m.watch(handle)

	if m.keepaliveInterval > 0 {
		go m.keepalive(handle, stop)
	}

	logger.Info("Connected to %s as %s", logger.Sanitize(cfg.Address()), logger.Sanitize(cfg.User))
	m.emit(Event{Type: EventConnected, SessionID: id, Host: cfg.Address(), User: cfg.User})

	return nil
}

func (m *Manager) dial(ctx context.Context, addr string, config *gossh.ClientConfig) (*gossh.Client, error) {
	dialer := net.Dialer{Timeout: m.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, err
	}

	return gossh.NewClient(sshConn, chans, reqs), nil
}

func (m *Manager) hostKeys(cfg settings.Settings) (gossh.HostKeyCallback, error) {
	if m.hostKeyCallback != nil {
		return m.hostKeyCallback, nil
	}

	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.ExpandedKnownHostsPath())
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load known_hosts %s: %v", ErrConfig, cfg.KnownHostsPath, err)
		}
		return cb, nil
	}

	logger.Warn("Host key verification is disabled for %s; set known_hosts to enable it", logger.Sanitize(cfg.Address()))

	return gossh.InsecureIgnoreHostKey(), nil
}

// watch moves the session to Disconnected when the transport goes away on its
// own.
func (m *Manager) watch(handle *goph.Client) {
	err := handle.Wait()
	m.transportLost(handle, fmt.Errorf("connection closed: %v", err))
}

func (m *Manager) keepalive(handle *goph.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(m.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := handle.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logger.Warn("Keepalive failed: %v", err)
				handle.Close()
				return
			}
		}
	}
}

// transportLost tears the session down if handle is still the live transport.
func (m *Manager) transportLost(handle *goph.Client, cause error) {
	m.mu.Lock()
	if m.sess.client != handle {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(Disconnected, "transport lost")
	id, host := m.sess.id, fmt.Sprintf("%s:%d", m.sess.host, m.sess.port)
	m.mu.Unlock()

	m.emit(Event{Type: EventTransportLost, SessionID: id, Host: host, Error: cause.Error()})
}

// Disconnect closes the session. It is idempotent, never waits for a running
// command, and always leaves the session Disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	wasActive := m.sess.state != Disconnected || m.sess.client != nil
	m.teardownLocked(Disconnected, "disconnect")
	m.sess.credential.Wipe()
	m.sess.credential = nil
	id := m.sess.id
	m.mu.Unlock()

	if wasActive {
		m.emit(Event{Type: EventDisconnected, SessionID: id})
	}
}

// Execute runs command on the device, connecting first if needed. Commands
// run one at a time; a caller waiting its turn gives up when ctx ends. On
// timeout the channel is closed and ErrTimeout returned, but the session stays
// connected and the remote process is not signalled.
func (m *Manager) Execute(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	if err := m.acquire(ctx); err != nil {
		return CommandResult{}, err
	}
	defer m.release()

	if err := m.ensureConnected(ctx); err != nil {
		return CommandResult{}, err
	}

	m.mu.RLock()
	handle, id, host := m.sess.client, m.sess.id, fmt.Sprintf("%s:%d", m.sess.host, m.sess.port)
	m.mu.RUnlock()

	if handle == nil {
		return CommandResult{}, fmt.Errorf("%w: session is not connected", ErrExecution)
	}

	execID := uuid.NewString()
	base := Event{SessionID: id, Host: host, ExecutionID: execID, Command: command}

	started := base
	started.Type = EventCommandStarted
	m.emit(started)

	start := time.Now()
	result, err := m.run(ctx, handle, command, timeout)

	done := base
	done.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err == nil:
		done.Type = EventCommandFinished
		done.ExitCode = &result.ExitCode
	case errors.Is(err, ErrTimeout):
		done.Type = EventCommandTimeout
		done.Error = err.Error()
	default:
		done.Type = EventCommandFailed
		done.Error = err.Error()
	}

	m.emit(done)

	return result, err
}

func (m *Manager) run(ctx context.Context, handle *goph.Client, command string, timeout time.Duration) (CommandResult, error) {
	name := commandName(command)

	sess, err := handle.NewSession()
	if err != nil {
		m.transportLost(handle, err)
		return CommandResult{}, fmt.Errorf("%w: %s: failed to open session: %v", ErrExecution, name, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(command); err != nil {
		m.transportLost(handle, err)
		return CommandResult{}, fmt.Errorf("%w: %s: failed to start: %v", ErrExecution, name, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- sess.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		return m.finish(handle, name, stdout.String(), stderr.String(), err)
	case <-timer.C:
		sess.Close()
		return CommandResult{}, fmt.Errorf("%w: %s exceeded %s", ErrTimeout, name, timeout)
	case <-ctx.Done():
		sess.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return CommandResult{}, fmt.Errorf("%w: %s: %v", ErrTimeout, name, ctx.Err())
		}
		return CommandResult{}, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}
}

func (m *Manager) finish(handle *goph.Client, name, stdout, stderr string, err error) (CommandResult, error) {
	result := CommandResult{Stdout: stdout, Stderr: stderr}

	if err == nil {
		return result, nil
	}

	var exitErr *gossh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		if result.ExitCode == 0 && exitErr.Signal() != "" {
			result.ExitCode = -1
		}
		return result, nil
	}

	m.transportLost(handle, err)

	var missing *gossh.ExitMissingError
	if errors.As(err, &missing) {
		return CommandResult{}, fmt.Errorf("%w: %s: remote side exited without status", ErrExecution, name)
	}

	return CommandResult{}, fmt.Errorf("%w: %s: %v", ErrExecution, name, err)
}

func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "command"
	}
	return logger.Sanitize(fields[0])
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func isHostKeyError(err error) bool {
	if err == nil {
		return false
	}

	var keyErr *knownhosts.KeyError
	var revokedErr *knownhosts.RevokedError

	if errors.As(err, &keyErr) || errors.As(err, &revokedErr) {
		return true
	}

	return strings.Contains(err.Error(), "knownhosts: ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
