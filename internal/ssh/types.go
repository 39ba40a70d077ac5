package ssh

import (
	"fmt"
	"sync"

	"androidssh/internal/logger"
	"androidssh/internal/settings"

	"github.com/melbahja/goph"
	gossh "golang.org/x/crypto/ssh"
)

// CommandResult is the outcome of a command that ran to completion. A
// non-zero ExitCode is a result, not an error.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Credential holds the authentication material for one connection. Secrets
// are kept as byte slices so Wipe can zero them.
type Credential struct {
	mu         sync.Mutex
	keyPath    string
	passphrase []byte
	password   []byte
}

// NewCredential builds a credential from settings. It fails with ErrConfig
// when neither a key path nor a password is configured.
func NewCredential(s settings.Settings) (*Credential, error) {
	if s.KeyPath == "" && s.Password == "" {
		return nil, fmt.Errorf("%w: no SSH key or password configured", ErrConfig)
	}

	return &Credential{
		keyPath:    s.ExpandedKeyPath(),
		passphrase: []byte(s.Passphrase),
		password:   []byte(s.Password),
	}, nil
}

func (c *Credential) KeyPath() string {
	return c.keyPath
}

func (c *Credential) HasPassword() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.password) > 0
}

// AuthMethods returns the key method first and the password method second, so
// a server that rejects the key can still accept the password within the same
// handshake. A key that cannot be read or parsed is a configuration error even
// when a password is available. The methods keep their own copy of the
// password, so a concurrent Wipe does not affect a handshake in progress.
func (c *Credential) AuthMethods() ([]gossh.AuthMethod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var methods []gossh.AuthMethod

	if c.keyPath != "" {
		if mode, open := settings.KeyFileTooOpen(c.keyPath); open {
			logger.Warn("SSH key %s has permissions %04o; run chmod 600 on it", logger.Sanitize(c.keyPath), mode)
		}

		auth, err := goph.Key(c.keyPath, string(c.passphrase))

		if err != nil {
			return nil, fmt.Errorf("%w: failed to load SSH key %s: %v", ErrConfig, c.keyPath, err)
		}

		methods = append(methods, auth...)
	}

	if len(c.password) > 0 {
		password := string(c.password)
		methods = append(methods, gossh.PasswordCallback(func() (string, error) {
			return password, nil
		}))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no SSH key or password configured", ErrConfig)
	}

	return methods, nil
}

// Wipe zeroes the secrets. The credential is unusable afterwards.
func (c *Credential) Wipe() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.passphrase {
		c.passphrase[i] = 0
	}

	for i := range c.password {
		c.password[i] = 0
	}

	c.passphrase = nil
	c.password = nil
}

func (c *Credential) String() string {
	if c == nil {
		return "Credential{}"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	password := "unset"
	if len(c.password) > 0 {
		password = "***"
	}

	return fmt.Sprintf("Credential{key_path: %q, password: %s}", c.keyPath, password)
}
