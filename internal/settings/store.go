package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"androidssh/internal/logger"
	"androidssh/internal/templates"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

var envKeys = []string{"host", "port", "user", "key_path", "passphrase", "password", "known_hosts"}

const fileHeader = "# Android SSH MCP Server Configuration\n# Written by androidssh setup. Environment variables ANDROID_SSH_* override these values.\n\n"

// Store is the file-backed settings provider. Every Snapshot re-reads the
// file and the environment; the revision changes whenever the effective
// settings change or Save is called.
type Store struct {
	mu       sync.Mutex
	path     string
	current  Settings
	revision uint64
	loaded   bool
	stale    bool
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// SetPath points the store at another file. The next Snapshot hands out a
// new revision.
func (s *Store) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == s.path {
		return
	}
	s.path = path
	s.stale = true
}

// Snapshot returns the effective settings (file overlaid with ANDROID_SSH_*
// environment variables) and their revision.
func (s *Store) Snapshot() (Settings, uint64, error) {
	loaded, err := s.load()
	if err != nil {
		return Settings{}, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || s.stale || loaded != s.current {
		s.revision++
		s.current = loaded
		s.loaded = true
		s.stale = false
	}

	return s.current, s.revision, nil
}

// Revision returns the revision of the last snapshot without reloading.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *Store) load() (Settings, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetDefault("port", DefaultPort)
	v.SetEnvPrefix(EnvPrefix)

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Settings{}, fmt.Errorf("failed to bind %s_%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}

	path := s.Path()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return Settings{}, fmt.Errorf("%w: failed to parse config file %s: %v", ErrInvalid, path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// environment-only configuration
	default:
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var out Settings
	if err := v.Unmarshal(&out); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	out.Host = strings.TrimSpace(out.Host)
	out.User = strings.TrimSpace(out.User)

	return out, nil
}

// LoadFile reads only the config file, ignoring the environment. The boolean
// reports whether the file exists.
func (s *Store) LoadFile() (Settings, bool, error) {
	path := s.Path()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var out Settings
	if err := toml.Unmarshal(data, &out); err != nil {
		return Settings{}, true, fmt.Errorf("%w: failed to parse config file %s: %v", ErrInvalid, path, err)
	}

	return out, true, nil
}

// Save validates and writes the settings, then marks the current revision
// stale so the next Snapshot hands out a new one.
func (s *Store) Save(in Settings) error {
	if in.Port == 0 {
		in.Port = DefaultPort
	}

	if err := in.Validate(); err != nil {
		return err
	}

	body, err := toml.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	path := s.Path()

	if err := writeFileAtomic(path, append([]byte(fileHeader), body...)); err != nil {
		return err
	}

	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()

	logger.Info("Saved config to %s (host=%s, user=%s, auth=%s)", path, logger.Sanitize(in.Address()), logger.Sanitize(in.User), in.AuthMethod())

	return nil
}

// EnsureFile writes the commented template when no config file exists yet.
func (s *Store) EnsureFile() (bool, error) {
	path := s.Path()

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	body, err := templates.Render(templates.ConfigFile, map[string]interface{}{
		"defaultPort": DefaultPort,
		"envPrefix":   EnvPrefix,
	})
	if err != nil {
		return false, err
	}

	if err := writeFileAtomic(path, []byte(body)); err != nil {
		return false, err
	}

	logger.Info("Created config template at: %s", path)

	return true, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
