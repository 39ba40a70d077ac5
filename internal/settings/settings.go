package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultPort    = 8022
	ConfigDirName  = "mcp-android-ssh"
	ConfigFileName = "config.toml"
	EnvPrefix      = "ANDROID_SSH"
)

var (
	ErrNotConfigured = errors.New("android ssh connection is not configured")
	ErrInvalid       = errors.New("invalid settings")
)

// Settings describes how to reach the Android device.
type Settings struct {
	Host           string `mapstructure:"host" toml:"host"`
	Port           int    `mapstructure:"port" toml:"port"`
	User           string `mapstructure:"user" toml:"user"`
	KeyPath        string `mapstructure:"key_path" toml:"key_path,omitempty"`
	Passphrase     string `mapstructure:"passphrase" toml:"passphrase,omitempty"`
	Password       string `mapstructure:"password" toml:"password,omitempty"`
	KnownHostsPath string `mapstructure:"known_hosts" toml:"known_hosts,omitempty"`
}

// AuthMethod names the preferred authentication method.
func (s Settings) AuthMethod() string {
	switch {
	case s.KeyPath != "":
		return "SSH key"
	case s.Password != "":
		return "Password"
	default:
		return "none"
	}
}

// Missing lists the required fields that are not set.
func (s Settings) Missing() []string {
	var missing []string
	if strings.TrimSpace(s.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(s.User) == "" {
		missing = append(missing, "user")
	}
	if s.KeyPath == "" && s.Password == "" {
		missing = append(missing, "key_path or password")
	}
	return missing
}

// Validate checks that the settings are complete enough to attempt a
// connection. It does not touch the network.
func (s Settings) Validate() error {
	if missing := s.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalid, s.Port)
	}
	return nil
}

// ExpandedKeyPath returns KeyPath with a leading ~ replaced by the home directory.
func (s Settings) ExpandedKeyPath() string {
	return ExpandHome(s.KeyPath)
}

func (s Settings) ExpandedKnownHostsPath() string {
	return ExpandHome(s.KnownHostsPath)
}

// KeyFileTooOpen reports whether the key file grants any access to group or
// others. Missing files are not reported.
func KeyFileTooOpen(path string) (fs.FileMode, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}

	mode := info.Mode().Perm()
	return mode, mode&0o077 != 0
}

// Address returns host:port for logging.
func (s Settings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	if s.Password != "" {
		s.Password = "***"
	}
	if s.Passphrase != "" {
		s.Passphrase = "***"
	}
	return s
}

// ExpandHome expands "~" and "~/..." using the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}

	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// DefaultPath returns <user config dir>/mcp-android-ssh/config.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, ConfigDirName, ConfigFileName), nil
}
