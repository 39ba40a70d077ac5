// Package classifier decides whether a shell command may run through the
// read-only path.
//
// Classification looks at the first whitespace-delimited token only. A
// compound command such as "ls; rm -rf /" is classified as "ls" and therefore
// read-only. This is a known limitation: the remote account's own permissions
// are the real security boundary.
package classifier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Timeout bounds, in seconds.
const (
	MinTimeout     = 1
	MaxTimeout     = 300
	DefaultTimeout = 30
)

var (
	ErrEmptyCommand      = errors.New("command is empty")
	ErrTimeoutOutOfRange = errors.New("timeout out of range")
)

// Class is the outcome of classifying a command. The zero value is the
// restrictive one.
type Class int

const (
	WriteCapable Class = iota
	ReadOnly
)

func (c Class) String() string {
	switch c {
	case WriteCapable:
		return "write-capable"
	case ReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// Classifier holds an immutable set of whitelisted command names.
type Classifier struct {
	commands map[string]struct{}
	groups   []Group
}

// New builds a classifier from a flat list of command names.
func New(commands ...string) *Classifier {
	return newFromGroups([]Group{{Name: "Custom", Commands: commands}})
}

func newFromGroups(groups []Group) *Classifier {
	c := &Classifier{
		commands: make(map[string]struct{}),
		groups:   make([]Group, 0, len(groups)),
	}

	for _, g := range groups {
		cmds := make([]string, 0, len(g.Commands))
		for _, name := range g.Commands {
			if name == "" {
				continue
			}
			if _, dup := c.commands[name]; dup {
				continue
			}
			c.commands[name] = struct{}{}
			cmds = append(cmds, name)
		}
		c.groups = append(c.groups, Group{Name: g.Name, Commands: cmds})
	}

	return c
}

// FirstToken returns the first whitespace-delimited token of the trimmed
// command, or "" for a blank command. No quote or operator parsing is done.
func FirstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Classify reports ReadOnly when the command's first token is whitelisted
// (exact, case-sensitive match) and WriteCapable otherwise.
func (c *Classifier) Classify(command string) Class {
	if c.Contains(FirstToken(command)) {
		return ReadOnly
	}
	return WriteCapable
}

// Contains reports whether name is an exact whitelist entry.
func (c *Classifier) Contains(name string) bool {
	if name == "" {
		return false
	}
	_, ok := c.commands[name]
	return ok
}

func (c *Classifier) Len() int {
	return len(c.commands)
}

// Commands returns the whitelisted names in lexical order.
func (c *Classifier) Commands() []string {
	out := make([]string, 0, len(c.commands))
	for name := range c.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Groups returns a copy of the categorised whitelist, in declaration order.
func (c *Classifier) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = Group{Name: g.Name, Commands: append([]string(nil), g.Commands...)}
	}
	return out
}

// ValidateTimeout accepts 1..300 seconds inclusive. Out-of-range values are
// rejected, never clamped.
func ValidateTimeout(seconds int) error {
	if seconds < MinTimeout || seconds > MaxTimeout {
		return fmt.Errorf("%w: timeout must be between %d and %d seconds, got %d", ErrTimeoutOutOfRange, MinTimeout, MaxTimeout, seconds)
	}
	return nil
}

// ValidateCommand rejects commands that are blank after trimming.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return ErrEmptyCommand
	}
	return nil
}
