// Package command defines the UI-intent commands that gitshelf routes
// between processes.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names a UI action. The set is closed.
type Kind string

const (
	KindOpenStashView        Kind = "open-stash-view"
	KindOpenGraphView        Kind = "open-graph-view"
	KindOpenCommitDetails    Kind = "open-commit-details"
	KindOpenFileHistory      Kind = "open-file-history"
	KindOpenContributorsView Kind = "open-contributors-view"
)

var kinds = []Kind{
	KindOpenStashView,
	KindOpenGraphView,
	KindOpenCommitDetails,
	KindOpenFileHistory,
	KindOpenContributorsView,
}

// Kinds returns every known command kind.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind validates s as a command kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", fmt.Errorf("unknown command kind %q", s)
	}
	return k, nil
}

// Command is a UI-intent instruction addressed to a workspace. It is
// treated as immutable once created.
type Command struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"type"`
	RepoRoot  string         `json:"repoRoot"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
}

// New creates a command stamped with a fresh id and the current time.
func New(kind Kind, repoRoot string, payload map[string]any) (*Command, error) {
	return NewAt(kind, repoRoot, payload, time.Now())
}

// NewAt is New with an explicit creation time.
func NewAt(kind Kind, repoRoot string, payload map[string]any, now time.Time) (*Command, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	cmd := &Command{
		ID:        uuid.NewString(),
		Kind:      kind,
		RepoRoot:  repoRoot,
		Payload:   payload,
		Timestamp: now.UnixMilli(),
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate checks the invariants every routed command must hold.
func (c *Command) Validate() error {
	if c == nil {
		return errors.New("command is nil")
	}
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("command id is required")
	}
	if strings.ContainsAny(c.ID, `/\`) {
		return fmt.Errorf("command id %q contains a path separator", c.ID)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	if !filepath.IsAbs(c.RepoRoot) {
		return fmt.Errorf("repo root %q must be an absolute path", c.RepoRoot)
	}
	if c.Timestamp <= 0 {
		return errors.New("command timestamp is required")
	}
	return nil
}

// Created returns the creation time.
func (c *Command) Created() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Age returns how long ago the command was created, relative to now.
func (c *Command) Age(now time.Time) time.Duration {
	return now.Sub(c.Created())
}

// Expired reports whether the command is older than maxAge.
func (c *Command) Expired(now time.Time, maxAge time.Duration) bool {
	return c.Age(now) > maxAge
}

// Marshal encodes the command in its at-rest form.
func (c *Command) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Unmarshal decodes and validates an at-rest command.
func Unmarshal(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if cmd.Payload == nil {
		cmd.Payload = map[string]any{}
	}
	return &cmd, nil
}
