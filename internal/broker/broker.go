// Package broker hands UI commands between gitshelf processes through a
// shared directory. Each command is one JSON file named after the hash of
// its target workspace, so a process can tell whether a file is addressed
// to it without opening it.
package broker

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/1broseidon/gitshelf/internal/command"
	"github.com/1broseidon/gitshelf/internal/logging"
	"github.com/1broseidon/gitshelf/internal/workspace"
)

const fileExt = ".json"

// Broker reads and writes command files in one directory.
type Broker struct {
	dir string
	log *logrus.Entry
}

// New returns a broker rooted at dir. The directory is created lazily.
func New(dir string) *Broker {
	return &Broker{
		dir: dir,
		log: logging.NewLogger("broker"),
	}
}

// WithLogger replaces the broker's logger.
func (b *Broker) WithLogger(log *logrus.Entry) *Broker {
	b.log = log
	return b
}

// Dir returns the broker directory.
func (b *Broker) Dir() string {
	return b.dir
}

// FileName builds "{workspaceHash}-{commandID}.json".
func FileName(hash, id string) string {
	return hash + "-" + id + fileExt
}

// ParseFileName splits a command file name (or path) into its workspace
// hash and command id.
func ParseFileName(name string) (hash, id string, ok bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, fileExt) {
		return "", "", false
	}
	base = strings.TrimSuffix(base, fileExt)
	if len(base) < workspace.HashLength+2 || base[workspace.HashLength] != '-' {
		return "", "", false
	}
	hash, id = base[:workspace.HashLength], base[workspace.HashLength+1:]
	if !workspace.IsHash(hash) {
		return "", "", false
	}
	return hash, id, true
}

// PathFor returns where cmd is stored.
func (b *Broker) PathFor(cmd *command.Command) string {
	return filepath.Join(b.dir, FileName(workspace.Hash(cmd.RepoRoot), cmd.ID))
}

func (b *Broker) ensureDir() error {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create broker dir %s: %w", b.dir, err)
	}
	return nil
}

// Write persists cmd for its owning process to pick up. The file appears
// atomically, so watchers never see a partial write.
func (b *Broker) Write(cmd *command.Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	if err := b.ensureDir(); err != nil {
		b.log.WithError(err).Warn("Command hand-off failed")
		return "", err
	}
	data, err := cmd.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to encode command %s: %w", cmd.ID, err)
	}
	path := b.PathFor(cmd)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		b.log.WithError(err).WithField("file", filepath.Base(path)).Warn("Command hand-off failed")
		return "", fmt.Errorf("failed to write command file: %w", err)
	}
	b.log.WithFields(logrus.Fields{
		"file": filepath.Base(path),
		"type": cmd.Kind,
	}).Debug("Command handed off")
	return path, nil
}

// Read loads the command stored at path.
func (b *Broker) Read(path string) (*command.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return command.Unmarshal(data)
}

// Remove deletes a command file. A file that is already gone counts as
// removed, since another process may have claimed it first.
func (b *Broker) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ModTime returns the file's modification time.
func (b *Broker) ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// List returns the paths of all command files, sorted by name. A missing
// directory yields an empty list.
func (b *Broker) List() ([]string, error) {
	return b.scan(func(name string) bool {
		_, _, ok := ParseFileName(name)
		return ok
	})
}

// Leftovers returns temp files abandoned by writers that died between
// creating the temp file and renaming it into place.
func (b *Broker) Leftovers() ([]string, error) {
	return b.scan(IsLeftover)
}

// IsLeftover reports whether name is an atomic-write temp file for a
// command file, shaped {hash}-{id}.json<suffix>.
func IsLeftover(name string) bool {
	base := filepath.Base(name)
	if len(base) < workspace.HashLength+2 || base[workspace.HashLength] != '-' {
		return false
	}
	if !workspace.IsHash(base[:workspace.HashLength]) {
		return false
	}
	i := strings.LastIndex(base, fileExt)
	return i > workspace.HashLength+1 && i+len(fileExt) < len(base)
}

func (b *Broker) scan(match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(b.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
