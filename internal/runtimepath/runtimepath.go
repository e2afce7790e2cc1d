package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	productDirName  = ".gitshelf"
	commandsDirName = "mcp-commands"
)

// Dir returns the per-user gitshelf directory. Priority:
// 1) GITSHELF_HOME (if set)
// 2) $HOME/.gitshelf
func Dir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("GITSHELF_HOME")); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = strings.TrimSpace(os.Getenv("HOME"))
	}
	if home == "" {
		return "", fmt.Errorf("failed to resolve gitshelf directory: home directory is not set")
	}
	return filepath.Join(home, productDirName), nil
}

// CommandsDir returns the shared broker directory where processes hand
// UI commands to each other.
func CommandsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, commandsDirName), nil
}

// ConfigPath returns the default config file location.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogPath returns the default log file location.
func LogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "gitshelf.log"), nil
}
