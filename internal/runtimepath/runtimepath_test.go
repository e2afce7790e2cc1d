package runtimepath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirUsesGitshelfHome(t *testing.T) {
	t.Setenv("GITSHELF_HOME", "/tmp/gitshelf-home")

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/gitshelf-home", dir)
}

func TestDirFallsBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GITSHELF_HOME", "")
	t.Setenv("HOME", home)

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".gitshelf"), dir)
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv("GITSHELF_HOME", "/data/gs")

	commands, err := CommandsDir()
	require.NoError(t, err)
	assert.Equal(t, "/data/gs/mcp-commands", commands)

	cfg, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/data/gs/config.yaml", cfg)

	logPath, err := LogPath()
	require.NoError(t, err)
	assert.Equal(t, "/data/gs/logs/gitshelf.log", logPath)
}
