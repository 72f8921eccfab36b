package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPathHonoursXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "deskcast", "config.json"), path)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	m, err := NewManager()
	require.NoError(t, err)
	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSaveAndLoad(t *testing.T) {
	m := NewManagerAt(filepath.Join(t.TempDir(), "nested", "config.json"))

	want := DefaultSettings()
	want.Signal = "wss://relay.example.com/ws"
	want.Codec = "h264"
	want.TURNServer = "turn:turn.example.com:3478"
	want.ForceRelay = true
	require.NoError(t, m.Save(want))

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := NewManagerAt(m.Path()).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadValidatesAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"fps": 500, "pointerHz": -1, "codec": "vp9"}`), 0644))

	s, err := NewManagerAt(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 30, s.FPS)
	assert.Equal(t, 120, s.PointerHz)
	assert.Equal(t, "vp9", s.Codec)
	assert.Equal(t, "high", s.Quality, "missing fields keep defaults")
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := NewManagerAt(path).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}
