package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Companion.Model = "custom-model"
	cfg.Gateway.Port = 9123
	cfg.Channels.Discord.AllowFrom = FlexibleStringSlice{"123", "someone"}

	require.NoError(t, SaveConfig(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "config may hold API keys")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", loaded.Companion.Model)
	assert.Equal(t, 9123, loaded.Gateway.Port)
	assert.Equal(t, FlexibleStringSlice{"123", "someone"}, loaded.Channels.Discord.AllowFrom)
}

func TestSaveConfigCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "config.json")

	require.NoError(t, SaveConfig(path, DefaultConfig()))

	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}
