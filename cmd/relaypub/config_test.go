package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkovv/relaypub/internal/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaypub.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_AllKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
relay = "wss://relay.example.com"
key_path = "/tmp/k.key"
timeout = "15s"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com", cfg.RelayURL)
	assert.Equal(t, "/tmp/k.key", cfg.KeyPath)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
}

func TestLoadConfig_DefaultsForAbsentKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `relay = "wss://r.example"`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, session.DefaultTimeout, cfg.Timeout)
	assert.Empty(t, cfg.KeyPath)
}

func TestLoadConfig_BadTimeout(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `timeout = "soon"`)
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestParseTags(t *testing.T) {
	t.Parallel()
	tags, err := parseTags("t=demo,client=relaypub")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, []string{"t", "demo"}, tags[0])
	assert.Equal(t, []string{"client", "relaypub"}, tags[1])

	tags, err = parseTags("")
	require.NoError(t, err)
	assert.Nil(t, tags)

	_, err = parseTags("novalue")
	require.Error(t, err)

	_, err = parseTags("=v")
	require.Error(t, err)
}
