package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090
  base_url: http://dvr.local:9090
folders:
  cache: /tmp/dvr/cache
  jobs: /tmp/dvr/jobs
  work: /tmp/dvr/work
  media: /tmp/dvr/media
cleanup:
  min_age: 2h
services:
  - id: acme
    name: Acme IPTV
    server_url: http://acme.example:8000/
    max_connections: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/dvr/jobs", cfg.Folders.Jobs)
	assert.Equal(t, 2*time.Hour, cfg.Cleanup.MinAge)
	assert.Equal(t, 24*time.Hour, cfg.Cleanup.DanglingAge)
	assert.Equal(t, "@every 1h", cfg.Cleanup.Schedule)
	assert.Equal(t, 15*time.Second, cfg.Live.ViewerTimeout)
	assert.Equal(t, 10*time.Second, cfg.Live.WatchInterval)
	assert.Equal(t, "/bin/sh", cfg.Scripts.Shell)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, 2, cfg.Services[0].MaxConnections)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("M3U_DVR_SERVER_PORT", "7070")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLookupService(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	svc, ok := cfg.LookupService("http://acme.example:8000/movie/u/p/42.mkv")
	require.True(t, ok)
	assert.Equal(t, "acme", svc.ID)

	_, ok = cfg.LookupService("http://other.example/live.m3u8")
	assert.False(t, ok)

	byID, ok := cfg.ServiceByID("acme")
	require.True(t, ok)
	assert.Equal(t, "Acme IPTV", byID.Name)
}

func TestManager_OnChangeReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Stop()

	var got *Config
	m.OnChange(func(_, cur *Config) { got = cur })

	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"\nlive:\n  watch_interval: 3s\n"), 0o644))
	require.NoError(t, m.v.ReadInConfig())
	m.reload()

	require.NotNil(t, got)
	assert.Equal(t, 3*time.Second, got.Live.WatchInterval)
	assert.Equal(t, 3*time.Second, m.Get().Live.WatchInterval)
}
