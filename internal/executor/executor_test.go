package executor

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3u-dvr/internal/config"
)

func TestCommandLine_QuotesScript(t *testing.T) {
	line := CommandLine("/opt/my scripts/rec.sh", []string{"--user", "'a@b.c'"})
	assert.Equal(t, "'/opt/my scripts/rec.sh' --user 'a@b.c'", line)
}

func TestProcessLauncher_RunsDetached(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := filepath.Join(dir, "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntouch \"$2\"\n"), 0o755))

	l := NewProcessLauncher(config.ScriptsConfig{Shell: "/bin/sh"}, config.LauncherConfig{})
	require.NoError(t, l.Launch(context.Background(), script, []string{"--marker", marker}))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestProcessLauncher_SpawnFailures(t *testing.T) {
	dir := t.TempDir()
	l := NewProcessLauncher(config.ScriptsConfig{}, config.LauncherConfig{})

	err := l.Launch(context.Background(), filepath.Join(dir, "missing.sh"), nil)
	assert.Error(t, err)

	notExec := filepath.Join(dir, "plain.sh")
	require.NoError(t, os.WriteFile(notExec, []byte("#!/bin/sh\n"), 0o644))
	assert.Error(t, l.Launch(context.Background(), notExec, nil))
}

func TestProcessLauncher_RateLimitHonoursContext(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "noop.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	l := NewProcessLauncher(config.ScriptsConfig{}, config.LauncherConfig{RateLimitPerMinute: 1})
	require.NoError(t, l.Launch(context.Background(), script, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Launch(ctx, script, nil))
}

func TestProcessOracle(t *testing.T) {
	var o ProcessOracle
	ctx := context.Background()

	assert.True(t, o.IsAlive(ctx, os.Getpid()))
	assert.False(t, o.IsAlive(ctx, 0))
	assert.False(t, o.IsAlive(ctx, -5))
	assert.False(t, o.IsAlive(ctx, 1<<30))

	// out of range for the OS, must not wrap onto init
	assert.False(t, o.IsAlive(ctx, 4294967297))
	assert.False(t, o.IsAlive(ctx, math.MaxInt32+1))
}
