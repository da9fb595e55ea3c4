package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"golang.org/x/time/rate"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/pkg/logger"
)

// Launcher starts a worker script and returns without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, script string, args []string) error
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context, script string, args []string) error

func (f LaunchFunc) Launch(ctx context.Context, script string, args []string) error {
	return f(ctx, script, args)
}

// ProcessLauncher runs scripts through a shell in their own session so they
// outlive both the request and the server process.
type ProcessLauncher struct {
	shell   string
	limiter *rate.Limiter
}

// NewProcessLauncher creates a launcher from config.
func NewProcessLauncher(scripts config.ScriptsConfig, cfg config.LauncherConfig) *ProcessLauncher {
	l := &ProcessLauncher{shell: scripts.Shell}
	if l.shell == "" {
		l.shell = "/bin/sh"
	}

	if cfg.RateLimitPerMinute > 0 {
		rps := float64(cfg.RateLimitPerMinute) / 60.0
		l.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		logger.Infof("🚦 Worker spawn rate limit: %d/min", cfg.RateLimitPerMinute)
	}

	return l
}

// CommandLine composes the shell command line. Args are expected to be
// quoted already; the script path is quoted here.
func CommandLine(script string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellescape.Quote(script))
	parts = append(parts, args...)
	return strings.Join(parts, " ")
}

// Launch spawns script detached. Output goes to /dev/null: workers write
// their own log and status files.
func (l *ProcessLauncher) Launch(ctx context.Context, script string, args []string) error {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	if err := checkExecutable(script); err != nil {
		return err
	}

	cmdline := CommandLine(script, args)
	logger.Debugf("  Command: %s -c %s", l.shell, cmdline)

	// Not CommandContext: the worker must survive the request context.
	cmd := exec.Command(l.shell, "-c", cmdline)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", script, err)
	}

	pid := cmd.Process.Pid
	logger.Debugf("🚀 Spawned %s (pid %d)", script, pid)

	// Reap so the host never accumulates defunct children.
	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

func checkExecutable(script string) error {
	info, err := os.Stat(script)
	if err != nil {
		return fmt.Errorf("worker script %s: %w", script, err)
	}
	if info.IsDir() {
		return fmt.Errorf("worker script %s is a directory", script)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("worker script %s is not executable", script)
	}
	return nil
}
