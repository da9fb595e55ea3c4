package executor

import (
	"context"
	"math"
	"slices"

	"github.com/shirou/gopsutil/v4/process"
)

// Oracle answers whether a PID belongs to a running process.
type Oracle interface {
	IsAlive(ctx context.Context, pid int) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, pid int) bool

func (f OracleFunc) IsAlive(ctx context.Context, pid int) bool { return f(ctx, pid) }

// ProcessOracle queries the OS process table. Every failure counts as dead.
type ProcessOracle struct{}

func (ProcessOracle) IsAlive(ctx context.Context, pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return !slices.Contains(status, process.Zombie)
}
