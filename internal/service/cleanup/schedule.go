package cleanup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3u-dvr/pkg/logger"
)

// Scheduler runs a full cleanup (sweep, then dangling prune) on a cron
// schedule. Runs never overlap.
type Scheduler struct {
	sweeper     *Sweeper
	danglingAge time.Duration
	cron        *cron.Cron
	ctx         context.Context
	cancel      context.CancelFunc

	mu      sync.Mutex
	running bool
}

// ParseSchedule validates a standard 5-field cron spec or a descriptor such
// as "@every 1h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	e := strings.TrimSpace(spec)
	if e == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	return cron.ParseStandard(e)
}

// NewScheduler creates a stopped scheduler for spec.
func NewScheduler(sweeper *Sweeper, spec string, danglingAge time.Duration) (*Scheduler, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sweeper:     sweeper,
		danglingAge: danglingAge,
		cron:        cron.New(),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.RunOnce(s.ctx) }))
	return s, nil
}

// Start begins running on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Infof("🧹 Cleanup scheduled")
}

// Stop cancels any running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunOnce performs one cleanup. It returns false if a run was already in
// progress.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Debugf("🧹 Cleanup already running, skipping")
		return false
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.sweeper.Sweep(ctx, false); err != nil {
		logger.Errorf("❌ Cleanup sweep failed: %v", err)
	}
	if _, err := s.sweeper.DeleteOldDanglingJobs(ctx, s.danglingAge); err != nil {
		logger.Errorf("❌ Dangling cleanup failed: %v", err)
	}
	return true
}
