// Package queue runs finalize tasks one at a time in the background.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/m3u-dvr/pkg/logger"
)

// historyLimit caps how many finished tasks are kept for stats.
const historyLimit = 200

// Processor is the interface that processes a task.
type Processor interface {
	Process(ctx context.Context, task *Task) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task *Task) error

func (f ProcessorFunc) Process(ctx context.Context, task *Task) error { return f(ctx, task) }

// Queue manages the sequential processing of tasks. At most one unfinished
// task exists per recording ID.
type Queue struct {
	mu        sync.RWMutex
	tasks     []*Task
	taskMap   map[string]*Task // latest task per recording ID
	tasksChan chan *Task

	processor  Processor
	maxRetries int
	retryDelay time.Duration

	completed int
	failed    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new finalize queue.
func New(processor Processor, maxRetries, retryDelayMs int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &Queue{
		tasks:      make([]*Task, 0),
		taskMap:    make(map[string]*Task),
		tasksChan:  make(chan *Task, 100),
		processor:  processor,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	logger.Info("📥 Finalize queue started (sequential processing)")
}

// Stop gracefully stops the queue and waits for in-flight work.
func (q *Queue) Stop() {
	logger.Info("🛑 Stopping finalize queue...")
	q.cancel()
	q.wg.Wait()
	logger.Info("✅ Finalize queue stopped")
}

// Enqueue schedules recordingID for finalization. It returns false when a
// task for the same ID is already pending or running, or the queue is stopped.
func (q *Queue) Enqueue(recordingID, source string) bool {
	if q.ctx.Err() != nil {
		return false
	}
	q.mu.Lock()
	if t, ok := q.taskMap[recordingID]; ok && !t.done() {
		q.mu.Unlock()
		return false
	}
	task := NewTask(recordingID, source)
	q.tasks = append(q.tasks, task)
	q.taskMap[recordingID] = task
	q.trimLocked()
	q.mu.Unlock()

	logger.Infof("📥 Finalize queued: %s (%s)", recordingID, source)

	select {
	case q.tasksChan <- task:
	default:
		logger.Warnf("⚠️ Finalize channel full, %s will be processed later", recordingID)
		q.send(task, 0)
	}
	return true
}

// GetTask returns the latest task for recordingID, or nil.
func (q *Queue) GetTask(recordingID string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.taskMap[recordingID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Pending returns the number of unfinished tasks.
func (q *Queue) Pending() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, t := range q.tasks {
		if !t.done() {
			n++
		}
	}
	return n
}

// GetQueueStats returns queue statistics.
func (q *Queue) GetQueueStats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending, processing := 0, 0
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			pending++
		case StatusProcessing:
			processing++
		case StatusCompleted, StatusFailed:
		}
	}

	return map[string]int{
		"tracked":    len(q.tasks),
		"pending":    pending,
		"processing": processing,
		"completed":  q.completed,
		"failed":     q.failed,
	}
}

// trimLocked drops the oldest finished tasks beyond historyLimit.
func (q *Queue) trimLocked() {
	if len(q.tasks) <= historyLimit {
		return
	}
	kept := q.tasks[:0]
	excess := len(q.tasks) - historyLimit
	for _, t := range q.tasks {
		if excess > 0 && t.done() {
			excess--
			if q.taskMap[t.ID] == t {
				delete(q.taskMap, t.ID)
			}
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
}

// send delivers task after delay unless the queue is stopped first.
func (q *Queue) send(task *Task, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				return
			}
		}
		select {
		case q.tasksChan <- task:
		case <-q.ctx.Done():
		}
	}()
}

// worker processes tasks sequentially.
func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasksChan:
			q.processTask(task)
		}
	}
}

func (q *Queue) processTask(task *Task) {
	q.mu.Lock()
	task.Status = StatusProcessing
	task.StartedAt = time.Now()
	q.mu.Unlock()

	logger.Debugf("🔄 Finalizing: %s", task.ID)

	err := q.processor.Process(q.ctx, task)

	q.mu.Lock()
	defer q.mu.Unlock()

	if err != nil {
		task.Retries++
		task.Error = err.Error()

		if task.Retries < q.maxRetries && q.ctx.Err() == nil {
			logger.Warnf("⚠️ Finalize %s failed (attempt %d/%d): %v", task.ID, task.Retries, q.maxRetries, err)
			task.Status = StatusPending
			q.send(task, q.retryDelay)
		} else {
			logger.Errorf("❌ Finalize %s failed after %d attempts: %v", task.ID, task.Retries, err)
			task.Status = StatusFailed
			task.CompletedAt = time.Now()
			q.failed++
		}
		return
	}

	task.Status = StatusCompleted
	task.CompletedAt = time.Now()
	task.Error = ""
	q.completed++
}
