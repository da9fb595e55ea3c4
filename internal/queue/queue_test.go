package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_ProcessesAndDedupes(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string

	q := New(ProcessorFunc(func(_ context.Context, task *Task) error {
		<-release
		mu.Lock()
		seen = append(seen, task.ID)
		mu.Unlock()
		return nil
	}), 3, 10)
	q.Start()
	defer q.Stop()

	assert.True(t, q.Enqueue("rec-1", "watcher"))
	assert.False(t, q.Enqueue("rec-1", "callback"), "duplicate while unfinished")
	assert.True(t, q.Enqueue("rec-2", "poll"))
	close(release)

	require.Eventually(t, func() bool {
		return q.GetQueueStats()["completed"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"rec-1", "rec-2"}, seen)
	mu.Unlock()

	// a finished task may be queued again
	assert.True(t, q.Enqueue("rec-1", "poll"))
	require.Eventually(t, func() bool {
		return q.GetQueueStats()["completed"] == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusCompleted, q.GetTask("rec-1").Status)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	q := New(ProcessorFunc(func(context.Context, *Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("disk full")
	}), 3, 5)
	q.Start()
	defer q.Stop()

	q.Enqueue("rec-1", "watcher")
	require.Eventually(t, func() bool {
		return q.GetQueueStats()["failed"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	task := q.GetTask("rec-1")
	require.NotNil(t, task)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 3, task.Retries)
	assert.Equal(t, "disk full", task.Error)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestQueue_StopCancelsPendingRetry(t *testing.T) {
	q := New(ProcessorFunc(func(context.Context, *Task) error {
		return errors.New("busy")
	}), 5, 60_000)
	q.Start()

	q.Enqueue("rec-1", "watcher")
	require.Eventually(t, func() bool {
		task := q.GetTask("rec-1")
		return task != nil && task.Retries == 1
	}, 2*time.Second, 10*time.Millisecond)

	q.Stop()
	assert.False(t, q.Enqueue("rec-2", "watcher"))
	assert.Nil(t, q.GetTask("missing"))
}
