package queue

import (
	"time"
)

// TaskStatus represents the current state of a finalize task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Task asks for one job to be finalized.
type Task struct {
	ID          string     `json:"id"`     // recording ID
	Source      string     `json:"source"` // what noticed the terminal status: watcher, callback, poll
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Retries     int        `json:"retries"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// NewTask creates a pending task for recordingID.
func NewTask(recordingID, source string) *Task {
	return &Task{
		ID:        recordingID,
		Source:    source,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

func (t *Task) done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
