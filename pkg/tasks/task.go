package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is a job descriptor carried by a queue. Expiry is a property of the
// message: a task not started before ExpiresAt is dropped unexecuted.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"` // zero means never
}

// NewTask builds a task for name with a JSON encoded payload. A non-positive
// expiresIn produces a task that never expires.
func NewTask(name string, payload any, expiresIn time.Duration, now time.Time) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("task name is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %s: %w", name, err)
	}

	task := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    data,
		EnqueuedAt: now,
	}
	if expiresIn > 0 {
		task.ExpiresAt = now.Add(expiresIn)
	}

	return task, nil
}

// Expired reports whether the task may no longer be started at now
func (t *Task) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Decode unmarshals the task payload into v
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of task %s (%s): %w", t.ID, t.Name, err)
	}
	return nil
}
