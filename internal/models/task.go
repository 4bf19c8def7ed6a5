package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates lifecycle states persisted in Postgres.
// Transitions are one-directional: pending -> in_progress -> one of the
// terminal states. A retry is a new Task row, never a reused one.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusFailed     TaskStatus = "failed"
	StatusSkipped    TaskStatus = "skipped"
)

// Terminal reports whether no further status may follow s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// TaskType discriminates which worker pool handles a task.
type TaskType string

const (
	TaskTypeIngest   TaskType = "ingest"
	TaskTypeGenerate TaskType = "generate"
)

// Task represents one unit of background work and its lifecycle state.
type Task struct {
	ID           uuid.UUID      `json:"id"`
	Type         TaskType       `json:"type"`
	Status       TaskStatus     `json:"status"`
	PostID       string         `json:"post_id"`
	ImageID      *uuid.UUID     `json:"image_id,omitempty"`
	UserID       uuid.UUID      `json:"user_id"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Duration     *time.Duration `json:"duration,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}
