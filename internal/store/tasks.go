package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kravchenkoegor/aura/internal/models"
)

const taskColumns = `id, type, status, post_id, image_id, user_id, error_message, started_at, ended_at, duration, created_at, updated_at`

// CreateTaskParams collects inputs required to insert a task.
type CreateTaskParams struct {
	ID     uuid.UUID
	Type   models.TaskType
	PostID string
	UserID uuid.UUID
}

// CreateTask inserts a task in pending state.
func (q queries) CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error) {
	now := time.Now().UTC()
	_, err := q.db.Exec(ctx, `
		INSERT INTO tasks (id, type, status, post_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Type, models.StatusPending, p.PostID, p.UserID, now)
	if err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return models.Task{
		ID:        p.ID,
		Type:      p.Type,
		Status:    models.StatusPending,
		PostID:    p.PostID,
		UserID:    p.UserID,
		CreatedAt: now,
	}, nil
}

// GetTask fetches a task by id.
func (q queries) GetTask(ctx context.Context, id uuid.UUID) (models.Task, error) {
	row := q.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListTasksParams filters and paginates a task listing. A nil UserID lists
// tasks across all owners (privileged callers only).
type ListTasksParams struct {
	UserID *uuid.UUID
	Status *models.TaskStatus
	Limit  int
	Offset int
}

// ListTasks returns tasks newest-first.
func (q queries) ListTasks(ctx context.Context, p ListTasksParams) ([]models.Task, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ($1::uuid IS NULL OR user_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, p.UserID, p.Status, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SetTaskStatusParams carries one lifecycle mutation. Only the worker
// processing the task's job should call SetTaskStatus for it; the store does
// not enforce that exclusivity.
type SetTaskStatusParams struct {
	TaskID       uuid.UUID
	Status       models.TaskStatus
	ErrorMessage *string
	StartedAt    *time.Time
	EndedAt      *time.Time
	Duration     *time.Duration
}

// SetTaskStatus records a status transition with its timestamps.
func (q queries) SetTaskStatus(ctx context.Context, p SetTaskStatusParams) error {
	var interval pgtype.Interval
	if p.Duration != nil {
		interval = pgtype.Interval{Microseconds: p.Duration.Microseconds(), Valid: true}
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE tasks
		SET status = $2,
		    error_message = COALESCE($3, error_message),
		    started_at = COALESCE($4, started_at),
		    ended_at = COALESCE($5, ended_at),
		    duration = COALESCE($6, duration),
		    updated_at = NOW()
		WHERE id = $1
	`, p.TaskID, p.Status, p.ErrorMessage, p.StartedAt, p.EndedAt, interval)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set task status %s: %w", p.TaskID, ErrNotFound)
	}
	return nil
}

func scanTask(row pgx.Row) (models.Task, error) {
	var task models.Task
	var errorMessage pgtype.Text
	var imageID *uuid.UUID
	var startedAt, endedAt, updatedAt pgtype.Timestamptz
	var duration pgtype.Interval

	err := row.Scan(&task.ID, &task.Type, &task.Status, &task.PostID, &imageID,
		&task.UserID, &errorMessage, &startedAt, &endedAt, &duration,
		&task.CreatedAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("scan task: %w", err)
	}

	task.ImageID = imageID
	if errorMessage.Valid {
		task.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		task.EndedAt = &endedAt.Time
	}
	if updatedAt.Valid {
		task.UpdatedAt = &updatedAt.Time
	}
	if duration.Valid {
		d := time.Duration(duration.Microseconds) * time.Microsecond
		task.Duration = &d
	}
	return task, nil
}
