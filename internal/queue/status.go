package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kravchenkoegor/aura/internal/models"
)

// statusStream is the per-task event stream the relay tails.
func statusStream(taskID uuid.UUID) string {
	return fmt.Sprintf("task:%s:updates", taskID)
}

// StatusPublisher appends StatusEvents to the per-task update stream.
type StatusPublisher struct {
	client *redis.Client
	maxLen int64
}

// NewStatusPublisher builds a publisher. maxLen caps each per-task stream;
// zero means uncapped.
func NewStatusPublisher(client *redis.Client, maxLen int64) *StatusPublisher {
	return &StatusPublisher{client: client, maxLen: maxLen}
}

// Publish appends one event. Events for one task are appended in publish
// order and the stream preserves that order for the tailing relay.
func (p *StatusPublisher) Publish(ctx context.Context, event models.StatusEvent) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: statusStream(event.TaskID),
		MaxLen: p.maxLen,
		Approx: true,
		Values: event.Values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("publish status %s for %s: %w", event.Status, event.TaskID, err)
	}
	return nil
}

// StatusTail reads a task's update stream from "new messages only". The
// starting position is resolved when the tail is opened, so events published
// after Open are seen even if the first Next call races them.
type StatusTail struct {
	client *redis.Client
	taskID uuid.UUID
	lastID string
	block  time.Duration
}

// OpenStatusTail positions a tail after the last entry currently in the
// task's stream. History is not replayed.
func OpenStatusTail(ctx context.Context, client *redis.Client, taskID uuid.UUID, block time.Duration) (*StatusTail, error) {
	lastID := "0-0"
	msgs, err := client.XRevRangeN(ctx, statusStream(taskID), "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("resolve tail position for %s: %w", taskID, err)
	}
	if len(msgs) > 0 {
		lastID = msgs[0].ID
	}
	return &StatusTail{client: client, taskID: taskID, lastID: lastID, block: block}, nil
}

// Next blocks until at least one new event arrives and returns the oldest
// unread one. It returns ctx.Err() once the context is cancelled. Errors
// from the stream read are returned to the caller, which decides whether to
// retry.
func (t *StatusTail) Next(ctx context.Context) (models.StatusEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.StatusEvent{}, err
		}
		res, err := t.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{statusStream(t.taskID), t.lastID},
			Count:   1,
			Block:   t.block,
		}).Result()
		if err == redis.Nil {
			continue // block timeout, nothing new yet
		}
		if err != nil {
			return models.StatusEvent{}, fmt.Errorf("read status stream for %s: %w", t.taskID, err)
		}
		for _, str := range res {
			for _, msg := range str.Messages {
				t.lastID = msg.ID
				return models.ParseStatusEvent(t.taskID, msg.Values)
			}
		}
	}
}
