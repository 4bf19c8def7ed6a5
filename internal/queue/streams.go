package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kravchenkoegor/aura/internal/config"
)

// Streams is the durable ordered job log. Jobs are appended with XADD and
// consumed by competing workers under consumer-group semantics: a delivered
// entry stays in the group's pending list until it is acked, so a consumer
// crash does not silently lose it.
type Streams struct {
	client *redis.Client
}

// Entry is one delivered stream entry.
type Entry struct {
	ID     string
	Fields map[string]string
}

// NewStreams builds a streams client from config.
func NewStreams(cfg config.Config) *Streams {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Streams{client: client}
}

// NewStreamsWithClient wraps an existing Redis client. Used by tests and by
// processes that share one client across components.
func NewStreamsWithClient(client *redis.Client) *Streams {
	return &Streams{client: client}
}

// Client exposes the underlying Redis client for components that share it.
func (s *Streams) Client() *redis.Client { return s.client }

// Close releases the underlying connection pool.
func (s *Streams) Close() error { return s.client.Close() }

// EnsureGroup creates the consumer group positioned at the start of the
// stream, creating the stream itself if needed. A group that already exists
// is not an error.
func (s *Streams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Enqueue appends a job to the stream. It never blocks on consumers.
func (s *Streams) Enqueue(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadBatch returns entries not yet delivered to this group, blocking up to
// block if none are available. An empty batch after the block timeout is not
// an error.
func (s *Streams) ReadBatch(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, group, err)
	}

	var entries []Entry
	for _, str := range res {
		for _, msg := range str.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: stringFields(msg.Values)})
		}
	}
	return entries, nil
}

// Ack removes the entry from the group's pending list.
func (s *Streams) Ack(ctx context.Context, stream, group, entryID string) error {
	if err := s.client.XAck(ctx, stream, group, entryID).Err(); err != nil {
		return fmt.Errorf("xack %s/%s %s: %w", stream, group, entryID, err)
	}
	return nil
}

// PendingCount reports how many delivered-but-unacked entries the group
// holds. Exposed for telemetry and tests.
func (s *Streams) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	p, err := s.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}
	return p.Count, nil
}

func stringFields(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if str, ok := v.(string); ok {
			fields[k] = str
		} else {
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}
