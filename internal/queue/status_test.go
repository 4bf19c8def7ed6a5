package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kravchenkoegor/aura/internal/models"
)

func TestStatusPublishAndTailOrdering(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	taskID := uuid.New()
	pub := NewStatusPublisher(client, 100)

	tail, err := OpenStatusTail(ctx, client, taskID, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}

	events := []models.StatusEvent{
		{TaskID: taskID, Status: models.StatusInProgress, Detail: "Starting download..."},
		{TaskID: taskID, Status: models.StatusDone, Result: json.RawMessage(`[{"id":"img-1"}]`)},
	}
	for _, e := range events {
		if err := pub.Publish(ctx, e); err != nil {
			t.Fatalf("publish %s: %v", e.Status, err)
		}
	}

	got1, err := tail.Next(ctx)
	if err != nil {
		t.Fatalf("next 1: %v", err)
	}
	if got1.Status != models.StatusInProgress || got1.Detail != "Starting download..." {
		t.Fatalf("unexpected first event: %+v", got1)
	}

	got2, err := tail.Next(ctx)
	if err != nil {
		t.Fatalf("next 2: %v", err)
	}
	if got2.Status != models.StatusDone {
		t.Fatalf("unexpected second event: %+v", got2)
	}
	if string(got2.Result) != `[{"id":"img-1"}]` {
		t.Fatalf("unexpected result payload: %s", got2.Result)
	}
}

func TestStatusTailSkipsHistory(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	taskID := uuid.New()
	pub := NewStatusPublisher(client, 0)

	if err := pub.Publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusInProgress, Detail: "old"}); err != nil {
		t.Fatalf("publish history: %v", err)
	}

	tail, err := OpenStatusTail(ctx, client, taskID, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}
	if err := pub.Publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusDone}); err != nil {
		t.Fatalf("publish new: %v", err)
	}

	got, err := tail.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.Status != models.StatusDone {
		t.Fatalf("tail replayed history, got %+v", got)
	}
}

func TestStatusTailStopsOnCancel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tail, err := OpenStatusTail(context.Background(), client, uuid.New(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tail.Next(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after context cancel")
	}
}
