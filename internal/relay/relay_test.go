package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/queue"
	"github.com/kravchenkoegor/aura/internal/store"
)

type fakeTaskReader struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]models.Task
	calls int
}

func (f *fakeTaskReader) GetTask(_ context.Context, id uuid.UUID) (models.Task, error) {
	f.mu.Lock()
	f.calls = f.calls + 1
	task, ok := f.tasks[id]
	f.mu.Unlock()
	if !ok {
		return models.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeTaskReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func relayServer(t *testing.T, tasks map[uuid.UUID]models.Task, userID uuid.UUID) (*httptest.Server, *redis.Client, *fakeTaskReader) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reader := &fakeTaskReader{tasks: tasks}
	r := New(client, reader, 20*time.Millisecond, 10*time.Millisecond, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rawID := strings.TrimPrefix(req.URL.Path, "/ws/")
		r.Serve(w, req, rawID, userID)
	}))
	t.Cleanup(srv.Close)
	return srv, client, reader
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

// waitForAttach blocks until the relay has read the task row. The tail
// position is resolved before that read, so events published from here on
// are guaranteed to be delivered.
func waitForAttach(t *testing.T, reader *fakeTaskReader) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reader.callCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("relay never loaded the task row")
}

func readEvent(t *testing.T, conn *websocket.Conn) models.StatusEvent {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var event models.StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return event
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closeErr.Code != code {
		t.Fatalf("close code = %d, want %d", closeErr.Code, code)
	}
}

func TestRelayForwardsEventsUntilTerminal(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()
	tasks := map[uuid.UUID]models.Task{
		taskID: {ID: taskID, Type: models.TaskTypeIngest, Status: models.StatusPending, UserID: userID},
	}
	srv, client, reader := relayServer(t, tasks, userID)

	conn := dial(t, srv, "/ws/"+taskID.String())
	waitForAttach(t, reader)

	pub := queue.NewStatusPublisher(client, 100)
	ctx := context.Background()
	if err := pub.Publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusInProgress, Detail: "Starting..."}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusDone, Result: json.RawMessage(`[{"id":"img-1"}]`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := readEvent(t, conn)
	if first.Status != models.StatusInProgress || first.Detail != "Starting..." {
		t.Fatalf("first event = %+v", first)
	}
	second := readEvent(t, conn)
	if second.Status != models.StatusDone {
		t.Fatalf("second event = %+v", second)
	}
	if string(second.Result) != `[{"id":"img-1"}]` {
		t.Fatalf("second event result = %s", second.Result)
	}
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestRelayDoesNotReplayHistory(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()
	tasks := map[uuid.UUID]models.Task{
		taskID: {ID: taskID, Type: models.TaskTypeIngest, Status: models.StatusInProgress, UserID: userID},
	}
	srv, client, reader := relayServer(t, tasks, userID)

	pub := queue.NewStatusPublisher(client, 100)
	ctx := context.Background()
	if err := pub.Publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusInProgress, Detail: "Starting..."}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn := dial(t, srv, "/ws/"+taskID.String())
	waitForAttach(t, reader)

	if err := pub.Publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusDone}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The in_progress entry published before the client attached is skipped.
	event := readEvent(t, conn)
	if event.Status != models.StatusDone {
		t.Fatalf("first delivered event = %+v, want done", event)
	}
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestRelayReplaysFinishedTask(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()
	errMsg := "content unavailable"
	tasks := map[uuid.UUID]models.Task{
		taskID: {ID: taskID, Status: models.StatusFailed, UserID: userID, ErrorMessage: &errMsg},
	}
	srv, _, _ := relayServer(t, tasks, userID)

	conn := dial(t, srv, "/ws/"+taskID.String())
	event := readEvent(t, conn)
	if event.Status != models.StatusFailed || event.Error != errMsg {
		t.Fatalf("replayed event = %+v", event)
	}
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestRelayRejectsInvalidTaskID(t *testing.T) {
	srv, _, _ := relayServer(t, map[uuid.UUID]models.Task{}, uuid.New())
	conn := dial(t, srv, "/ws/not-a-uuid")
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestRelayRejectsUnknownTask(t *testing.T) {
	srv, _, _ := relayServer(t, map[uuid.UUID]models.Task{}, uuid.New())
	conn := dial(t, srv, "/ws/"+uuid.NewString())
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestRelayRejectsForeignTask(t *testing.T) {
	taskID := uuid.New()
	owner := uuid.New()
	tasks := map[uuid.UUID]models.Task{
		taskID: {ID: taskID, Status: models.StatusPending, UserID: owner},
	}
	srv, _, _ := relayServer(t, tasks, uuid.New())

	conn := dial(t, srv, "/ws/"+taskID.String())
	expectClose(t, conn, websocket.ClosePolicyViolation)
}
