package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/queue"
	"github.com/kravchenkoegor/aura/internal/store"
	"github.com/kravchenkoegor/aura/internal/telemetry"
)

// TaskReader is the slice of the store the relay needs to authorize a
// subscription.
type TaskReader interface {
	GetTask(ctx context.Context, id uuid.UUID) (models.Task, error)
}

// Relay upgrades one HTTP request per task into a websocket session and
// forwards that task's status events until a terminal one arrives. One
// client per task; there is no fan-out.
type Relay struct {
	client     *redis.Client
	tasks      TaskReader
	upgrader   websocket.Upgrader
	pollBlock  time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

func New(client *redis.Client, tasks TaskReader, pollBlock, retryDelay time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		client: client,
		tasks:  tasks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pollBlock:  pollBlock,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Serve handles one websocket session. Validation happens after the upgrade
// so the client receives a close frame with a reason instead of a bare HTTP
// error.
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, rawTaskID string, userID uuid.UUID) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	telemetry.RelaySessions.Inc()
	defer telemetry.RelaySessions.Dec()

	taskID, err := uuid.Parse(rawTaskID)
	if err != nil {
		r.closeWith(conn, websocket.ClosePolicyViolation, fmt.Sprintf("invalid task id: %s", rawTaskID))
		return
	}

	ctx := req.Context()

	// New messages only: the tail position is resolved before the task row
	// is read, so an event published while we authorize is still delivered.
	tail, err := queue.OpenStatusTail(ctx, r.client, taskID, r.pollBlock)
	if err != nil {
		r.logger.Error("open status tail failed", "task_id", taskID, "error", err)
		r.closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	task, err := r.tasks.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.closeWith(conn, websocket.ClosePolicyViolation, fmt.Sprintf("task %s not found", taskID))
		return
	case err != nil:
		r.logger.Error("load task failed", "task_id", taskID, "error", err)
		r.closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	case task.UserID != userID:
		r.closeWith(conn, websocket.ClosePolicyViolation, "task belongs to another user")
		return
	}

	// The tail only sees events published after we attached, so a task that
	// already finished is replayed from its row.
	if task.Status.Terminal() {
		event := models.StatusEvent{TaskID: task.ID, Status: task.Status}
		if task.ErrorMessage != nil {
			event.Error = *task.ErrorMessage
		}
		if err := conn.WriteJSON(event); err != nil {
			r.logger.Warn("write terminal replay failed", "task_id", taskID, "error", err)
			return
		}
		r.closeWith(conn, websocket.CloseNormalClosure, "")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reader pump: its only job is noticing the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	r.forward(ctx, conn, tail, taskID)
}

// forward streams events to the client until the terminal one, the client
// disconnects, or the request context ends.
func (r *Relay) forward(ctx context.Context, conn *websocket.Conn, tail *queue.StatusTail, taskID uuid.UUID) {
	for {
		event, err := tail.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("status tail read failed", "task_id", taskID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.retryDelay):
			}
			continue
		}

		if err := conn.WriteJSON(event); err != nil {
			r.logger.Warn("websocket write failed", "task_id", taskID, "error", err)
			return
		}
		if event.Status.Terminal() {
			r.closeWith(conn, websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (r *Relay) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		r.logger.Debug("write close frame failed", "error", err)
	}
}
