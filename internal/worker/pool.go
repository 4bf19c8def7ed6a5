package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/queue"
	"github.com/kravchenkoegor/aura/internal/store"
	"github.com/kravchenkoegor/aura/internal/telemetry"
)

// Result is a handler's successful outcome. Skipped marks the idempotency
// short-circuit: the subject was already processed, so the task resolves
// skipped without redoing the side effect.
type Result struct {
	Detail  string
	Payload any
	Skipped bool
}

// Session is the scoped persistence handle one unit of work runs against.
// Implemented by *store.Session; faked in tests.
type Session interface {
	SetTaskStatus(ctx context.Context, p store.SetTaskStatusParams) error
	GetPrimaryImageByPostID(ctx context.Context, postID string) (models.Image, error)
	FinalizeIngest(ctx context.Context, p store.FinalizeIngestParams) ([]models.Image, error)
	CreateGeneration(ctx context.Context, p store.CreateGenerationParams) (models.GenerationMetadata, []models.Compliment, error)
	CountComplimentsForImage(ctx context.Context, imageID uuid.UUID) (int64, error)
	Release()
}

// SessionSource hands out sessions, one per unit of work.
type SessionSource interface {
	Acquire(ctx context.Context) (Session, error)
}

type storeSessions struct {
	st *store.Store
}

func (s storeSessions) Acquire(ctx context.Context) (Session, error) {
	return s.st.Acquire(ctx)
}

// NewStoreSessions adapts a *store.Store into a SessionSource.
func NewStoreSessions(st *store.Store) SessionSource {
	return storeSessions{st: st}
}

// Handler executes one job for the pool's job type.
type Handler interface {
	Handle(ctx context.Context, ses Session, fields map[string]string) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ses Session, fields map[string]string) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, ses Session, fields map[string]string) (Result, error) {
	return f(ctx, ses, fields)
}

// Options configures one pool. Decode validates a raw job envelope before
// any work starts; entries it rejects are dropped without touching the task.
type Options struct {
	Stream      string
	Group       string
	Consumer    string
	BatchSize   int64
	ReadBlock   time.Duration
	Concurrency int
	RetryDelay  time.Duration
	Decode      func(fields map[string]string) error
}

// Pool consumes one job stream under a consumer group and dispatches each
// entry to the registered handler under bounded concurrency.
type Pool struct {
	opts     Options
	queue    *queue.Streams
	status   *queue.StatusPublisher
	sessions SessionSource
	handler  Handler
	logger   *slog.Logger
	sem      chan struct{}
}

// NewPool wires a pool for one job type.
func NewPool(opts Options, q *queue.Streams, status *queue.StatusPublisher, sessions SessionSource, handler Handler, logger *slog.Logger) *Pool {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.ReadBlock <= 0 {
		opts.ReadBlock = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Pool{
		opts:     opts,
		queue:    q,
		status:   status,
		sessions: sessions,
		handler:  handler,
		logger:   logger.With("stream", opts.Stream, "group", opts.Group),
		sem:      make(chan struct{}, opts.Concurrency),
	}
}

// Run polls the stream until context cancellation. Queue-level errors are
// logged and retried after a fixed delay; they never terminate the loop.
// There is no drain on shutdown: units of work still running when ctx is
// cancelled are abandoned mid-flight.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.queue.EnsureGroup(ctx, p.opts.Stream, p.opts.Group); err != nil {
		return err
	}
	p.logger.Info("worker pool started", "consumer", p.opts.Consumer, "concurrency", p.opts.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := p.queue.ReadBatch(ctx, p.opts.Stream, p.opts.Group, p.opts.Consumer, p.opts.BatchSize, p.opts.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			telemetry.QueueErrors.Inc()
			p.logger.Error("read batch failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.RetryDelay):
			}
			continue
		}

		if pending, err := p.queue.PendingCount(ctx, p.opts.Stream, p.opts.Group); err == nil {
			telemetry.PendingJobs.WithLabelValues(p.opts.Stream).Set(float64(pending))
		}

		for _, entry := range entries {
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			go func(e queue.Entry) {
				defer func() { <-p.sem }()
				p.process(ctx, e)
			}(entry)
		}
	}
}

// process runs one unit of work. Every failure mode inside it is contained
// here: a panicking or failing handler never takes down the poll loop.
func (p *Pool) process(ctx context.Context, entry queue.Entry) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("unit of work panicked", "entry_id", entry.ID, "panic", r)
			p.ack(ctx, entry.ID)
		}
	}()

	telemetry.JobsConsumed.Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	taskID, err := uuid.Parse(entry.Fields["task_id"])
	if err != nil {
		// Malformed payload: nothing to report a status against, drop it.
		telemetry.MalformedJobs.Inc()
		p.logger.Warn("dropping entry with invalid task_id", "entry_id", entry.ID, "error", err)
		p.ack(ctx, entry.ID)
		return
	}
	if p.opts.Decode != nil {
		if err := p.opts.Decode(entry.Fields); err != nil {
			// Incomplete envelope: dropped before the handler runs, so no
			// status is ever published for it.
			telemetry.MalformedJobs.Inc()
			p.logger.Warn("dropping entry with incomplete payload", "entry_id", entry.ID, "task_id", taskID, "error", err)
			p.ack(ctx, entry.ID)
			return
		}
	}

	ses, err := p.sessions.Acquire(ctx)
	if err != nil {
		// Infrastructure failure, not a job failure: leave the entry
		// pending so a later delivery retries it once the store recovers.
		telemetry.QueueErrors.Inc()
		p.logger.Error("acquire session failed", "entry_id", entry.ID, "task_id", taskID, "error", err)
		return
	}
	defer ses.Release()

	p.publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusInProgress, Detail: "Starting..."})

	start := time.Now()
	startedAt := start.UTC()
	result, err := p.handler.Handle(ctx, ses, entry.Fields)
	endedAt := time.Now().UTC()
	duration := time.Since(start)

	switch {
	case err != nil:
		msg := err.Error()
		p.publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusFailed, Error: msg})
		p.setStatus(ctx, ses, store.SetTaskStatusParams{
			TaskID: taskID, Status: models.StatusFailed, ErrorMessage: &msg,
			StartedAt: &startedAt, EndedAt: &endedAt, Duration: &duration,
		})
		telemetry.HandlerOutcomes.WithLabelValues(string(models.StatusFailed)).Inc()
		p.logger.Error("job failed", "task_id", taskID, "error", err)

	case result.Skipped:
		p.publish(ctx, models.StatusEvent{TaskID: taskID, Status: models.StatusSkipped, Detail: result.Detail})
		p.setStatus(ctx, ses, store.SetTaskStatusParams{
			TaskID: taskID, Status: models.StatusSkipped,
			StartedAt: &startedAt, EndedAt: &endedAt, Duration: &duration,
		})
		telemetry.HandlerOutcomes.WithLabelValues(string(models.StatusSkipped)).Inc()
		p.logger.Info("job skipped", "task_id", taskID, "detail", result.Detail)

	default:
		event := models.StatusEvent{TaskID: taskID, Status: models.StatusDone, Detail: result.Detail}
		if result.Payload != nil {
			if raw, err := json.Marshal(result.Payload); err == nil {
				event.Result = raw
			} else {
				p.logger.Error("marshal result payload", "task_id", taskID, "error", err)
			}
		}
		p.publish(ctx, event)
		p.setStatus(ctx, ses, store.SetTaskStatusParams{
			TaskID: taskID, Status: models.StatusDone,
			StartedAt: &startedAt, EndedAt: &endedAt, Duration: &duration,
		})
		telemetry.HandlerOutcomes.WithLabelValues(string(models.StatusDone)).Inc()
		p.logger.Info("job done", "task_id", taskID, "duration", duration)
	}

	// Ack regardless of outcome: a handler failure is terminal for this
	// delivery, the queue does not retry it.
	p.ack(ctx, entry.ID)
}

func (p *Pool) publish(ctx context.Context, event models.StatusEvent) {
	if err := p.status.Publish(ctx, event); err != nil {
		p.logger.Error("publish status failed", "task_id", event.TaskID, "status", event.Status, "error", err)
	}
}

func (p *Pool) setStatus(ctx context.Context, ses Session, params store.SetTaskStatusParams) {
	if err := ses.SetTaskStatus(ctx, params); err != nil {
		p.logger.Error("persist task status failed", "task_id", params.TaskID, "status", params.Status, "error", err)
	}
}

func (p *Pool) ack(ctx context.Context, entryID string) {
	if err := p.queue.Ack(ctx, p.opts.Stream, p.opts.Group, entryID); err != nil {
		telemetry.QueueErrors.Inc()
		p.logger.Error("ack failed", "entry_id", entryID, "error", err)
	}
}
