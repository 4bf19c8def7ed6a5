package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kravchenkoegor/aura/internal/config"
	"github.com/kravchenkoegor/aura/internal/importer"
	"github.com/kravchenkoegor/aura/internal/models"
	"github.com/kravchenkoegor/aura/internal/store"
	"github.com/kravchenkoegor/aura/internal/telemetry"
)

// Store is the slice of the persistence layer the API uses.
type Store interface {
	CreateTask(ctx context.Context, p store.CreateTaskParams) (models.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (models.Task, error)
	ListTasks(ctx context.Context, p store.ListTasksParams) ([]models.Task, error)
	CreatePostStub(ctx context.Context, postID string, userID uuid.UUID) (models.Post, error)
	GetPost(ctx context.Context, postID string) (models.Post, error)
}

// Queue is the producer side of the job streams.
type Queue interface {
	Enqueue(ctx context.Context, stream string, values map[string]any) (string, error)
}

// Limiter throttles task creation per user.
type Limiter interface {
	AllowUser(ctx context.Context, userID uuid.UUID) (bool, float64, error)
}

// StatusRelay serves the per-task websocket session.
type StatusRelay interface {
	Serve(w http.ResponseWriter, r *http.Request, rawTaskID string, userID uuid.UUID)
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	cfg      config.Config
	store    Store
	queue    Queue
	limiter  Limiter
	relay    StatusRelay
	verifier TokenVerifier
	validate *validator.Validate
	logger   *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st Store, q Queue, limiter Limiter, relay StatusRelay, verifier TokenVerifier, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		queue:    q,
		limiter:  limiter,
		relay:    relay,
		verifier: verifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(s.verifier))
		r.Post("/tasks/download", s.handleDownload)
		r.Post("/tasks/generate", s.handleGenerate)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/ws/{taskID}", s.handleStatusSocket)
	})
	return r
}

type downloadRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type generateRequest struct {
	PostID string `json:"post_id" validate:"required"`
	Style  string `json:"style" validate:"omitempty,max=64"`
}

type taskResponse struct {
	Task models.Task `json:"task"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "url is required and must be valid", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r, userID) {
		return
	}

	shortcode, err := importer.ExtractShortcode(req.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := s.store.CreatePostStub(r.Context(), shortcode, userID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "post already imported", http.StatusConflict)
			return
		}
		s.logger.Error("create post stub failed", "post_id", shortcode, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	task, err := s.store.CreateTask(r.Context(), store.CreateTaskParams{
		ID:     uuid.New(),
		Type:   models.TaskTypeIngest,
		PostID: shortcode,
		UserID: userID,
	})
	if err != nil {
		s.logger.Error("create task failed", "post_id", shortcode, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	job := models.IngestJob{TaskID: task.ID, URL: req.URL, UserID: userID}
	s.enqueue(w, r, task, s.cfg.IngestStream, job.Values())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "post_id is required", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r, userID) {
		return
	}

	post, err := s.store.GetPost(r.Context(), req.PostID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "post not found", http.StatusNotFound)
			return
		}
		s.logger.Error("load post failed", "post_id", req.PostID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if post.UserID != userID {
		http.Error(w, "post not found", http.StatusNotFound)
		return
	}

	task, err := s.store.CreateTask(r.Context(), store.CreateTaskParams{
		ID:     uuid.New(),
		Type:   models.TaskTypeGenerate,
		PostID: req.PostID,
		UserID: userID,
	})
	if err != nil {
		s.logger.Error("create task failed", "post_id", req.PostID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	job := models.GenerateJob{TaskID: task.ID, PostID: req.PostID, UserID: userID, Style: req.Style}
	s.enqueue(w, r, task, s.cfg.GenerateStream, job.Values())
}

// enqueue publishes the job after its task row exists, so a status consumer
// never sees an event for an unknown task. A failed publish leaves the row
// pending; operators find orphans through the status filter on task listing.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, task models.Task, stream string, values map[string]any) {
	if _, err := s.queue.Enqueue(r.Context(), stream, values); err != nil {
		s.logger.Error("enqueue failed", "task_id", task.ID, "stream", stream, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.TasksEnqueued.WithLabelValues(string(task.Type)).Inc()
	writeJSON(w, http.StatusAccepted, taskResponse{Task: task})
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.AllowUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("rate limiter failed", "user_id", userID, "error", err)
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		s.logger.Error("load task failed", "task_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// Another user's task is indistinguishable from a missing one.
	if task.UserID != userID {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	params := store.ListTasksParams{UserID: &userID, Limit: 50}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TaskStatus(raw)
		switch status {
		case models.StatusPending, models.StatusInProgress, models.StatusDone, models.StatusFailed, models.StatusSkipped:
			params.Status = &status
		default:
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		params.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "offset must be non-negative", http.StatusBadRequest)
			return
		}
		params.Offset = n
	}

	tasks, err := s.store.ListTasks(r.Context(), params)
	if err != nil {
		s.logger.Error("list tasks failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	s.relay.Serve(w, r, chi.URLParam(r, "taskID"), userID)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
