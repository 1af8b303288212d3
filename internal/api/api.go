// ============================================================================
// genqueue HTTP API
// ============================================================================
//
// Package: internal/api
// 文件: api.go
// 功能: 以 chi 暴露任務查詢、提交、取消與事件串流
//
// 路由:
//   GET  /healthz                  Queue 運行中 200，否則 503
//   GET  /api/jobs                 任務列表（最新在前），?status= ?limit=
//   POST /api/jobs                 提交任務，回傳 202 + 任務
//   GET  /api/jobs/{id}            單一任務
//   POST /api/jobs/{id}/cancel     協作式取消，回傳 202 + 任務
//   GET  /api/stats                系統狀態
//   GET  /api/runners              可用的 runner 類別
//   GET  /api/events               Server-Sent Events 任務事件串流
//   GET  /metrics                  Prometheus 指標（有設定時）
//
// ============================================================================

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/internal/queue"
	"github.com/ChuLiYu/genqueue/internal/runners"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// JobQueue is the part of *queue.Queue the API needs.
type JobQueue interface {
	Enqueue(jobType types.JobType, correlationRef string, runner queue.Runner, maxAttempts int) (types.Job, error)
	Cancel(id types.JobID) error
	Get(id types.JobID) (types.Job, bool)
	List() []types.Job
	Stats() queue.Stats
	Subscribe(buffer int) *events.Subscription
	Unsubscribe(sub *events.Subscription)
	Running() bool
}

// Options configures the router.
type Options struct {
	Runners *runners.Registry // nil uses runners.Default()
	Metrics http.Handler      // mounted at /metrics when set
	Logger  *slog.Logger
}

// Handler serves the job API.
type Handler struct {
	queue     JobQueue
	runners   *runners.Registry
	validator *validator.Validate
	log       *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(q JobQueue, opts Options) *Handler {
	if opts.Runners == nil {
		opts.Runners = runners.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		queue:     q,
		runners:   opts.Runners,
		validator: validator.New(),
		log:       opts.Logger.With("component", "api"),
	}
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(q JobQueue, opts Options) http.Handler {
	h := NewHandler(q, opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs", h.ListJobs)
		r.Post("/jobs", h.EnqueueJob)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)
		r.Get("/stats", h.Stats)
		r.Get("/runners", h.Runners)
		r.Get("/events", h.Events)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

// requestLogger logs one line per request at debug level.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.queue.Running() {
		respondError(w, http.StatusServiceUnavailable, "queue is not running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
