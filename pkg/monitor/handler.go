package monitor

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/jobkit/pkg/audit"
	"github.com/dmitrymomot/jobkit/pkg/clientip"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/ratelimiter"
	"github.com/dmitrymomot/jobkit/pkg/requestid"
)

// BasePath is where the admin API is mounted.
const BasePath = "/jobs"

// HandlerOption configures the admin HTTP handler.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	limiter ratelimiter.RateLimiter
	logger  *slog.Logger
}

// WithRateLimiter sets the limiter applied per client IP. Use a bucket over
// ratelimiter.RedisStore when several replicas serve the API.
func WithRateLimiter(l ratelimiter.RateLimiter) HandlerOption {
	return func(o *handlerOptions) {
		o.limiter = l
	}
}

// WithHandlerLogger sets the logger used for failed requests.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

type handler struct {
	m   *Monitor
	log *slog.Logger
}

// NewHandler builds the admin router. Every route lives under BasePath and
// requires the configured bearer token.
func NewHandler(m *Monitor, opts ...HandlerOption) (http.Handler, error) {
	if m == nil {
		return nil, ErrEngineNil
	}
	if m.cfg.AdminToken == "" {
		return nil, ErrAdminTokenRequired
	}

	o := handlerOptions{logger: m.logger}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limiter == nil {
		bucket, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), m.cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		o.limiter = bucket
	}

	h := &handler{m: m, log: o.logger.With(logger.Component("admin_api"))}

	r := chi.NewRouter()
	r.Route(BasePath, func(r chi.Router) {
		r.Use(requestid.Middleware)
		r.Use(clientip.Middleware(clientip.TrustProxyHeaders(m.cfg.TrustProxy)))
		r.Use(ratelimiter.Middleware(o.limiter, clientKey, ratelimiter.WithErrorResponder(h.rateLimited)))
		r.Use(requireToken(m.cfg.AdminToken))

		r.Get("/stats", h.stats)
		r.Get("/queues", h.queues)
		r.Get("/queue/{name}", h.queueStats)
		r.Get("/queue/{name}/performance", h.performance)
		r.Get("/queue/{name}/jobs", h.jobs)
		r.Get("/queue/{name}/job/{jobID}", h.job)
		r.Get("/failed", h.failed)
		r.Get("/health", h.health)
		r.Get("/scheduled", h.scheduled)
		r.Get("/audit", h.auditLog)

		r.Post("/retry/{queue}/{jobID}", h.retry)
		r.Post("/retry-all/{queue}", h.retryAll)
		r.Post("/clean/completed/{queue}", h.cleanCompleted)
		r.Post("/clean/failed/{queue}", h.cleanFailed)
		r.Post("/pause/{queue}", h.pause)
		r.Post("/resume/{queue}", h.resume)
		r.Delete("/{queue}/{jobID}", h.remove)
	})
	return r, nil
}

func clientKey(r *http.Request) string {
	return clientip.FromContext(r.Context())
}

func (h *handler) rateLimited(w http.ResponseWriter, r *http.Request, _ *ratelimiter.Result, err error) {
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusTooManyRequests, Response{Error: &ErrorDetail{
		Code:    "rate_limited",
		Message: "too many requests",
	}})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.m.OverallStats(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, stats, nil)
}

func (h *handler) queues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.m.OverallStats(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, stats.Queues, map[string]any{"broker_connected": stats.BrokerConnected})
}

func (h *handler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.m.QueueStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, stats, nil)
}

func (h *handler) performance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.m.Performance(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, perf, nil)
}

func (h *handler) jobs(w http.ResponseWriter, r *http.Request) {
	state, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	limit, err := queryInt(r, "limit", DefaultFailedLimit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	jobs, err := h.m.Jobs(r.Context(), chi.URLParam(r, "name"), state, offset, min(limit, MaxFailedLimit))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, jobs, map[string]any{"state": state, "offset": offset, "count": len(jobs)})
}

func (h *handler) job(w http.ResponseWriter, r *http.Request) {
	job, err := h.m.Job(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, job, nil)
}

func (h *handler) failed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", DefaultFailedLimit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	jobs, err := h.m.FailedJobs(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, jobs, map[string]any{"count": len(jobs)})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	health := h.m.HealthCheck(r.Context())
	status := http.StatusOK
	if health.Status == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Response{Data: health})
}

func (h *handler) scheduled(w http.ResponseWriter, r *http.Request) {
	triggers := h.m.ScheduledTriggers()
	writeData(w, triggers, map[string]any{"count": len(triggers)})
}

func (h *handler) auditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", DefaultFailedLimit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	events, err := h.m.AuditLog(r.Context(), audit.Criteria{
		Actor:      q.Get("actor"),
		Action:     q.Get("action"),
		Resource:   q.Get("resource"),
		ResourceID: q.Get("resource_id"),
		Limit:      min(limit, MaxFailedLimit),
		Offset:     offset,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, events, map[string]any{"count": len(events)})
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	res, err := h.m.RetryFailedJob(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "jobID"))
	writeResult(w, r, h.log, res, err)
}

func (h *handler) retryAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.m.RetryAllFailedJobs(r.Context(), chi.URLParam(r, "queue"))
	writeResult(w, r, h.log, res, err)
}

func (h *handler) cleanCompleted(w http.ResponseWriter, r *http.Request) {
	olderThan, err := queryDuration(r, "older_than")
	if err != nil {
		writeResult(w, r, h.log, Result{}, err)
		return
	}
	res, err := h.m.CleanCompletedJobs(r.Context(), chi.URLParam(r, "queue"), olderThan)
	writeResult(w, r, h.log, res, err)
}

func (h *handler) cleanFailed(w http.ResponseWriter, r *http.Request) {
	olderThan, err := queryDuration(r, "older_than")
	if err != nil {
		writeResult(w, r, h.log, Result{}, err)
		return
	}
	res, err := h.m.CleanFailedJobs(r.Context(), chi.URLParam(r, "queue"), olderThan)
	writeResult(w, r, h.log, res, err)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	res, err := h.m.PauseQueue(r.Context(), chi.URLParam(r, "queue"))
	writeResult(w, r, h.log, res, err)
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	res, err := h.m.ResumeQueue(r.Context(), chi.URLParam(r, "queue"))
	writeResult(w, r, h.log, res, err)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	res, err := h.m.RemoveJob(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "jobID"))
	writeResult(w, r, h.log, res, err)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParameter, name)
	}
	return v, nil
}

// queryDuration parses a Go duration; a missing value means zero.
func queryDuration(r *http.Request, name string) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative duration", ErrInvalidParameter, name)
	}
	return d, nil
}
