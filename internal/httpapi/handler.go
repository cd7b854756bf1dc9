// Package httpapi implements the JSON admin routes of the ingest service.
//
// x-user-id, when forwarded by the Gateway, is stored on triggered jobs.
//
// Routes:
//
//	GET  /jobs/{id}                → job record with counters
//	POST /jobs/crawl               → run a crawl job to completion
//	POST /jobs/refresh             → run a status refresh job
//	POST /notifications/dispatch   → deliver queued notifications
//	POST /alerts/run               → send digest alerts for one frequency
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/ops"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/source"
	"aucradar/ingest-service/internal/store"
)

// Ops is the pipeline surface the handler drives.
type Ops interface {
	RunCrawl(ctx context.Context, req ingest.CrawlRequest) (*model.CrawlJob, error)
	RunRefresh(ctx context.Context, req refresh.Request) (*model.CrawlJob, error)
	DispatchPending(ctx context.Context, limit int) (ops.DispatchResult, error)
	RunAlertBatch(ctx context.Context, frequency string) (int, error)
	GetJob(ctx context.Context, id int64) (*model.CrawlJob, error)
}

// ─── Response types ───────────────────────────────────────────────────────────

// Job is the JSON shape of a crawl or refresh job.
type Job struct {
	ID           int64      `json:"id"`
	Kind         string     `json:"kind"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	TriggeredBy  *int64     `json:"triggeredBy"`
	StartedAt    *time.Time `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt"`
	TotalFetched int        `json:"totalFetched"`
	CreatedCount int        `json:"createdCount"`
	UpdatedCount int        `json:"updatedCount"`
	FailedCount  int        `json:"failedCount"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func jobView(j *model.CrawlJob) Job {
	return Job{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Source:       string(j.Source),
		Status:       string(j.Status),
		TriggeredBy:  j.TriggeredBy,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		TotalFetched: j.TotalFetched,
		CreatedCount: j.CreatedCount,
		UpdatedCount: j.UpdatedCount,
		FailedCount:  j.FailedCount,
		ErrorMessage: j.ErrorMessage,
		Note:         j.Note,
		CreatedAt:    j.CreatedAt,
	}
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	svc Ops
	log *slog.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(svc Ops, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, log: logger.With("component", "httpapi")}
}

// RegisterRoutes mounts all admin routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/jobs/", h.handleJobs)
	mux.HandleFunc("/notifications/dispatch", h.post(h.dispatch))
	mux.HandleFunc("/alerts/run", h.post(h.runAlerts))
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleJobs handles GET /jobs/{id} and POST /jobs/crawl|refresh
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}

	switch action := parts[1]; action {
	case "crawl":
		h.post(h.crawl)(w, r)
	case "refresh":
		h.post(h.refresh)(w, r)
	default:
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseInt(action, 10, 64)
		if err != nil || id <= 0 {
			jsonError(w, fmt.Sprintf("invalid job id %q", action), http.StatusBadRequest)
			return
		}
		h.getJob(w, r, id)
	}
}

func (h *Handler) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		h.fail(w, "getJob", err)
		return
	}
	jsonOK(w, jobView(job))
}

func (h *Handler) crawl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source string `json:"source"`
		Days   int    `json:"days"`
		Note   string `json:"note"`
		DryRun bool   `json:"dryRun"`
	}
	if !decode(w, r, &body) {
		return
	}
	job, err := h.svc.RunCrawl(r.Context(), ingest.CrawlRequest{
		Source:      model.Source(body.Source),
		Days:        body.Days,
		Note:        body.Note,
		DryRun:      body.DryRun,
		TriggeredBy: userID(r),
	})
	if err != nil {
		h.fail(w, "crawl", err)
		return
	}
	jsonOK(w, jobView(job))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source string `json:"source"`
		Note   string `json:"note"`
	}
	if !decode(w, r, &body) {
		return
	}
	req := refresh.Request{Note: body.Note, TriggeredBy: userID(r)}
	if body.Source != "" {
		src := model.Source(body.Source)
		req.Source = &src
	}
	job, err := h.svc.RunRefresh(r.Context(), req)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	jsonOK(w, jobView(job))
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit int `json:"limit"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := h.svc.DispatchPending(r.Context(), body.Limit)
	if err != nil {
		h.fail(w, "dispatch", err)
		return
	}
	jsonOK(w, map[string]int{
		"requeued":  res.Requeued,
		"processed": res.Processed,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	})
}

func (h *Handler) runAlerts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Frequency string `json:"frequency"`
	}
	if !decode(w, r, &body) {
		return
	}
	n, err := h.svc.RunAlertBatch(r.Context(), body.Frequency)
	if err != nil {
		h.fail(w, "runAlerts", err)
		return
	}
	jsonOK(w, map[string]int{"subscriptions": n})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// userID parses the optional x-user-id header. Anything unparsable is
// treated as a system trigger.
func userID(r *http.Request) *int64 {
	v := r.Header.Get("x-user-id")
	if v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// decode reads an optional JSON body. An empty body leaves v at its zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	jsonError(w, "invalid JSON body", http.StatusBadRequest)
	return false
}

// fail maps domain errors to HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, "job not found", http.StatusNotFound)
	case errors.Is(err, ops.ErrInvalidArgument), errors.Is(err, source.ErrUnknownSource):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, events.ErrLocked):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("request failed", "op", op, "err", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
