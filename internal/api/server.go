package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"linkhoard/internal/config"
	"linkhoard/internal/models"
	"linkhoard/internal/ratelimit"
	"linkhoard/internal/store"
	syncpkg "linkhoard/internal/sync"
	"linkhoard/internal/telemetry"
)

// Server wires HTTP handlers for the capture/import and sync surface.
type Server struct {
	cfg     config.Config
	store   *store.Store
	sync    *syncpkg.Coordinator
	limiter *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, sc *syncpkg.Coordinator, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		sync:    sc,
		limiter: limiter,
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

	r.Post("/captures", s.handleCapture)
	r.Post("/imports/urls", s.handleBulkImport)
	r.Post("/imports/file", s.handleFileImport)
	r.Get("/jobs", s.handleRecentJobs)
	r.Post("/jobs/stats", s.handleBatchStats)
	r.Post("/jobs/items", s.handleBatchItems)
	r.Delete("/jobs/{id}", s.handleDeleteJob)
	r.Post("/jobs/{id}/retry", s.handleRetryJob)
	r.Post("/sync", s.handleSync)
	r.Get("/sync/status", s.handleSyncStatus)
	return r
}

type captureRequest struct {
	URL string `json:"url"`
}

// handleCapture enqueues a single-URL fetch job.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	s.createJob(w, r, store.CreateJobParams{
		Type:       models.JobTypeURLFetch,
		SourceName: req.URL,
		TargetURLs: []string{req.URL},
	})
}

type bulkImportRequest struct {
	URLs   []string `json:"urls"`
	Source string   `json:"source"`
}

func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	urls := cleanURLs(req.URLs)
	if len(urls) == 0 {
		http.Error(w, "urls is required", http.StatusBadRequest)
		return
	}
	s.createJob(w, r, store.CreateJobParams{
		Type:       models.JobTypeBulkURLImport,
		SourceName: req.Source,
		TargetURLs: urls,
	})
}

type fileImportRequest struct {
	FileName string   `json:"file_name"`
	URLs     []string `json:"urls"`
}

// handleFileImport enqueues the URLs extracted from an uploaded
// bookmarks file. Parsing the file format happens client-side; the
// backend only sees the URL list plus the file name for display.
func (s *Server) handleFileImport(w http.ResponseWriter, r *http.Request) {
	var req fileImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	urls := cleanURLs(req.URLs)
	if len(urls) == 0 {
		http.Error(w, "urls is required", http.StatusBadRequest)
		return
	}
	s.createJob(w, r, store.CreateJobParams{
		Type:       models.JobTypeFileImport,
		SourceName: req.FileName,
		TargetURLs: urls,
	})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request, p store.CreateJobParams) {
	if s.limiter != nil {
		key := fmt.Sprintf("rl:%s", clientFromRequest(r))
		allowed, _, err := s.limiter.AllowN(r.Context(), key, len(p.TargetURLs))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, err := s.store.CreateJob(r.Context(), p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.ImportCounter.Inc()
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := store.JobFilter{
		Type:   r.URL.Query().Get("type"),
		Status: r.URL.Query().Get("status"),
	}
	jobs, err := s.store.RecentJobs(r.Context(), filter, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type batchRequest struct {
	JobIDs []string `json:"job_ids"`
}

func (s *Server) handleBatchStats(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	stats, err := s.store.BatchJobStats(r.Context(), req.JobIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleBatchItems(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	items, err := s.store.BatchJobItems(r.Context(), req.JobIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteJob(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleRetryJob resets error items to pending; the next worker drain
// picks them up.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.store.RetryFailedItems(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset_items": n})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		force, _ = strconv.ParseBool(v)
	}
	res := s.sync.PerformSync(r.Context(), force)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sync.SyncStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
