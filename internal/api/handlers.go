package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newsdesk/internal/admin"
	"newsdesk/internal/domain"
	"newsdesk/internal/store"
)

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/news", s.handleListNews)
	mux.HandleFunc("GET /api/v1/announcements", s.handleListAnnouncements)
	mux.HandleFunc("GET /api/v1/announcements/{id}/attachment", s.handleAttachment)

	mux.HandleFunc("POST /api/v1/system/processors/{job}/run", s.handleRunJob)
	mux.HandleFunc("GET /api/v1/system/processors/{job}/status", s.handleJobStatus)
	mux.HandleFunc("POST /api/v1/system/processors/schedule", s.handleAddSchedule)
	mux.HandleFunc("GET /api/v1/system/processors/schedule", s.handleListSchedules)
	mux.HandleFunc("DELETE /api/v1/system/processors/schedule", s.handleCancelSchedule)

	mux.HandleFunc("POST /api/v1/sim/news", s.handleSimInsert)
	mux.HandleFunc("PATCH /api/v1/sim/news/{id}", s.handleSimUpdate)
}

// Handler returns an http.Handler with CORS and token checks. The realtime
// endpoint reads its token from the query string; everything else uses a
// bearer header.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/v1/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "clients": s.hub.Clients()})
	})
	return corsMiddleware(s.authMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		var got string
		if r.URL.Path == "/api/v1/ws" {
			got = r.URL.Query().Get("token")
		} else {
			got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeStatus(w, http.StatusOK, v)
}

func writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeStatus(w, status, map[string]string{"detail": msg})
}

// parseQuery extracts paging, search and date filters.
func parseQuery(r *http.Request) store.Query {
	v := r.URL.Query()
	page, _ := strconv.Atoi(v.Get("page"))
	size, _ := strconv.Atoi(v.Get("page_size"))
	return store.Query{
		Page:     page,
		PageSize: size,
		Search:   v.Get("search"),
		FromDate: v.Get("from_date"),
		ToDate:   v.Get("to_date"),
	}
}

// ---------------------------------------------------------------------------
// News and announcements
// ---------------------------------------------------------------------------

func (s *Server) handleListNews(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListNews(r.Context(), parseQuery(r))
	if err != nil {
		s.log.Error("listing news", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list news")
		return
	}
	writeJSON(w, map[string]any{
		"news":        page.Items,
		"total":       page.Total,
		"page":        page.Page,
		"page_size":   page.PageSize,
		"total_pages": page.TotalPages,
	})
}

func (s *Server) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	for _, d := range []string{q.FromDate, q.ToDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date %q, expected YYYY-MM-DD", d))
			return
		}
	}
	page, err := s.store.ListAnnouncements(r.Context(), q)
	if err != nil {
		s.log.Error("listing announcements", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list announcements")
		return
	}
	writeJSON(w, map[string]any{
		"announcements": page.Items,
		"total":         page.Total,
		"page":          page.Page,
		"page_size":     page.PageSize,
		"total_pages":   page.TotalPages,
	})
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	att, err := s.store.GetAttachment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Attachment not found")
		return
	}
	if err != nil {
		s.log.Error("loading attachment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load attachment")
		return
	}
	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Data)))
	w.Write(att.Data)
}

// ---------------------------------------------------------------------------
// Processors
// ---------------------------------------------------------------------------

func jobFromSegment(seg string) (domain.JobType, bool) {
	for _, j := range domain.JobTypes {
		if j.PathSegment() == seg {
			return j, true
		}
	}
	return "", false
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	job, ok := jobFromSegment(r.PathValue("job"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown processor")
		return
	}
	err := s.jobs.start(s.baseContext(), job)
	if errors.Is(err, ErrJobRunning) {
		writeError(w, http.StatusConflict, fmt.Sprintf("%s scraper is already running", jobLabels[job]))
		return
	}
	if err != nil {
		s.log.Error("starting job", "job", job, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start scraper")
		return
	}
	writeJSON(w, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("%s scraper started in background", jobLabels[job]),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := jobFromSegment(r.PathValue("job"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown processor")
		return
	}
	st, err := s.store.JobStatus(r.Context(), job)
	if err != nil {
		s.log.Error("loading job status", "job", job, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load status")
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var req domain.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req = admin.Normalize(req)
	if err := admin.Validate(s.validate, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.store.ListSchedules(r.Context(), req.Type)
	if err != nil {
		s.log.Error("listing schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	if len(existing) >= admin.MaxSchedules {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d schedules allowed per scraper", admin.MaxSchedules))
		return
	}

	trigger := admin.TriggerString(req)
	id, err := s.store.AddSchedule(r.Context(), req, trigger)
	if err != nil {
		s.log.Error("adding schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to add schedule")
		return
	}
	s.log.Info("schedule added", "id", id, "trigger", trigger)
	writeJSON(w, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("%s scraper scheduled: %s", jobLabels[req.Type], admin.DescribeTrigger(trigger)),
		"job_id":  id,
	})
}

func (s *Server) scheduleType(w http.ResponseWriter, r *http.Request) (domain.JobType, bool) {
	job, err := domain.ParseJobType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Query parameter type must be one of ipo, bse, gmp")
		return "", false
	}
	return job, true
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	job, ok := s.scheduleType(w, r)
	if !ok {
		return
	}
	recs, err := s.store.ListSchedules(r.Context(), job)
	if err != nil {
		s.log.Error("listing schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	out := make([]domain.Schedule, 0, len(recs))
	for _, rec := range recs {
		sch := domain.Schedule{ID: rec.ID, Trigger: rec.Trigger}
		if next := s.sched.next(rec); !next.IsZero() {
			formatted := next.In(s.sched.loc).Format(time.RFC3339)
			sch.NextRunTime = &formatted
		}
		out = append(out, sch)
	}
	writeJSON(w, map[string]any{
		"status":    "success",
		"schedules": out,
		"count":     len(out),
	})
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	job, ok := s.scheduleType(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("job_id")

	var ids []string
	if id == "" {
		recs, err := s.store.ListSchedules(r.Context(), job)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list schedules")
			return
		}
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
	} else {
		ids = []string{id}
	}

	n, err := s.store.DeleteSchedules(r.Context(), job, id)
	if err != nil {
		s.log.Error("deleting schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to cancel schedule")
		return
	}
	if n == 0 {
		if id != "" {
			writeError(w, http.StatusNotFound, "Schedule not found")
		} else {
			writeError(w, http.StatusNotFound, "No schedules found")
		}
		return
	}
	s.sched.forget(ids...)
	writeJSON(w, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Cancelled %d schedule(s)", n),
		"count":   n,
	})
}

// ---------------------------------------------------------------------------
// Simulation controls
// ---------------------------------------------------------------------------

func (s *Server) handleSimInsert(w http.ResponseWriter, r *http.Request) {
	var item domain.NewsItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(item.Headline) == "" {
		writeError(w, http.StatusBadRequest, "headline is required")
		return
	}
	item, err := s.Insert(r.Context(), item)
	if err != nil {
		s.log.Error("publishing insert", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to publish news")
		return
	}
	writeStatus(w, http.StatusCreated, item)
}

func (s *Server) handleSimUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid news id")
		return
	}
	var p domain.NewsPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	p.ID = id
	item, err := s.Update(r.Context(), p)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "News not found")
		return
	}
	if err != nil {
		s.log.Error("publishing update", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to publish update")
		return
	}
	writeJSON(w, item)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}
