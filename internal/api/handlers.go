package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/publishcheck/internal/events"
	"github.com/mattjoyce/publishcheck/internal/job"
	"github.com/mattjoyce/publishcheck/internal/log"
	"github.com/mattjoyce/publishcheck/internal/report"
	"github.com/mattjoyce/publishcheck/internal/webhook"
)

const (
	defaultReportFile = "index.html"
	manualSource      = "manual"

	errJobNotFound       = "Job not found"
	errExternalTrigger   = "External test triggers not allowed"
	errJobIDRequired     = "jobId is required"
	errJobNotQueued      = "Job is not queued"
	errInvalidJSON       = "invalid JSON body"
	errPayloadTooLarge   = "payload too large"
	errReadBody          = "failed to read request body"
	msgReportNotReady    = "Report not ready yet"
	msgTestsStarted      = "Tests started"
	msgServiceDescriptor = "Webflow publish webhook test runner"
)

// handleIndex handles GET / with service info and the endpoint index.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, IndexResponse{
		Status:  "ok",
		Message: msgServiceDescriptor,
		Version: s.config.Version,
		Endpoints: map[string]string{
			"webhook":    "POST /api/webhook",
			"runTests":   "POST /api/run-tests",
			"testStatus": "GET /api/test-status/:jobId",
			"reports":    "GET /api/reports/:jobId?file=index.html",
			"reportText": "GET /api/report-text/:jobId",
			"jobs":       "GET /api/jobs",
			"events":     "GET /api/events",
			"health":     "GET /healthz",
		},
	})
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		Jobs:             s.store.Counts(),
		SecretConfigured: s.config.SecretConfigured,
	})
}

// handleWebhook handles POST /api/webhook. The body is read once, unmodified,
// so the signature can be checked against the exact bytes sent.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, errReadBody)
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.logger.Warn("webhook payload too large", "limit", s.config.MaxBodySize)
		s.writeError(w, http.StatusRequestEntityTooLarge, errPayloadTooLarge)
		return
	}

	res := s.webhook.Handle(r.Context(), body, r.Header)
	respondJSON(w, res.StatusCode, res.Body)
}

// handleRunTests handles POST /api/run-tests, the manual trigger.
func (s *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	if !s.config.AllowExternalTrigger && r.Header.Get(InternalRequestHeader) != "true" {
		s.logger.Warn("external test trigger rejected", "remote_addr", r.RemoteAddr)
		s.writeError(w, http.StatusForbidden, errExternalTrigger)
		return
	}

	var req RunTestsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, errJobIDRequired)
		return
	}

	current, exists := s.store.Get(req.JobID)
	switch {
	case exists && current.Status != job.StatusQueued:
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   errJobNotQueued,
			Message: "job is " + string(current.Status),
		})
		return
	case !exists:
		created := job.Job{ID: req.JobID, Status: job.StatusQueued, SourceEvent: manualSource}
		if err := s.store.Create(created); err != nil {
			if errors.Is(err, job.ErrDuplicateID) {
				s.writeError(w, http.StatusConflict, errJobNotQueued)
				return
			}
			log.WithJob(s.logger, req.JobID).Error("failed to create manual job", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create job")
			return
		}
		current, _ = s.store.Get(req.JobID)
		s.events.Publish(events.JobQueued, events.ForJob(current))
	}

	s.launcher.Start(current.ID)
	log.WithJob(s.logger, current.ID).Info("manual test run started")

	respondJSON(w, http.StatusAccepted, RunTestsResponse{
		Success:   true,
		Message:   msgTestsStarted,
		JobID:     current.ID,
		Status:    current.Status,
		StatusURL: webhook.StatusURL(current.ID),
		ReportURL: webhook.ReportURL(current.ID),
	})
}

// handleTestStatus handles GET /api/test-status/{jobID}.
func (s *Server) handleTestStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.store.Get(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errJobNotFound)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Success:   true,
		Job:       j.Snapshot(),
		ReportURL: webhook.ReportURL(j.ID),
	})
}

// handleReport handles GET /api/reports/{jobID}?file=NAME. Files are served
// from the collected report data only, never from disk.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	j, ok := s.store.Get(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errJobNotFound)
		return
	}
	if !j.HasReport() {
		respondJSON(w, http.StatusAccepted, NotReadyResponse{Message: msgReportNotReady, Status: j.Status})
		return
	}

	name := r.URL.Query().Get("file")
	if name == "" {
		name = defaultReportFile
	}

	content, found := j.ReportData[name]
	if !found {
		respondJSON(w, http.StatusOK, ReportListingResponse{
			Success:     true,
			JobID:       j.ID,
			Status:      j.Status,
			ReportFiles: j.ReportFiles,
			ReportURL:   webhook.ReportURL(j.ID) + "?file=" + defaultReportFile,
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.CompletedAt,
		})
		return
	}

	etag := report.ETag(j.ReportDigest, name)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}

// handleReportText handles GET /api/report-text/{jobID}.
func (s *Server) handleReportText(w http.ResponseWriter, r *http.Request) {
	j, ok := s.store.Get(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errJobNotFound)
		return
	}
	if !j.Status.Terminal() {
		respondJSON(w, http.StatusAccepted, NotReadyResponse{Message: msgReportNotReady, Status: j.Status})
		return
	}

	text := j.TextReport
	if text == "" {
		text = report.Fallback(j)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// handleListJobs handles GET /api/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.store.List()
	for i := range jobs {
		jobs[i] = jobs[i].Snapshot()
	}
	respondJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Count: len(jobs)})
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".json":
		return "application/json"
	default:
		return "text/html"
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
