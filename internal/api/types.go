package api

import (
	"time"

	"github.com/mattjoyce/publishcheck/internal/job"
)

// InternalRequestHeader marks manual triggers from trusted callers.
const InternalRequestHeader = "X-Internal-Request"

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// IndexResponse is returned by GET /.
type IndexResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Version   string            `json:"version,omitempty"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string             `json:"status"`
	UptimeSeconds    int64              `json:"uptime_seconds"`
	Jobs             map[job.Status]int `json:"jobs"`
	SecretConfigured bool               `json:"secret_configured"`
}

// RunTestsRequest is the body of POST /api/run-tests.
type RunTestsRequest struct {
	JobID string `json:"jobId"`
}

// RunTestsResponse is returned when a manual run was started.
type RunTestsResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	JobID     string     `json:"jobId"`
	Status    job.Status `json:"status"`
	StatusURL string     `json:"statusUrl"`
	ReportURL string     `json:"reportUrl"`
}

// StatusResponse is returned by GET /api/test-status/{jobID}.
type StatusResponse struct {
	Success   bool    `json:"success"`
	Job       job.Job `json:"job"`
	ReportURL string  `json:"reportUrl"`
}

// NotReadyResponse is returned while a job has no report yet.
type NotReadyResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Status  job.Status `json:"status"`
}

// ReportListingResponse is returned when the requested report file is absent.
type ReportListingResponse struct {
	Success     bool       `json:"success"`
	JobID       string     `json:"jobId"`
	Status      job.Status `json:"status"`
	ReportFiles []string   `json:"reportFiles"`
	ReportURL   string     `json:"reportUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobsResponse is returned by GET /api/jobs.
type JobsResponse struct {
	Jobs  []job.Job `json:"jobs"`
	Count int       `json:"count"`
}
