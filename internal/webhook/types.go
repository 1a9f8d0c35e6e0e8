package webhook

import (
	"github.com/mattjoyce/publishcheck/internal/config"
)

//go:generate mockgen -destination=mocks/mock_launcher.go -package=mocks github.com/mattjoyce/publishcheck/internal/webhook Launcher

// Launcher starts a test run for a queued job without waiting for it.
type Launcher interface {
	Start(jobID string)
}

// Publisher receives job lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Config holds the settings the handler reads on every request.
type Config struct {
	// Secret is the shared HMAC secret. Empty means misconfigured.
	Secret string

	// SignatureHeader and TimestampHeader name the headers carrying the
	// claimed signature and timestamp. Lookup is case-insensitive.
	SignatureHeader string
	TimestampHeader string

	// TargetEvent is the event that triggers a run, compared after
	// normalization.
	TargetEvent string
}

// ConfigFrom builds handler settings from the service configuration.
func ConfigFrom(c config.WebhookConfig) Config {
	return Config{
		Secret:          c.Secret,
		SignatureHeader: c.SignatureHeader,
		TimestampHeader: c.TimestampHeader,
		TargetEvent:     c.TargetEvent,
	}
}

// Result is the response the transport should write.
type Result struct {
	StatusCode int
	Body       any
}

// QueuedResponse is returned when a run was queued.
type QueuedResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	JobID         string `json:"jobId"`
	StatusURL     string `json:"statusUrl"`
	ReportURL     string `json:"reportUrl"`
	ReportTextURL string `json:"reportTextUrl"`
}

// IgnoredResponse is returned for authentic events that do not trigger a run.
type IgnoredResponse struct {
	Success bool   `json:"success"`
	Ignored bool   `json:"ignored"`
	Message string `json:"message"`
	Event   string `json:"event"`
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

const (
	msgQueued  = "Webhook received, tests queued"
	msgIgnored = "Event received but not a publish event"

	errNoSecret         = "Webhook secret not configured"
	errInvalidSignature = "Invalid webhook signature"
	errInternal         = "Internal server error"
)

// StatusURL and the other link helpers build the polling URLs for a job.
func StatusURL(jobID string) string     { return "/api/test-status/" + jobID }
func ReportURL(jobID string) string     { return "/api/reports/" + jobID }
func ReportTextURL(jobID string) string { return "/api/report-text/" + jobID }
