package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/publishcheck/internal/events"
	"github.com/mattjoyce/publishcheck/internal/job"
	"github.com/mattjoyce/publishcheck/internal/log"
	"github.com/mattjoyce/publishcheck/internal/signature"
)

// createAttempts bounds retries when a freshly generated id collides.
const createAttempts = 3

// eventPaths is the normative lookup order for the event discriminator.
var eventPaths = [][]string{
	{"triggerType"},
	{"name"},
	{"type"},
	{"event"},
	{"payload", "triggerType"},
	{"payload", "name"},
	{"payload", "type"},
	{"payload", "event"},
}

// subjectPaths is the lookup order for the site identifier.
var subjectPaths = [][]string{
	{"siteId"},
	{"site"},
	{"payload", "siteId"},
	{"payload", "site"},
	{"payload", "siteID"},
}

// Handler authenticates inbound webhooks and queues test runs for the
// target event.
type Handler struct {
	cfg      Config
	target   string
	verifier *signature.Verifier
	store    *job.Store
	launcher Launcher
	pub      Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Handler. A nil logger uses the process logger.
func New(cfg Config, verifier *signature.Verifier, store *job.Store, launcher Launcher, pub Publisher, logger *slog.Logger) *Handler {
	if verifier == nil {
		verifier = &signature.Verifier{}
	}
	if logger == nil {
		logger = log.WithComponent("webhook")
	}
	return &Handler{
		cfg:      cfg,
		target:   Normalize(cfg.TargetEvent),
		verifier: verifier,
		store:    store,
		launcher: launcher,
		pub:      pub,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one delivery. rawBody must be the bytes exactly as
// received. Header names are matched case-insensitively, so headers need
// not be canonicalized. Handle never panics.
func (h *Handler) Handle(ctx context.Context, rawBody []byte, headers http.Header) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "webhook processing error", "panic", fmt.Sprint(rec))
			res = Result{
				StatusCode: http.StatusInternalServerError,
				Body:       ErrorResponse{Error: errInternal, Message: fmt.Sprint(rec)},
			}
		}
	}()

	if h.cfg.Secret == "" {
		h.logger.ErrorContext(ctx, "webhook secret not configured")
		return Result{StatusCode: http.StatusInternalServerError, Body: ErrorResponse{Error: errNoSecret}}
	}

	sig := headerValue(headers, h.cfg.SignatureHeader)
	ts := headerValue(headers, h.cfg.TimestampHeader)

	match, ok := h.verifier.Check(sig, rawBody, h.cfg.Secret, ts)
	if !ok {
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			"body_length", len(rawBody),
			"signature_present", sig != "",
			"signature_length", len(sig),
			"timestamp_present", ts != "",
		)
		return Result{StatusCode: http.StatusUnauthorized, Body: ErrorResponse{Error: errInvalidSignature}}
	}
	h.logger.DebugContext(ctx, "webhook signature verified",
		"key", match.Key,
		"construction", string(match.Construction),
		"timestamp", match.Timestamp,
	)

	payload := ParsePayload(rawBody)
	event := EventType(payload)
	if h.target == "" || Normalize(event) != h.target {
		h.logger.InfoContext(ctx, "ignoring webhook event", "event", event)
		return Result{
			StatusCode: http.StatusOK,
			Body:       IgnoredResponse{Success: true, Ignored: true, Message: msgIgnored, Event: event},
		}
	}

	created, err := h.createJob(event, SubjectID(payload))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create job", "error", err)
		return Result{
			StatusCode: http.StatusInternalServerError,
			Body:       ErrorResponse{Error: errInternal, Message: err.Error()},
		}
	}
	if h.pub != nil {
		h.pub.Publish(events.JobQueued, events.ForJob(created))
	}

	h.launcher.Start(created.ID)
	log.WithJob(h.logger, created.ID).InfoContext(ctx, "webhook job queued",
		"event", event,
		"site_id", created.SubjectID,
	)

	return Result{
		StatusCode: http.StatusOK,
		Body: QueuedResponse{
			Success:       true,
			Message:       msgQueued,
			JobID:         created.ID,
			StatusURL:     StatusURL(created.ID),
			ReportURL:     ReportURL(created.ID),
			ReportTextURL: ReportTextURL(created.ID),
		},
	}
}

func (h *Handler) createJob(event, subject string) (job.Job, error) {
	var err error
	for range createAttempts {
		j := job.Job{
			ID:          job.NewID(h.now()),
			Status:      job.StatusQueued,
			SourceEvent: event,
			SubjectID:   subject,
		}
		if err = h.store.Create(j); err == nil {
			created, _ := h.store.Get(j.ID)
			return created, nil
		}
		if !errors.Is(err, job.ErrDuplicateID) {
			return job.Job{}, err
		}
	}
	return job.Job{}, err
}

// ParsePayload decodes body as a JSON object. Anything else yields an
// empty object.
func ParsePayload(body []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}

// EventType returns the first non-empty event discriminator found in payload.
func EventType(payload map[string]any) string {
	for _, path := range eventPaths {
		if s, ok := lookup(payload, path).(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// SubjectID returns the site identifier. Strings, numbers and objects with
// an id or _id field are accepted.
func SubjectID(payload map[string]any) string {
	for _, path := range subjectPaths {
		if id := idString(lookup(payload, path)); id != "" {
			return id
		}
	}
	return ""
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		for _, key := range []string{"id", "_id"} {
			switch inner := t[key].(type) {
			case string:
				if s := strings.TrimSpace(inner); s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(inner, 'f', -1, 64)
			}
		}
	}
	return ""
}

func lookup(payload map[string]any, path []string) any {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Normalize lowercases s, collapses every run of non-alphanumeric characters
// to a single underscore and trims underscores at both ends.
func Normalize(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// headerValue is http.Header.Get with a case-folded fallback for maps built
// without canonical keys.
func headerValue(headers http.Header, name string) string {
	if v := headers.Get(name); v != "" {
		return v
	}
	for k, vs := range headers {
		if len(vs) > 0 && strings.EqualFold(k, name) {
			return vs[0]
		}
	}
	return ""
}
