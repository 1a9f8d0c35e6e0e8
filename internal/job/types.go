package job

import (
	"errors"
	"maps"
	"slices"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateID       = errors.New("job id already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// CanTransition reports whether a job may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Stats are aggregate counts from a structured test summary.
type Stats struct {
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Flaky      int   `json:"flaky"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"durationMs"`
}

// Job is one tracked execution of the test suite.
type Job struct {
	ID              string            `json:"id"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	SourceEvent     string            `json:"sourceEvent"`
	SubjectID       string            `json:"subjectId,omitempty"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	OutputTruncated bool              `json:"outputTruncated,omitempty"`
	ExitCode        *int              `json:"exitCode,omitempty"`
	Error           string            `json:"error,omitempty"`
	ReportFiles     []string          `json:"reportFiles,omitempty"`
	ReportData      map[string]string `json:"reportData,omitempty"`
	ReportDigest    string            `json:"reportDigest,omitempty"`
	TextReport      string            `json:"textReport,omitempty"`
	Summary         *Stats            `json:"summary,omitempty"`
}

// HasReport reports whether report collection has populated the job.
func (j *Job) HasReport() bool {
	return j.ReportData != nil && j.ReportFiles != nil
}

// AttachReport sets the collected report files. Files and data are always
// written together.
func (j *Job) AttachReport(files []string, data map[string]string, digest string) {
	if files == nil {
		files = []string{}
	}
	if data == nil {
		data = map[string]string{}
	}
	j.ReportFiles = files
	j.ReportData = data
	j.ReportDigest = digest
}

// Clone returns a deep copy.
func (j Job) Clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.ExitCode != nil {
		c := *j.ExitCode
		out.ExitCode = &c
	}
	if j.Summary != nil {
		s := *j.Summary
		out.Summary = &s
	}
	if j.ReportFiles != nil {
		out.ReportFiles = slices.Clone(j.ReportFiles)
	}
	if j.ReportData != nil {
		out.ReportData = maps.Clone(j.ReportData)
	}
	return out
}

// Snapshot is the job without the bulky report contents.
func (j Job) Snapshot() Job {
	out := j.Clone()
	out.ReportData = nil
	return out
}
