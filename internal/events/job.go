package events

import "github.com/mattjoyce/publishcheck/internal/job"

// JobData is the payload of every job lifecycle event. Captured output and
// report contents are left out; clients fetch them from the status API.
type JobData struct {
	JobID        string     `json:"jobId"`
	Status       job.Status `json:"status"`
	SourceEvent  string     `json:"sourceEvent,omitempty"`
	SubjectID    string     `json:"subjectId,omitempty"`
	Error        string     `json:"error,omitempty"`
	ExitCode     *int       `json:"exitCode,omitempty"`
	Summary      *job.Stats `json:"summary,omitempty"`
	ReportFiles  []string   `json:"reportFiles,omitempty"`
	ReportDigest string     `json:"reportDigest,omitempty"`
}

func ForJob(j job.Job) JobData {
	j = j.Clone()
	return JobData{
		JobID:        j.ID,
		Status:       j.Status,
		SourceEvent:  j.SourceEvent,
		SubjectID:    j.SubjectID,
		Error:        j.Error,
		ExitCode:     j.ExitCode,
		Summary:      j.Summary,
		ReportFiles:  j.ReportFiles,
		ReportDigest: j.ReportDigest,
	}
}
