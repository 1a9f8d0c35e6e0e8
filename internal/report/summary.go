package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mattjoyce/publishcheck/internal/job"
)

// ErrNoSummary is returned when the structured results file is absent.
var ErrNoSummary = errors.New("results file not found")

// Summary is the subset of the Playwright JSON reporter output that the
// text report reads.
type Summary struct {
	Stats  SummaryStats `json:"stats"`
	Suites []Suite      `json:"suites"`
	Errors []TestError  `json:"errors,omitempty"`
}

type SummaryStats struct {
	StartTime  string  `json:"startTime,omitempty"`
	Duration   float64 `json:"duration"`
	Expected   int     `json:"expected"`
	Unexpected int     `json:"unexpected"`
	Flaky      int     `json:"flaky"`
	Skipped    int     `json:"skipped"`
}

// Suite is a file or describe block. Suites nest.
type Suite struct {
	Title  string  `json:"title"`
	File   string  `json:"file,omitempty"`
	Specs  []Spec  `json:"specs,omitempty"`
	Suites []Suite `json:"suites,omitempty"`
}

type Spec struct {
	Title string `json:"title"`
	OK    bool   `json:"ok"`
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
	Tests []Test `json:"tests,omitempty"`
}

// Test is one spec executed in one project.
type Test struct {
	ProjectName string   `json:"projectName,omitempty"`
	Status      string   `json:"status"`
	Results     []Result `json:"results,omitempty"`
}

// Result is one attempt of a Test. Retries produce several.
type Result struct {
	Status   string      `json:"status"`
	Duration float64     `json:"duration"`
	Retry    int         `json:"retry"`
	Error    *TestError  `json:"error,omitempty"`
	Errors   []TestError `json:"errors,omitempty"`
}

type TestError struct {
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// LoadSummary reads and parses the results file at path.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSummary
		}
		return nil, fmt.Errorf("read results file: %w", err)
	}
	return ParseSummary(data)
}

// ParseSummary decodes Playwright JSON reporter output.
func ParseSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse results file: %w", err)
	}
	return &s, nil
}

// JobStats converts the reporter counters into job stats.
func (s *Summary) JobStats() job.Stats {
	return job.Stats{
		Passed:     s.Stats.Expected,
		Failed:     s.Stats.Unexpected,
		Flaky:      s.Stats.Flaky,
		Skipped:    s.Stats.Skipped,
		DurationMs: int64(s.Stats.Duration),
	}
}

// Failure returns the error of the latest attempt that recorded one.
func (t Test) Failure() *TestError {
	for i := len(t.Results) - 1; i >= 0; i-- {
		r := t.Results[i]
		if r.Error != nil {
			return r.Error
		}
		if len(r.Errors) > 0 {
			return &r.Errors[0]
		}
	}
	return nil
}

// Duration sums the duration of every attempt in milliseconds.
func (t Test) Duration() float64 {
	var total float64
	for _, r := range t.Results {
		total += r.Duration
	}
	return total
}
