package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/publishcheck/internal/job"
)

const (
	ruleWidth     = 64
	maxStackLines = 8
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// Format builds the human readable report for a finished job. s may be nil
// when no structured results were produced.
func Format(j job.Job, s *Summary) string {
	var b strings.Builder
	writeHeader(&b, j)

	section(&b, "Summary")
	if s == nil {
		b.WriteString("No structured results were recorded.\n")
	} else {
		st := s.JobStats()
		fmt.Fprintf(&b, "Passed: %d  Failed: %d  Flaky: %d  Skipped: %d  Duration: %s\n",
			st.Passed, st.Failed, st.Flaky, st.Skipped, formatMillis(float64(st.DurationMs)))
		if s.Stats.StartTime != "" {
			fmt.Fprintf(&b, "Start time: %s\n", s.Stats.StartTime)
		}

		section(&b, "Results")
		if len(s.Suites) == 0 {
			b.WriteString("No tests were reported.\n")
		}
		for _, suite := range s.Suites {
			writeSuite(&b, suite, 0)
		}
		for _, e := range s.Errors {
			writeError(&b, e, 0)
		}
	}

	writeOutput(&b, j)
	return b.String()
}

// Fallback reconstructs a report from the raw job state when Format was
// never run, for example after a failed run.
func Fallback(j job.Job) string {
	var b strings.Builder
	writeHeader(&b, j)
	section(&b, "Summary")
	b.WriteString("No formatted report was built for this run; showing raw output.\n")
	writeOutput(&b, j)
	return b.String()
}

func writeHeader(b *strings.Builder, j job.Job) {
	fmt.Fprintf(b, "Test Report: %s\n", j.ID)
	b.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	fmt.Fprintf(b, "Status:    %s\n", j.Status)

	trigger := j.SourceEvent
	if trigger == "" {
		trigger = "unknown"
	}
	if j.SubjectID != "" {
		trigger += " (site " + j.SubjectID + ")"
	}
	fmt.Fprintf(b, "Trigger:   %s\n", trigger)

	if !j.CreatedAt.IsZero() {
		fmt.Fprintf(b, "Created:   %s\n", j.CreatedAt.UTC().Format(time.RFC3339))
	}
	if j.StartedAt != nil {
		fmt.Fprintf(b, "Started:   %s\n", j.StartedAt.UTC().Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(b, "Completed: %s\n", j.CompletedAt.UTC().Format(time.RFC3339))
		if j.StartedAt != nil {
			fmt.Fprintf(b, "Elapsed:   %s\n", j.CompletedAt.Sub(*j.StartedAt).Round(time.Millisecond))
		}
	}
	if j.ExitCode != nil {
		fmt.Fprintf(b, "Exit code: %d\n", *j.ExitCode)
	}
	if j.Error != "" {
		fmt.Fprintf(b, "Error:     %s\n", j.Error)
	}
}

func writeSuite(b *strings.Builder, s Suite, depth int) {
	indent := strings.Repeat("  ", depth)
	title := s.Title
	if title == "" {
		title = s.File
	}
	if title != "" {
		fmt.Fprintf(b, "%s%s\n", indent, title)
	}
	for _, spec := range s.Specs {
		for _, t := range spec.Tests {
			line := fmt.Sprintf("%s  [%s] %s", indent, marker(t.Status), spec.Title)
			var meta []string
			if t.ProjectName != "" {
				meta = append(meta, t.ProjectName)
			}
			meta = append(meta, formatMillis(t.Duration()))
			if n := len(t.Results); n > 1 {
				meta = append(meta, fmt.Sprintf("%d attempts", n))
			}
			fmt.Fprintf(b, "%s (%s)\n", line, strings.Join(meta, ", "))
			if t.Status == "unexpected" || t.Status == "flaky" {
				if e := t.Failure(); e != nil {
					writeError(b, *e, depth+2)
				}
			}
		}
	}
	for _, child := range s.Suites {
		writeSuite(b, child, depth+1)
	}
}

func writeError(b *strings.Builder, e TestError, depth int) {
	indent := strings.Repeat("  ", depth)
	msg := strings.TrimSpace(StripANSI(e.Message))
	if msg != "" {
		for _, l := range strings.Split(msg, "\n") {
			fmt.Fprintf(b, "%s%s\n", indent, l)
		}
	}
	stack := strings.TrimSpace(StripANSI(e.Stack))
	if stack == "" || stack == msg {
		return
	}
	lines := strings.Split(stack, "\n")
	// The stack usually repeats the message first.
	if msg != "" && strings.HasPrefix(stack, msg) {
		lines = strings.Split(strings.TrimSpace(strings.TrimPrefix(stack, msg)), "\n")
	}
	shown := lines
	if len(lines) > maxStackLines {
		shown = lines[:maxStackLines]
	}
	for _, l := range shown {
		if l = strings.TrimSpace(l); l != "" {
			fmt.Fprintf(b, "%s  %s\n", indent, l)
		}
	}
	if extra := len(lines) - len(shown); extra > 0 {
		fmt.Fprintf(b, "%s  ... %d more lines\n", indent, extra)
	}
}

func writeOutput(b *strings.Builder, j job.Job) {
	section(b, "Output (stdout)")
	writeStream(b, j.Stdout)
	section(b, "Output (stderr)")
	writeStream(b, j.Stderr)
	if j.OutputTruncated {
		b.WriteString("\n(output was truncated)\n")
	}
}

func writeStream(b *strings.Builder, s string) {
	s = StripANSI(s)
	if strings.TrimSpace(s) == "" {
		b.WriteString("(empty)\n")
		return
	}
	b.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n%s\n", title, strings.Repeat("-", ruleWidth))
}

func marker(status string) string {
	switch status {
	case "expected":
		return "PASS"
	case "unexpected":
		return "FAIL"
	case "flaky":
		return "FLAKY"
	case "skipped":
		return "SKIP"
	default:
		return strings.ToUpper(status)
	}
}

func formatMillis(ms float64) string {
	return (time.Duration(ms * float64(time.Millisecond))).Round(time.Millisecond).String()
}

// StripANSI removes terminal color sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
