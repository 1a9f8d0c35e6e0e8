package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/publishcheck/internal/config"
	"github.com/mattjoyce/publishcheck/internal/events"
	"github.com/mattjoyce/publishcheck/internal/job"
	"github.com/mattjoyce/publishcheck/internal/lock"
	"github.com/mattjoyce/publishcheck/internal/log"
	"github.com/mattjoyce/publishcheck/internal/report"
)

const (
	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// maxLineBytes bounds a single logged output line.
	maxLineBytes = 64 * 1024
)

var (
	ErrNotQueued    = errors.New("job is not queued")
	ErrShuttingDown = errors.New("runner is shutting down")
)

// Publisher receives job lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Runner executes the external test command for queued jobs.
type Runner struct {
	cfg    config.RunnerConfig
	store  *job.Store
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
	grace  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dirSems map[string]chan struct{}
}

// New creates a Runner. A nil pub discards events and a nil logger uses the
// process logger.
func New(cfg config.RunnerConfig, store *job.Store, pub Publisher, logger *slog.Logger) *Runner {
	if pub == nil {
		pub = nopPublisher{}
	}
	if logger == nil {
		logger = log.WithComponent("runner")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:     cfg,
		store:   store,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
		grace:   terminationGracePeriod,
		baseCtx: ctx,
		cancel:  cancel,
		dirSems: make(map[string]chan struct{}),
	}
}

// Start runs the job in the background and returns immediately.
func (r *Runner) Start(jobID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.WithJob(r.logger, jobID).Warn("rejecting test run during shutdown")
		r.fail(jobID, ErrShuttingDown.Error(), nil)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := r.Run(r.baseCtx, jobID); err != nil {
			log.WithJob(r.logger, jobID).Error("test run failed", "error", err)
		}
	}()
}

// Shutdown cancels in-flight runs and waits for them to finish or for ctx
// to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for test runs: %w", ctx.Err())
	}
}

// Run executes one queued job to completion.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	logger := log.WithJob(r.logger, jobID)

	current, ok := r.store.Get(jobID)
	if !ok {
		return fmt.Errorf("run %s: %w", jobID, job.ErrNotFound)
	}
	if current.Status != job.StatusQueued {
		return fmt.Errorf("run %s in status %s: %w", jobID, current.Status, ErrNotQueued)
	}

	if r.cfg.Serialize {
		release, err := r.acquire(ctx, logger)
		if err != nil {
			r.fail(jobID, err.Error(), nil)
			return err
		}
		defer release()
	}

	started := r.now()
	notQueued := false
	running, err := r.store.Update(jobID, func(j *job.Job) {
		if j.Status != job.StatusQueued {
			notQueued = true
			return
		}
		j.Status = job.StatusRunning
		j.StartedAt = &started
	})
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if notQueued {
		return fmt.Errorf("run %s in status %s: %w", jobID, running.Status, ErrNotQueued)
	}
	r.pub.Publish(events.JobRunning, events.ForJob(running))
	logger.Info("starting tests", "command", r.cfg.Command)

	res := r.execute(ctx, logger)

	if res.err != nil {
		logger.Error("test execution failed", "error", res.err, "exit_code", exitCodeAttr(res.exitCode))
		r.fail(jobID, res.err.Error(), &res)
		r.collect(jobID, logger)
		return res.err
	}

	summary, err := report.LoadSummary(r.resultsPath())
	switch {
	case errors.Is(err, report.ErrNoSummary):
		logger.Debug("no structured results file", "path", r.resultsPath())
	case err != nil:
		logger.Warn("could not read structured results", "error", err)
	}

	completed := r.now()
	done, err := r.store.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusCompleted
		j.CompletedAt = &completed
		res.apply(j)
		if summary != nil {
			st := summary.JobStats()
			j.Summary = &st
		}
		j.TextReport = report.Format(*j, summary)
	})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	r.pub.Publish(events.JobCompleted, events.ForJob(done))
	logger.Info("tests completed", "duration", completed.Sub(started).Round(time.Millisecond))

	r.collect(jobID, logger)
	return nil
}

// fail moves the job to failed. Output is recorded when res is set.
func (r *Runner) fail(jobID, msg string, res *result) {
	completed := r.now()
	changed := false
	failed, err := r.store.Update(jobID, func(j *job.Job) {
		if j.Status.Terminal() {
			return
		}
		changed = true
		j.Status = job.StatusFailed
		j.Error = msg
		j.CompletedAt = &completed
		if res != nil {
			res.apply(j)
		}
	})
	if err != nil {
		log.WithJob(r.logger, jobID).Error("failed to mark job failed", "error", err)
		return
	}
	if changed {
		r.pub.Publish(events.JobFailed, events.ForJob(failed))
	}
}

// collect attaches the report directory to the job. A missing directory
// leaves the job without report data.
func (r *Runner) collect(jobID string, logger *slog.Logger) {
	c, err := report.Collect(r.reportDir())
	if err != nil {
		if errors.Is(err, report.ErrNoReport) {
			logger.Info("report directory not found", "path", r.reportDir())
		} else {
			logger.Error("error saving report", "error", err)
		}
		return
	}

	updated, err := r.store.Update(jobID, func(j *job.Job) {
		j.AttachReport(c.Files, c.Data, c.Digest)
	})
	if err != nil {
		logger.Error("error saving report", "error", err)
		return
	}
	r.pub.Publish(events.JobReport, events.ForJob(updated))
	logger.Info("report saved", "files", len(c.Files), "digest", c.Digest)
}

// acquire serializes runs that share a report directory, first within the
// process and then across processes.
func (r *Runner) acquire(ctx context.Context, logger *slog.Logger) (func(), error) {
	dir := r.reportDir()

	r.mu.Lock()
	sem, ok := r.dirSems[dir]
	if !ok {
		sem = make(chan struct{}, 1)
		r.dirSems[dir] = sem
	}
	r.mu.Unlock()

	select {
	case sem <- struct{}{}:
	default:
		logger.Info("waiting for another test run to finish", "report_dir", dir)
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for report directory: %w", ctx.Err())
		}
	}

	fl, err := lock.Acquire(ctx, r.lockPath())
	if err != nil {
		<-sem
		return nil, fmt.Errorf("lock report directory: %w", err)
	}

	return func() {
		if err := fl.Release(); err != nil {
			logger.Warn("failed to release report lock", "path", fl.Path(), "error", err)
		}
		<-sem
	}, nil
}

type result struct {
	stdout    string
	stderr    string
	truncated bool
	exitCode  *int
	err       error
}

func (res *result) apply(j *job.Job) {
	j.Stdout = res.stdout
	j.Stderr = res.stderr
	j.OutputTruncated = res.truncated
	if res.exitCode != nil {
		code := *res.exitCode
		j.ExitCode = &code
	}
}

// execute spawns the test command and waits for it, enforcing the timeout
// with SIGTERM followed by SIGKILL after the grace period.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger) result {
	args := strings.Fields(r.cfg.Command)
	if len(args) == 0 {
		return result{err: errors.New("test command is empty")}
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = append(os.Environ(), "CI=true")
	if results := r.resultsPath(); results != "" {
		cmd.Env = append(cmd.Env, "PLAYWRIGHT_JSON_OUTPUT_NAME="+results)
		// A results file left by an earlier run must not be reported as this one.
		if err := os.Remove(results); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not remove stale results file", "path", results, "error", err)
		}
	}
	// Own process group so the whole tree (npx, node, browsers) is signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = r.grace

	stdout := newCapture(int64(r.cfg.MaxOutput), logger, "stdout")
	stderr := newCapture(int64(r.cfg.MaxOutput), logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	collectOutput := func(res result) result {
		stdout.flush()
		stderr.flush()
		res.stdout = stdout.String()
		res.stderr = stderr.String()
		res.truncated = stdout.Truncated() || stderr.Truncated()
		return res
	}

	if err := cmd.Start(); err != nil {
		return collectOutput(result{err: fmt.Errorf("start test command: %w", err)})
	}

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var cause error
	select {
	case err := <-waitErr:
		return collectOutput(exitResult(err))
	case <-timer.C:
		cause = fmt.Errorf("test run timed out after %s", r.cfg.Timeout)
		logger.Warn("test run timed out, sending SIGTERM", "timeout", r.cfg.Timeout)
	case <-ctx.Done():
		cause = fmt.Errorf("test run cancelled: %w", ctx.Err())
		logger.Warn("test run cancelled, sending SIGTERM")
	}

	signalGroup(cmd, syscall.SIGTERM, logger)

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	var err error
	select {
	case err = <-waitErr:
		logger.Info("test command exited after SIGTERM")
	case <-grace.C:
		logger.Warn("test command did not exit after SIGTERM, sending SIGKILL")
		signalGroup(cmd, syscall.SIGKILL, logger)
		err = <-waitErr
	}

	res := exitResult(err)
	res.err = cause
	return collectOutput(res)
}

func exitResult(err error) result {
	if err == nil {
		code := 0
		return result{exitCode: &code}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res := result{err: fmt.Errorf("test command failed: %w", err)}
		if code := exitErr.ExitCode(); code >= 0 {
			res.exitCode = &code
		}
		return res
	}
	return result{err: fmt.Errorf("wait for test command: %w", err)}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		logger.Error("failed to signal test command", "signal", sig.String(), "error", err)
	}
}

func exitCodeAttr(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}

func (r *Runner) reportDir() string   { return r.cfg.Resolve(r.cfg.ReportDir) }
func (r *Runner) resultsPath() string { return r.cfg.Resolve(r.cfg.ResultsFile) }
func (r *Runner) lockPath() string    { return r.cfg.Resolve(r.cfg.LockPath()) }
