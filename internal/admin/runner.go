// Package admin drives the backend's scraper jobs: triggering a run and
// polling it to completion, and managing recurring schedules.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsdesk/internal/domain"
	"newsdesk/internal/restapi"
)

var (
	// ErrTimeout is returned when a job is still running after the poll
	// timeout.
	ErrTimeout = errors.New("admin: job did not finish before timeout")
	// ErrJobFailed is returned when a job finishes in the ERROR step.
	ErrJobFailed = errors.New("admin: job failed")
)

// JobAPI is the subset of the REST client used to run jobs.
type JobAPI interface {
	RunJob(ctx context.Context, job domain.JobType) (restapi.RunResult, error)
	JobStatus(ctx context.Context, job domain.JobType) (domain.JobStatus, error)
}

var _ JobAPI = (*restapi.Client)(nil)

// Progress is reported to the caller on every poll.
type Progress struct {
	Job     domain.JobType
	Step    domain.Step
	Label   string
	Elapsed time.Duration
}

var stepLabels = map[domain.Step]string{
	domain.StepInitializing:     "Initializing...",
	domain.StepLoading:          "Loading Page...",
	domain.StepScraping:         "Scraping Data...",
	domain.StepScrapingCurrent:  "Scraping Current...",
	domain.StepScrapingUpcoming: "Scraping Upcoming...",
	domain.StepSaving:           "Saving Data...",
}

// StepLabel returns the display text for a step.
func StepLabel(st domain.JobStatus) string {
	if !st.IsRunning {
		if st.CurrentStep == domain.StepError {
			return "Failed"
		}
		return "Done"
	}
	if label, ok := stepLabels[st.CurrentStep]; ok {
		return label
	}
	return "Running..."
}

// Runner triggers a job and polls its status until it stops running.
type Runner struct {
	api      JobAPI
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

// NewRunner creates a runner polling every interval for at most timeout.
func NewRunner(api JobAPI, interval, timeout time.Duration, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{api: api, interval: interval, timeout: timeout, log: log.With("component", "admin")}
}

// RunAndWait triggers job and blocks until it finishes. onStep, if set, is
// called with "Starting..." and then after every successful poll. Poll
// errors are logged and polling continues.
func (r *Runner) RunAndWait(ctx context.Context, job domain.JobType, onStep func(Progress)) (domain.JobStatus, error) {
	start := time.Now()
	report := func(step domain.Step, label string) {
		if onStep != nil {
			onStep(Progress{Job: job, Step: step, Label: label, Elapsed: time.Since(start)})
		}
	}

	report("", "Starting...")
	if _, err := r.api.RunJob(ctx, job); err != nil {
		report(domain.StepError, "Failed")
		return domain.JobStatus{}, err
	}
	r.log.Info("job started", "job", job)

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var last domain.JobStatus
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			report(last.CurrentStep, "Timeout")
			r.log.Warn("job poll timed out", "job", job, "timeout", r.timeout)
			return last, fmt.Errorf("%w: %s after %s", ErrTimeout, job, r.timeout)
		case <-ticker.C:
		}

		st, err := r.api.JobStatus(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			r.log.Warn("job poll failed", "job", job, "error", err)
			continue
		}
		last = st
		report(st.CurrentStep, StepLabel(st))

		if st.IsRunning {
			continue
		}
		if st.CurrentStep == domain.StepError {
			r.log.Error("job failed", "job", job, "message", st.Message)
			return st, fmt.Errorf("%w: %s", ErrJobFailed, job)
		}
		r.log.Info("job finished", "job", job, "elapsed", time.Since(start))
		return st, nil
	}
}
