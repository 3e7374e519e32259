package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsdesk/internal/admin"
	"newsdesk/internal/domain"
	"newsdesk/internal/store"
)

// ErrJobRunning is returned when a job is triggered while it is running.
var ErrJobRunning = errors.New("api: job already running")

// jobLabels names each job in status messages.
var jobLabels = map[domain.JobType]string{
	domain.JobIPO: "IPO",
	domain.JobBSE: "BSE IPO",
	domain.JobGMP: "GMP IPO",
}

// jobSteps lists the progress markers each simulated job walks through
// before COMPLETED.
var jobSteps = map[domain.JobType][]domain.Step{
	domain.JobIPO: {domain.StepInitializing, domain.StepLoading, domain.StepScrapingCurrent, domain.StepScrapingUpcoming, domain.StepSaving},
	domain.JobBSE: {domain.StepInitializing, domain.StepLoading, domain.StepScraping, domain.StepSaving},
	domain.JobGMP: {domain.StepInitializing, domain.StepLoading, domain.StepScraping, domain.StepSaving},
}

// jobRunner simulates background scraper jobs. At most one run per job
// type is in flight.
type jobRunner struct {
	store store.JobStore
	delay time.Duration
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	running map[domain.JobType]bool
	wg      sync.WaitGroup
}

func newJobRunner(st store.JobStore, delay time.Duration, log *slog.Logger) *jobRunner {
	return &jobRunner{
		store:   st,
		delay:   delay,
		log:     log.With("component", "jobs"),
		now:     time.Now,
		running: make(map[domain.JobType]bool),
	}
}

// start launches a run of job. It returns ErrJobRunning when one is
// already in flight.
func (j *jobRunner) start(ctx context.Context, job domain.JobType) error {
	j.mu.Lock()
	if j.running[job] {
		j.mu.Unlock()
		return ErrJobRunning
	}
	j.running[job] = true
	j.mu.Unlock()

	// The first step is recorded before returning so an immediate poll sees
	// the job as running.
	if err := j.set(ctx, job, domain.JobStatus{IsRunning: true, CurrentStep: domain.StepInitializing, Message: "Initializing"}); err != nil {
		j.finish(job)
		return err
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer j.finish(job)
		j.run(ctx, job)
	}()
	return nil
}

func (j *jobRunner) run(ctx context.Context, job domain.JobType) {
	label := jobLabels[job]
	for _, step := range jobSteps[job][1:] {
		select {
		case <-ctx.Done():
			j.set(context.Background(), job, domain.JobStatus{
				CurrentStep: domain.StepError,
				Message:     "Cancelled",
			})
			return
		case <-time.After(j.delay):
		}
		msg := admin.StepLabel(domain.JobStatus{IsRunning: true, CurrentStep: step})
		if err := j.set(ctx, job, domain.JobStatus{IsRunning: true, CurrentStep: step, Message: msg}); err != nil {
			j.log.Error("recording job step", "job", job, "step", step, "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(j.delay):
	}
	done := domain.JobStatus{
		CurrentStep: domain.StepCompleted,
		Message:     fmt.Sprintf("%s scraper finished", label),
		LastRun:     j.now().UTC().Format(time.RFC3339),
	}
	if err := j.set(context.Background(), job, done); err != nil {
		j.log.Error("recording job completion", "job", job, "error", err)
	}
	j.log.Info("job completed", "job", job)
}

func (j *jobRunner) set(ctx context.Context, job domain.JobType, st domain.JobStatus) error {
	return j.store.SetJobStatus(ctx, job, st)
}

func (j *jobRunner) finish(job domain.JobType) {
	j.mu.Lock()
	delete(j.running, job)
	j.mu.Unlock()
}

// wait blocks until every in-flight run has finished.
func (j *jobRunner) wait() { j.wg.Wait() }

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

// scheduler fires stored schedules. Next fire times live in memory and are
// recomputed from the stored request after a restart.
type scheduler struct {
	store store.ScheduleStore
	jobs  *jobRunner
	loc   *time.Location
	log   *slog.Logger
	now   func() time.Time

	mu  sync.Mutex
	due map[string]time.Time
}

func newScheduler(st store.ScheduleStore, jobs *jobRunner, loc *time.Location, log *slog.Logger) *scheduler {
	return &scheduler{
		store: st,
		jobs:  jobs,
		loc:   loc,
		log:   log.With("component", "scheduler"),
		now:   time.Now,
		due:   make(map[string]time.Time),
	}
}

// next returns the next fire time of rec, computing it on first sight.
func (s *scheduler) next(rec store.ScheduleRecord) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.due[rec.ID]
	if !ok {
		t = admin.NextRun(rec.Request, s.now(), s.loc)
		s.due[rec.ID] = t
	}
	return t
}

func (s *scheduler) forget(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.due, id)
	}
}

// tick starts every job with a schedule that is due and advances its next
// fire time.
func (s *scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, job := range domain.JobTypes {
		recs, err := s.store.ListSchedules(ctx, job)
		if err != nil {
			s.log.Error("listing schedules", "job", job, "error", err)
			return
		}
		for _, rec := range recs {
			at := s.next(rec)
			if at.IsZero() || at.After(now) {
				continue
			}
			s.mu.Lock()
			s.due[rec.ID] = admin.NextRun(rec.Request, now, s.loc)
			s.mu.Unlock()

			switch err := s.jobs.start(ctx, job); {
			case errors.Is(err, ErrJobRunning):
				s.log.Info("scheduled run skipped, job busy", "schedule", rec.ID)
			case err != nil:
				s.log.Error("scheduled run failed", "schedule", rec.ID, "error", err)
			default:
				s.log.Info("scheduled run started", "schedule", rec.ID)
			}
		}
	}
}

// run ticks every interval until ctx is cancelled.
func (s *scheduler) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}
