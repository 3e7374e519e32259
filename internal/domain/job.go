package domain

import "fmt"

// JobType identifies an external scraper job.
type JobType string

const (
	JobIPO JobType = "ipo"
	JobBSE JobType = "bse"
	JobGMP JobType = "gmp"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{JobIPO, JobBSE, JobGMP}

// ParseJobType validates a job type key.
func ParseJobType(s string) (JobType, error) {
	for _, j := range JobTypes {
		if string(j) == s {
			return j, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// PathSegment returns the REST path segment used by the processor endpoints.
func (j JobType) PathSegment() string {
	switch j {
	case JobBSE:
		return "bse-ipo"
	case JobGMP:
		return "gmp-ipo"
	default:
		return string(j)
	}
}

// Step is the progress marker reported by a running job.
type Step string

const (
	StepIdle             Step = "IDLE"
	StepInitializing     Step = "INITIALIZING"
	StepLoading          Step = "LOADING"
	StepScraping         Step = "SCRAPING"
	StepScrapingCurrent  Step = "SCRAPING_CURRENT"
	StepScrapingUpcoming Step = "SCRAPING_UPCOMING"
	StepSaving           Step = "SAVING"
	StepCompleted        Step = "COMPLETED"
	StepError            Step = "ERROR"
)

// JobStatus is the polled state of a job.
type JobStatus struct {
	IsRunning   bool   `json:"is_running"`
	CurrentStep Step   `json:"current_step"`
	Message     string `json:"message,omitempty"`
	LastRun     string `json:"last_run,omitempty"`
}

// ScheduleKind selects interval or cron triggering.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule is a recurring job registration as reported by the server.
type Schedule struct {
	ID          string  `json:"id"`
	NextRunTime *string `json:"next_run_time"`
	Trigger     string  `json:"trigger"`
}

// ScheduleRequest asks the server to register a recurring job. Interval
// schedules use Hours; cron schedules use Time ("HH:MM") and optional Days.
type ScheduleRequest struct {
	Type         JobType      `json:"type" validate:"required,oneof=ipo bse gmp"`
	ScheduleType ScheduleKind `json:"schedule_type" validate:"required,oneof=interval cron"`
	Hours        int          `json:"hours,omitempty" validate:"gte=0,lte=720"`
	Time         string       `json:"time,omitempty" validate:"omitempty,hhmm"`
	Days         []string     `json:"days,omitempty" validate:"omitempty,dive,oneof=mon tue wed thu fri sat sun"`
}
