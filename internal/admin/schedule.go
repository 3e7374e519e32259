package admin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"newsdesk/internal/domain"
	"newsdesk/internal/restapi"
)

// MaxSchedules is the number of schedules allowed per job type.
const MaxSchedules = 5

// DefaultIntervalHours applies to interval schedules submitted without hours.
const DefaultIntervalHours = 24

// ErrScheduleLimit is returned when a job type already has MaxSchedules.
var ErrScheduleLimit = errors.New("admin: maximum 5 schedules allowed per job type")

// ScheduleAPI is the subset of the REST client used for schedules.
type ScheduleAPI interface {
	SetSchedule(ctx context.Context, req domain.ScheduleRequest) (restapi.ScheduleResult, error)
	ListSchedules(ctx context.Context, job domain.JobType) ([]domain.Schedule, error)
	CancelSchedule(ctx context.Context, job domain.JobType, id string) (int, error)
}

var _ ScheduleAPI = (*restapi.Client)(nil)

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// NewValidator returns a validator with the schedule rules registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmm.MatchString(fl.Field().String())
	})
	return v
}

// Normalize applies defaults: interval schedules without hours run daily,
// and day names are lower-cased.
func Normalize(req domain.ScheduleRequest) domain.ScheduleRequest {
	if req.ScheduleType == domain.ScheduleInterval && req.Hours == 0 {
		req.Hours = DefaultIntervalHours
	}
	if len(req.Days) > 0 {
		days := make([]string, len(req.Days))
		for i, d := range req.Days {
			days[i] = strings.ToLower(strings.TrimSpace(d))
		}
		req.Days = days
	}
	return req
}

// Validate checks a normalised request.
func Validate(v *validator.Validate, req domain.ScheduleRequest) error {
	if err := v.Struct(req); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	switch req.ScheduleType {
	case domain.ScheduleInterval:
		if req.Hours < 1 {
			return errors.New("invalid schedule: interval needs hours >= 1")
		}
	case domain.ScheduleCron:
		if req.Time == "" {
			return errors.New("invalid schedule: cron needs a time (HH:MM)")
		}
	}
	return nil
}

// Planner creates and removes schedules after local validation.
type Planner struct {
	api      ScheduleAPI
	validate *validator.Validate
}

// NewPlanner creates a planner.
func NewPlanner(api ScheduleAPI) *Planner {
	return &Planner{api: api, validate: NewValidator()}
}

// Create validates req, checks the per-type limit, and submits it.
func (p *Planner) Create(ctx context.Context, req domain.ScheduleRequest) (restapi.ScheduleResult, error) {
	req = Normalize(req)
	if err := Validate(p.validate, req); err != nil {
		return restapi.ScheduleResult{}, err
	}

	existing, err := p.api.ListSchedules(ctx, req.Type)
	if err != nil {
		return restapi.ScheduleResult{}, err
	}
	if len(existing) >= MaxSchedules {
		return restapi.ScheduleResult{}, fmt.Errorf("%w: %s has %d", ErrScheduleLimit, req.Type, len(existing))
	}
	return p.api.SetSchedule(ctx, req)
}

// List returns the schedules for job.
func (p *Planner) List(ctx context.Context, job domain.JobType) ([]domain.Schedule, error) {
	return p.api.ListSchedules(ctx, job)
}

// Cancel removes one schedule, or all of job's schedules when id is empty.
func (p *Planner) Cancel(ctx context.Context, job domain.JobType, id string) (int, error) {
	return p.api.CancelSchedule(ctx, job, id)
}

// ---------------------------------------------------------------------------
// Trigger strings
// ---------------------------------------------------------------------------

// TriggerString renders a request in the scheduler's trigger notation, e.g.
// "interval[1 day, 0:00:00]" or "cron[day_of_week='mon,fri', hour='14', minute='30']".
func TriggerString(req domain.ScheduleRequest) string {
	if req.ScheduleType == domain.ScheduleCron {
		hour, minute := splitHHMM(req.Time)
		var parts []string
		if len(req.Days) > 0 {
			parts = append(parts, fmt.Sprintf("day_of_week='%s'", strings.Join(req.Days, ",")))
		}
		parts = append(parts, fmt.Sprintf("hour='%d'", hour), fmt.Sprintf("minute='%d'", minute))
		return "cron[" + strings.Join(parts, ", ") + "]"
	}

	d := time.Duration(req.Hours) * time.Hour
	days := int(d / (24 * time.Hour))
	rest := d % (24 * time.Hour)
	clock := fmt.Sprintf("%d:%02d:%02d", int(rest.Hours()), int(rest.Minutes())%60, int(rest.Seconds())%60)
	switch days {
	case 0:
		return "interval[" + clock + "]"
	case 1:
		return "interval[1 day, " + clock + "]"
	default:
		return fmt.Sprintf("interval[%d days, %s]", days, clock)
	}
}

var (
	cronTimeRe  = regexp.MustCompile(`hour='(\d+)'.*minute='(\d+)'`)
	cronDaysRe  = regexp.MustCompile(`day_of_week='([^']+)'`)
	intervalRe  = regexp.MustCompile(`^interval\[(?:(\d+) days?, )?(\d+):(\d+):(\d+)\]$`)
	weekdayName = map[string]string{
		"mon": "Mon", "tue": "Tue", "wed": "Wed", "thu": "Thu",
		"fri": "Fri", "sat": "Sat", "sun": "Sun",
	}
)

// DescribeTrigger renders a trigger string for people. Unrecognised
// strings are returned unchanged.
func DescribeTrigger(trigger string) string {
	switch {
	case strings.HasPrefix(trigger, "cron"):
		m := cronTimeRe.FindStringSubmatch(trigger)
		if m == nil {
			return trigger
		}
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		at := fmt.Sprintf("Daily at %02d:%02d", h, mi)
		if d := cronDaysRe.FindStringSubmatch(trigger); d != nil {
			names := strings.Split(d[1], ",")
			for i, n := range names {
				if pretty, ok := weekdayName[n]; ok {
					names[i] = pretty
				}
			}
			return at + " on " + strings.Join(names, ", ")
		}
		return at

	case strings.HasPrefix(trigger, "interval"):
		m := intervalRe.FindStringSubmatch(trigger)
		if m == nil {
			return trigger
		}
		days, _ := strconv.Atoi(m[1])
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		switch {
		case days > 0 && hours == 0 && minutes == 0:
			return every(days, "day")
		case days > 0:
			return every(days*24+hours, "hour")
		case hours > 0:
			return every(hours, "hour")
		case minutes > 0:
			return every(minutes, "minute")
		}
	}
	return trigger
}

func every(n int, unit string) string {
	if n == 1 {
		return "Every 1 " + unit
	}
	return fmt.Sprintf("Every %d %ss", n, unit)
}

// NextRun computes the next fire time of req after now. Cron times are in
// loc.
func NextRun(req domain.ScheduleRequest, now time.Time, loc *time.Location) time.Time {
	if req.ScheduleType != domain.ScheduleCron {
		hours := req.Hours
		if hours <= 0 {
			hours = DefaultIntervalHours
		}
		return now.Add(time.Duration(hours) * time.Hour)
	}

	hour, minute := splitHHMM(req.Time)
	allowed := make(map[time.Weekday]bool, len(req.Days))
	for _, d := range req.Days {
		if wd, ok := weekdays[d]; ok {
			allowed[wd] = true
		}
	}
	local := now.In(loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if !at.After(local) {
			continue
		}
		if len(allowed) == 0 || allowed[at.Weekday()] {
			return at
		}
	}
	return time.Time{}
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func splitHHMM(s string) (int, int) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0
	}
	hour, _ := strconv.Atoi(h)
	minute, _ := strconv.Atoi(m)
	return hour, minute
}
