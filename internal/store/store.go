// Package store defines the persistence interfaces used by the backend
// simulator: news, announcements, schedules, and job status.
package store

import (
	"context"
	"errors"

	"newsdesk/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Query selects a page of rows. Dates are YYYY-MM-DD and only apply to
// announcements.
type Query struct {
	Page     int
	PageSize int
	Search   string
	FromDate string
	ToDate   string
}

// normalize clamps paging to page >= 1 and 1 <= size <= 100.
func (q Query) normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
	return q
}

// Attachment is a stored announcement attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ScheduleRecord is a registered recurring job.
type ScheduleRecord struct {
	ID      string
	Request domain.ScheduleRequest
	Trigger string
}

// NewsStore persists news items.
type NewsStore interface {
	// UpsertNews inserts or replaces an item.
	UpsertNews(ctx context.Context, item domain.NewsItem) error

	// PatchNews merges p into the stored item and returns the result.
	PatchNews(ctx context.Context, p domain.NewsPatch) (domain.NewsItem, error)

	// GetNews returns the item with the given id.
	GetNews(ctx context.Context, id int64) (domain.NewsItem, error)

	// ListNews returns a page of items, newest first.
	ListNews(ctx context.Context, q Query) (domain.Page[domain.NewsItem], error)

	// NextNewsID returns an id greater than every stored id.
	NextNewsID(ctx context.Context) (int64, error)
}

// AnnouncementStore persists announcements and their attachments.
type AnnouncementStore interface {
	// SaveAnnouncement inserts or replaces an announcement. A nil
	// attachment leaves any stored attachment in place.
	SaveAnnouncement(ctx context.Context, a domain.Announcement, att *Attachment) error

	// ListAnnouncements returns a page of announcements, newest trade date
	// first.
	ListAnnouncements(ctx context.Context, q Query) (domain.Page[domain.Announcement], error)

	// GetAttachment returns the attachment of announcement id.
	GetAttachment(ctx context.Context, id string) (Attachment, error)
}

// ScheduleStore persists recurring job registrations.
type ScheduleStore interface {
	// AddSchedule registers req and returns its generated id.
	AddSchedule(ctx context.Context, req domain.ScheduleRequest, trigger string) (string, error)

	// ListSchedules returns the schedules of job in creation order.
	ListSchedules(ctx context.Context, job domain.JobType) ([]ScheduleRecord, error)

	// DeleteSchedules removes schedule id of job, or all of job's schedules
	// when id is empty, and returns the number removed.
	DeleteSchedules(ctx context.Context, job domain.JobType, id string) (int, error)
}

// JobStore persists the latest status of each job.
type JobStore interface {
	// SetJobStatus records the status of job.
	SetJobStatus(ctx context.Context, job domain.JobType, st domain.JobStatus) error

	// JobStatus returns the status of job, IDLE when never run.
	JobStatus(ctx context.Context, job domain.JobType) (domain.JobStatus, error)
}
