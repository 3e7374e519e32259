// Package restapi is the HTTP client for the newsdesk backend: paginated
// news and announcements, attachments, and the admin processor endpoints.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/util"
)

// ErrNotFound matches any *Error with status 404.
var ErrNotFound = errors.New("restapi: not found")

// Error is a non-2xx response. Detail carries the server's message.
type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Is reports 404 responses as ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client calls the backend REST API. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *util.RateLimiter
	attempts   int
	retryDelay time.Duration
	log        *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps requests per minute. Zero disables throttling.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) { c.limiter = util.NewRateLimiter(perMinute) }
}

// WithRetry sets the attempt count and base delay for idempotent GETs.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.retryDelay = baseDelay
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for baseURL authenticated with token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	c.log = c.log.With("component", "restapi")
	return c
}

// FromConfig creates a client from the api section.
func FromConfig(cfg config.API, log *slog.Logger) *Client {
	return NewClient(cfg.BaseURL, cfg.Token,
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		WithRateLimit(cfg.RateLimitPerMin),
		WithRetry(cfg.RetryAttempts, 500*time.Millisecond),
		WithLogger(log),
	)
}

// ---------------------------------------------------------------------------
// News and announcements
// ---------------------------------------------------------------------------

// NewsQuery selects a page of news.
type NewsQuery struct {
	Page     int
	PageSize int
	Search   string
}

// AnnouncementQuery selects a page of announcements. Dates are YYYY-MM-DD.
type AnnouncementQuery struct {
	Page     int
	PageSize int
	Search   string
	FromDate string
	ToDate   string
}

type newsPage struct {
	News       []domain.NewsItem `json:"news"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

type announcementPage struct {
	Announcements []domain.Announcement `json:"announcements"`
	Total         int                   `json:"total"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
	TotalPages    int                   `json:"total_pages"`
}

// ListNews fetches one page of news, newest first.
func (c *Client) ListNews(ctx context.Context, q NewsQuery) (domain.Page[domain.NewsItem], error) {
	v := pageValues(q.Page, q.PageSize, q.Search)
	var resp newsPage
	if err := c.getJSON(ctx, "/api/v1/news", v, &resp); err != nil {
		return domain.Page[domain.NewsItem]{}, fmt.Errorf("listing news: %w", err)
	}
	return domain.Page[domain.NewsItem]{
		Items:      resp.News,
		Total:      resp.Total,
		Page:       resp.Page,
		PageSize:   resp.PageSize,
		TotalPages: resp.TotalPages,
	}, nil
}

// ListAnnouncements fetches one page of announcements.
func (c *Client) ListAnnouncements(ctx context.Context, q AnnouncementQuery) (domain.Page[domain.Announcement], error) {
	v := pageValues(q.Page, q.PageSize, q.Search)
	if q.FromDate != "" {
		v.Set("from_date", q.FromDate)
	}
	if q.ToDate != "" {
		v.Set("to_date", q.ToDate)
	}
	var resp announcementPage
	if err := c.getJSON(ctx, "/api/v1/announcements", v, &resp); err != nil {
		return domain.Page[domain.Announcement]{}, fmt.Errorf("listing announcements: %w", err)
	}
	return domain.Page[domain.Announcement]{
		Items:      resp.Announcements,
		Total:      resp.Total,
		Page:       resp.Page,
		PageSize:   resp.PageSize,
		TotalPages: resp.TotalPages,
	}, nil
}

// Attachment is a downloaded announcement attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GetAttachment downloads the attachment of announcement id. A missing
// attachment returns an error matching ErrNotFound.
func (c *Client) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	path := "/api/v1/announcements/" + url.PathEscape(id) + "/attachment"

	var att Attachment
	err := util.Retry(ctx, c.attempts, c.retryDelay, func() error {
		resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading attachment: %w", err)
		}
		att = Attachment{
			Filename:    filenameFrom(resp.Header.Get("Content-Disposition"), id),
			ContentType: resp.Header.Get("Content-Type"),
			Data:        data,
		}
		return nil
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("fetching attachment %s: %w", id, err)
	}
	return att, nil
}

// ---------------------------------------------------------------------------
// Admin processors
// ---------------------------------------------------------------------------

// RunResult is the acknowledgement of a job trigger.
type RunResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RunJob starts a scraper job in the background on the server.
func (c *Client) RunJob(ctx context.Context, job domain.JobType) (RunResult, error) {
	var out RunResult
	path := "/api/v1/system/processors/" + job.PathSegment() + "/run"
	if err := c.sendJSON(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return RunResult{}, fmt.Errorf("running %s: %w", job, err)
	}
	return out, nil
}

// JobStatus polls the state of a job.
func (c *Client) JobStatus(ctx context.Context, job domain.JobType) (domain.JobStatus, error) {
	var out domain.JobStatus
	path := "/api/v1/system/processors/" + job.PathSegment() + "/status"
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return domain.JobStatus{}, fmt.Errorf("polling %s status: %w", job, err)
	}
	return out, nil
}

// ScheduleResult acknowledges a new schedule.
type ScheduleResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

type scheduleList struct {
	Status    string            `json:"status"`
	Schedules []domain.Schedule `json:"schedules"`
	Count     int               `json:"count"`
}

type cancelResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// SetSchedule registers a recurring job.
func (c *Client) SetSchedule(ctx context.Context, req domain.ScheduleRequest) (ScheduleResult, error) {
	var out ScheduleResult
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/system/processors/schedule", nil, req, &out); err != nil {
		return ScheduleResult{}, fmt.Errorf("scheduling %s: %w", req.Type, err)
	}
	return out, nil
}

// ListSchedules returns the schedules registered for a job type.
func (c *Client) ListSchedules(ctx context.Context, job domain.JobType) ([]domain.Schedule, error) {
	v := url.Values{"type": {string(job)}}
	var out scheduleList
	if err := c.getJSON(ctx, "/api/v1/system/processors/schedule", v, &out); err != nil {
		return nil, fmt.Errorf("listing %s schedules: %w", job, err)
	}
	return out.Schedules, nil
}

// CancelSchedule removes one schedule, or every schedule of the job type
// when id is empty. Returns the number removed.
func (c *Client) CancelSchedule(ctx context.Context, job domain.JobType, id string) (int, error) {
	v := url.Values{"type": {string(job)}}
	if id != "" {
		v.Set("job_id", id)
	}
	var out cancelResult
	if err := c.sendJSON(ctx, http.MethodDelete, "/api/v1/system/processors/schedule", v, nil, &out); err != nil {
		return 0, fmt.Errorf("cancelling %s schedule: %w", job, err)
	}
	if id != "" && out.Count == 0 {
		out.Count = 1
	}
	return out.Count, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// getJSON performs an idempotent GET with retries. 4xx responses are not
// retried.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return util.Retry(ctx, c.attempts, c.retryDelay, func() error {
		return c.roundTrip(ctx, http.MethodGet, path, q, nil, out)
	})
}

// sendJSON performs a single non-idempotent request.
func (c *Client) sendJSON(ctx context.Context, method, path string, q url.Values, body, out any) error {
	err := c.roundTrip(ctx, method, path, q, body, out)
	if util.IsPermanent(err) {
		return errors.Unwrap(err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return util.Permanent(fmt.Errorf("encoding request: %w", err))
		}
		payload = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, q, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return util.Permanent(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return nil
}

// do sends one request and converts non-2xx responses to *Error. Client
// errors are wrapped with util.Permanent so retries stop.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("building request: %w", err))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.log.Debug("request", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", reqID, "elapsed", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	apiErr := &Error{Method: method, Path: path, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return nil, util.Permanent(apiErr)
	}
	return nil, apiErr
}

// readDetail extracts the server message from {"detail": ...} or
// {"error": ...} bodies, falling back to the raw text.
func readDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var body struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch d := body.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

func pageValues(page, pageSize int, search string) url.Values {
	v := url.Values{}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		v.Set("page_size", strconv.Itoa(pageSize))
	}
	if search != "" {
		v.Set("search", search)
	}
	return v
}

func filenameFrom(disposition, id string) string {
	const key = "filename="
	if i := strings.Index(disposition, key); i >= 0 {
		name := strings.Trim(disposition[i+len(key):], `"; `)
		if name != "" {
			return name
		}
	}
	return id + ".pdf"
}
