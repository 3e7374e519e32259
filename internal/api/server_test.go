package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"newsdesk/internal/admin"
	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/feed"
	"newsdesk/internal/restapi"
	"newsdesk/internal/store"
	"newsdesk/internal/util"
)

const testToken = "secret"

type harness struct {
	srv    *Server
	store  *store.SQLiteStore
	http   *httptest.Server
	client *restapi.Client
}

func newHarness(t *testing.T, stepDelay time.Duration) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sim.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(st, config.Sim{Token: testToken, StepDelay: stepDelay}, util.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		srv.jobs.wait()
	})

	return &harness{
		srv:    srv,
		store:  st,
		http:   hs,
		client: restapi.NewClient(hs.URL, testToken, restapi.WithRetry(1, 0), restapi.WithLogger(util.Discard())),
	}
}

func TestListNewsAndAnnouncements(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		item := domain.NewsItem{ID: i, ReceivedDate: fmt.Sprintf("2024-06-15T%02d:00:00", i), Headline: "story"}
		if i == 2 {
			item.Headline = "Acme results"
		}
		if err := h.store.UpsertNews(ctx, item); err != nil {
			t.Fatalf("UpsertNews: %v", err)
		}
	}

	page, err := h.client.ListNews(ctx, restapi.NewsQuery{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("ListNews: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 || page.Items[0].ID != 3 {
		t.Errorf("page = %+v", page)
	}
	found, err := h.client.ListNews(ctx, restapi.NewsQuery{Search: "acme"})
	if err != nil || found.Total != 1 || found.Items[0].ID != 2 {
		t.Errorf("search = %+v, %v", found, err)
	}

	ann := domain.Announcement{ID: "a1", TradeDate: "2024-06-14", CompanyName: "Acme"}
	att := &store.Attachment{Filename: "board.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
	if err := h.store.SaveAnnouncement(ctx, ann, att); err != nil {
		t.Fatalf("SaveAnnouncement: %v", err)
	}
	h.store.SaveAnnouncement(ctx, domain.Announcement{ID: "a2", TradeDate: "2024-06-01"}, nil)

	anns, err := h.client.ListAnnouncements(ctx, restapi.AnnouncementQuery{FromDate: "2024-06-10", ToDate: "2024-06-30"})
	if err != nil {
		t.Fatalf("ListAnnouncements: %v", err)
	}
	if anns.Total != 1 || anns.Items[0].ID != "a1" {
		t.Errorf("announcements = %+v", anns)
	}

	got, err := h.client.GetAttachment(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAttachment: %v", err)
	}
	if got.Filename != "board.pdf" || string(got.Data) != "%PDF-1.4" || got.ContentType != "application/pdf" {
		t.Errorf("attachment = %+v", got)
	}
	if _, err := h.client.GetAttachment(ctx, "a2"); !errors.Is(err, restapi.ErrNotFound) {
		t.Errorf("GetAttachment(a2) error = %v, want ErrNotFound", err)
	}

	if _, err := h.client.ListAnnouncements(ctx, restapi.AnnouncementQuery{FromDate: "14/06/2024"}); err == nil {
		t.Error("bad date should be rejected")
	}
}

func TestRejectsBadToken(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	bad := restapi.NewClient(h.http.URL, "wrong", restapi.WithRetry(1, 0))

	_, err := bad.ListNews(context.Background(), restapi.NewsQuery{})
	var apiErr *restapi.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401", err)
	}

	resp, err := http.Get(h.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestJobRunAndPoll(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	ctx := context.Background()

	runner := admin.NewRunner(h.client, 5*time.Millisecond, 5*time.Second, util.Discard())
	var mu sync.Mutex
	seen := map[domain.Step]bool{}
	st, err := runner.RunAndWait(ctx, domain.JobIPO, func(p admin.Progress) {
		mu.Lock()
		seen[p.Step] = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("RunAndWait: %v", err)
	}
	if st.CurrentStep != domain.StepCompleted || st.IsRunning || st.LastRun == "" {
		t.Errorf("final status = %+v", st)
	}
	if !seen[domain.StepScrapingCurrent] || !seen[domain.StepSaving] {
		t.Errorf("steps seen = %v, want SCRAPING_CURRENT and SAVING", seen)
	}
}

func TestJobAlreadyRunning(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	ctx := context.Background()

	if _, err := h.client.RunJob(ctx, domain.JobBSE); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	_, err := h.client.RunJob(ctx, domain.JobBSE)
	var apiErr *restapi.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("second RunJob error = %v, want 409", err)
	}

	st, err := h.client.JobStatus(ctx, domain.JobBSE)
	if err != nil || !st.IsRunning {
		t.Errorf("status = %+v, %v, want running", st, err)
	}
	if st, _ := h.client.JobStatus(ctx, domain.JobGMP); st.CurrentStep != domain.StepIdle {
		t.Errorf("gmp status = %+v, want IDLE", st)
	}
}

func TestSchedules(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	ctx := context.Background()
	planner := admin.NewPlanner(h.client)

	daily := domain.ScheduleRequest{Type: domain.JobGMP, ScheduleType: domain.ScheduleInterval}
	var ids []string
	for i := 0; i < admin.MaxSchedules; i++ {
		res, err := planner.Create(ctx, daily)
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		ids = append(ids, res.JobID)
	}
	if ids[0] != "gmp_scraper_job_1" || ids[4] != "gmp_scraper_job_5" {
		t.Errorf("ids = %v", ids)
	}

	if _, err := planner.Create(ctx, daily); !errors.Is(err, admin.ErrScheduleLimit) {
		t.Errorf("sixth Create error = %v, want ErrScheduleLimit", err)
	}
	// The server enforces the limit too.
	_, err := h.client.SetSchedule(ctx, admin.Normalize(daily))
	var apiErr *restapi.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("server-side limit error = %v, want 400", err)
	}

	list, err := planner.List(ctx, domain.JobGMP)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 5 || list[0].Trigger != "interval[1 day, 0:00:00]" || list[0].NextRunTime == nil {
		t.Errorf("list = %+v", list)
	}

	if n, err := planner.Cancel(ctx, domain.JobGMP, ids[0]); err != nil || n != 1 {
		t.Errorf("Cancel(id) = %d, %v", n, err)
	}
	if _, err := planner.Cancel(ctx, domain.JobGMP, ids[0]); !errors.Is(err, restapi.ErrNotFound) {
		t.Errorf("Cancel(missing) error = %v, want ErrNotFound", err)
	}
	if n, err := planner.Cancel(ctx, domain.JobGMP, ""); err != nil || n != 4 {
		t.Errorf("Cancel(all) = %d, %v, want 4", n, err)
	}
	if _, err := planner.Cancel(ctx, domain.JobGMP, ""); !errors.Is(err, restapi.ErrNotFound) {
		t.Errorf("Cancel(all, empty) error = %v, want ErrNotFound", err)
	}

	// Invalid requests are rejected server-side as well.
	_, err = h.client.SetSchedule(ctx, domain.ScheduleRequest{Type: domain.JobIPO, ScheduleType: domain.ScheduleCron})
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("cron without time error = %v, want 400", err)
	}
}

func TestSchedulerFiresDueJobs(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	ctx := context.Background()

	req := admin.Normalize(domain.ScheduleRequest{Type: domain.JobIPO, ScheduleType: domain.ScheduleInterval, Hours: 1})
	id, err := h.store.AddSchedule(ctx, req, admin.TriggerString(req))
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	start := time.Now()
	h.srv.sched.now = func() time.Time { return start }
	first := h.srv.sched.next(store.ScheduleRecord{ID: id, Request: req})

	h.srv.sched.now = func() time.Time { return start.Add(2 * time.Hour) }
	h.srv.sched.tick(ctx)
	h.srv.jobs.wait()

	st, err := h.store.JobStatus(ctx, domain.JobIPO)
	if err != nil || st.CurrentStep != domain.StepCompleted {
		t.Errorf("status = %+v, %v, want COMPLETED", st, err)
	}
	if next := h.srv.sched.next(store.ScheduleRecord{ID: id, Request: req}); !next.After(first) {
		t.Errorf("next run %v not advanced past %v", next, first)
	}
}

func TestRealtimeFeed(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	wsURL, err := feed.URLFromAPI(h.http.URL)
	if err != nil {
		t.Fatalf("URLFromAPI: %v", err)
	}

	var mu sync.Mutex
	var events []domain.Event
	client := feed.NewClient(feed.Options{
		URL:           wsURL,
		Token:         testToken,
		FlushInterval: 10 * time.Millisecond,
		Strict:        true,
		Logger:        util.Discard(),
	}, func(batch []domain.Event) {
		mu.Lock()
		events = append(events, batch...)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	waitFor(t, func() bool { return h.srv.Clients() == 1 })

	post(t, h.http.URL+"/api/v1/sim/news", http.MethodPost, `{"headline":"Acme wins order","ticker":"ACME"}`, http.StatusCreated)
	post(t, h.http.URL+"/api/v1/sim/news/1", http.MethodPatch, `{"sentiment":"POSITIVE"}`, http.StatusOK)
	post(t, h.http.URL+"/api/v1/sim/news/99", http.MethodPatch, `{"sentiment":"NEGATIVE"}`, http.StatusNotFound)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 2
	})
	mu.Lock()
	defer mu.Unlock()
	if events[0].Kind != domain.Insert || events[0].ID() != 1 || *events[0].Patch.Headline != "Acme wins order" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != domain.Update || *events[1].Patch.Sentiment != "POSITIVE" || events[1].Patch.Headline != nil {
		t.Errorf("second event = %+v, want sentiment-only update", events[1])
	}

	item, err := h.store.GetNews(context.Background(), 1)
	if err != nil || item.Sentiment != "POSITIVE" || item.Ticker != "ACME" {
		t.Errorf("stored item = %+v, %v", item, err)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	wsURL, _ := feed.URLFromAPI(h.http.URL)

	client := feed.NewClient(feed.Options{
		URL:            wsURL,
		Token:          "wrong",
		ReconnectDelay: time.Millisecond,
		MaxReconnects:  1,
		Logger:         util.Discard(),
	}, nil, nil)
	err := client.Run(context.Background())
	if !errors.Is(err, feed.ErrGaveUp) {
		t.Errorf("Run() error = %v, want ErrGaveUp", err)
	}
	if h.srv.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", h.srv.Clients())
	}
}

func post(t *testing.T, url, method, body string, want int) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		t.Errorf("%s %s status = %d, want %d", method, url, resp.StatusCode, want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
