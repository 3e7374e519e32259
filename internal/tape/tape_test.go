package tape

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"newsdesk/internal/domain"
	"newsdesk/internal/util"
)

func TestPath(t *testing.T) {
	ts := time.Date(2024, 6, 15, 23, 30, 0, 0, time.UTC)
	want := filepath.Join("/data", "feed", "2024-06-15.parquet")
	if got := Path("/data", ts); got != want {
		t.Errorf("Path() = %s, want %s", got, want)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	h := "Acme wins contract"
	ev := domain.NewUpdate(domain.NewsPatch{ID: 42, Headline: &h})
	rec, err := NewRecord(ev, time.UnixMilli(1718400000000))
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.Kind != "update_news" || rec.NewsID != 42 {
		t.Errorf("record = %+v", rec)
	}
	got, err := rec.Event()
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if got.Kind != domain.Update || got.ID() != 42 || *got.Patch.Headline != h {
		t.Errorf("Event() = %+v", got)
	}
	if got.Patch.Summary != nil {
		t.Error("absent summary decoded as present")
	}
}

func TestAppendMergesAndReads(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	first := []Record{
		{ReceivedAt: day.Add(2 * time.Second).UnixMilli(), Kind: "new_news", NewsID: 2, Payload: `{"news_id":2}`},
	}
	second := []Record{
		{ReceivedAt: day.UnixMilli(), Kind: "new_news", NewsID: 1, Payload: `{"news_id":1}`},
		{ReceivedAt: day.Add(26 * time.Hour).UnixMilli(), Kind: "new_news", NewsID: 3, Payload: `{"news_id":3}`},
	}
	if err := Append(dir, first); err != nil {
		t.Fatalf("Append first: %v", err)
	}
	if err := Append(dir, second); err != nil {
		t.Fatalf("Append second: %v", err)
	}

	records, err := Read(dir, "2024-06-15")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 || records[0].NewsID != 1 || records[1].NewsID != 2 {
		t.Errorf("records = %+v, want ids [1 2] in time order", records)
	}

	dates, err := Dates(dir)
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2024-06-15" || dates[1] != "2024-06-16" {
		t.Errorf("Dates() = %v", dates)
	}

	if recs, err := Read(dir, "2020-01-01"); err != nil || recs != nil {
		t.Errorf("Read(missing) = %v, %v, want nil, nil", recs, err)
	}
}

func TestRecorderFlush(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, util.Discard())
	r.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	r.Record([]domain.Event{
		domain.NewInsert(domain.NewsItem{ID: 1, Headline: "a"}),
		domain.NewInsert(domain.NewsItem{ID: 2, Headline: "b"}),
	})
	if r.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", r.Pending())
	}
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() after flush = %d, want 0", r.Pending())
	}

	events, bad, err := Events(dir, "2024-01-02")
	if err != nil || bad != 0 {
		t.Fatalf("Events() = %v, %d bad, %v", events, bad, err)
	}
	if len(events) != 2 || events[0].ID() != 1 || events[1].ID() != 2 {
		t.Errorf("events = %+v, want ids [1 2] in arrival order", events)
	}
	if events[0].Patch.Item().Headline != "a" {
		t.Errorf("headline = %q, want a", events[0].Patch.Item().Headline)
	}
}

func TestReplayGroupsByTime(t *testing.T) {
	records := []Record{
		{ReceivedAt: 1000, Kind: "new_news", NewsID: 1, Payload: `{}`},
		{ReceivedAt: 1000, Kind: "update_news", NewsID: 1, Payload: `{"headline":"x"}`},
		{ReceivedAt: 1500, Kind: "bogus", NewsID: 9, Payload: `{}`},
		{ReceivedAt: 2000, Kind: "new_news", NewsID: 2, Payload: `{}`},
	}

	var batches [][]domain.Event
	err := Replay(context.Background(), records, 0, func(b []domain.Event) {
		batches = append(batches, b)
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(batches[0]) != 2 || batches[0][1].Kind != domain.Update {
		t.Errorf("first batch = %+v", batches[0])
	}
	if batches[1][0].ID() != 2 {
		t.Errorf("second batch = %+v", batches[1])
	}
}

func TestReplayHonoursCancel(t *testing.T) {
	records := []Record{
		{ReceivedAt: 0, Kind: "new_news", NewsID: 1, Payload: `{}`},
		{ReceivedAt: 3_600_000, Kind: "new_news", NewsID: 2, Payload: `{}`},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := Replay(ctx, records, 1, func([]domain.Event) { calls++ })
	if err == nil {
		t.Fatal("Replay() should return the context error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
