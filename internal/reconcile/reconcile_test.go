package reconcile

import (
	"errors"
	"testing"

	"newsdesk/internal/domain"
)

func insert(id int64) domain.Event {
	return domain.NewInsert(domain.NewsItem{ID: id, Headline: "h"})
}

func update(id int64, headline string) domain.Event {
	return domain.NewUpdate(domain.NewsPatch{ID: id, Headline: &headline})
}

func ids(items []domain.NewsItem) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// loaded returns a reconciler on page 1 holding the given ids.
func loaded(t *testing.T, pageSize int, total int, idList ...int64) *Reconciler {
	t.Helper()
	r := New(pageSize, 300)
	req := r.BeginLoad()
	items := make([]domain.NewsItem, len(idList))
	for i, id := range idList {
		items[i] = domain.NewsItem{ID: id, Headline: "orig", Sentiment: "neutral"}
	}
	if !r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: items, Total: total, Page: 1, PageSize: pageSize}) {
		t.Fatal("CompleteLoad rejected current request")
	}
	return r
}

func TestDuplicateInsertsAtTop(t *testing.T) {
	r := New(20, 300)
	res := r.ApplyBatch([]domain.Event{insert(1), insert(2), insert(1)})

	v := r.Snapshot()
	if got, want := ids(v.Items), []int64{1, 2}; !equalIDs(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}
	if res.Inserted != 2 || res.Duplicates != 1 {
		t.Errorf("Result = %+v, want Inserted 2, Duplicates 1", res)
	}
	if v.Total != 2 {
		t.Errorf("Total = %d, want 2", v.Total)
	}
}

func TestUpdateMergesInPlace(t *testing.T) {
	r := loaded(t, 20, 2, 5, 6)
	res := r.ApplyBatch([]domain.Event{update(5, "x")})

	v := r.Snapshot()
	if got, want := ids(v.Items), []int64{5, 6}; !equalIDs(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	if v.Items[0].Headline != "x" {
		t.Errorf("items[0].Headline = %q, want %q", v.Items[0].Headline, "x")
	}
	if v.Items[0].Sentiment != "neutral" {
		t.Errorf("items[0].Sentiment = %q, want untouched %q", v.Items[0].Sentiment, "neutral")
	}
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}
}

func TestUpdatesLatestWinsAndNeverCreateRows(t *testing.T) {
	r := loaded(t, 20, 2, 5, 6)
	res := r.ApplyBatch([]domain.Event{update(5, "a"), update(99, "ghost"), update(5, "b")})

	v := r.Snapshot()
	if len(v.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(v.Items))
	}
	if v.Items[0].Headline != "b" {
		t.Errorf("Headline = %q, want last update %q", v.Items[0].Headline, "b")
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
}

func TestUpdatesApplyBeforeInserts(t *testing.T) {
	r := New(20, 300)
	// The insert for 7 arrives first, but updates are merged before
	// inserts, so the update finds nothing to patch.
	r.ApplyBatch([]domain.Event{insert(7), update(7, "late")})

	v := r.Snapshot()
	if v.Items[0].Headline != "h" {
		t.Errorf("Headline = %q, want %q", v.Items[0].Headline, "h")
	}
}

func TestInsertsPrependAndTruncate(t *testing.T) {
	r := loaded(t, 3, 3, 10, 11, 12)
	r.ApplyBatch([]domain.Event{insert(20), insert(21)})

	v := r.Snapshot()
	if got, want := ids(v.Items), []int64{20, 21, 10}; !equalIDs(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}
	if v.Total != 5 {
		t.Errorf("Total = %d, want 5", v.Total)
	}
}

func TestInsertOfDisplayedIDIgnored(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	res := r.ApplyBatch([]domain.Event{insert(2)})

	if got := ids(r.Snapshot().Items); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("items = %v, want [1 2]", got)
	}
	if res.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", res.Duplicates)
	}
}

func TestScrolledAwayHoldsInserts(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	if st := r.Scroll(500); st != ScrolledAway {
		t.Fatalf("Scroll(500) = %v, want ScrolledAway", st)
	}

	r.ApplyBatch([]domain.Event{insert(30), insert(31), insert(32)})
	v := r.Snapshot()
	if got := ids(v.Items); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("items = %v, want unchanged [1 2]", got)
	}
	if v.Unseen != 3 || !v.ShowNotice {
		t.Errorf("Unseen = %d, ShowNotice = %v, want 3, true", v.Unseen, v.ShowNotice)
	}

	// Same ids again: idempotent.
	r.ApplyBatch([]domain.Event{insert(30), insert(31)})
	if v := r.Snapshot(); v.Unseen != 3 {
		t.Errorf("Unseen after replay = %d, want 3", v.Unseen)
	}
}

func TestScrolledAwayStillAppliesUpdates(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	r.Scroll(800)
	r.ApplyBatch([]domain.Event{insert(40), update(1, "new"), update(40, "held")})

	v := r.Snapshot()
	if v.Items[0].Headline != "new" {
		t.Errorf("displayed Headline = %q, want %q", v.Items[0].Headline, "new")
	}

	// 40 was not held yet when its first update ran. Later updates reach it.
	r.ApplyBatch([]domain.Event{update(40, "held")})
	r.Scroll(0)
	v = r.Snapshot()
	if v.Items[0].ID != 40 || v.Items[0].Headline != "held" {
		t.Errorf("items[0] = %+v, want 40 with held headline", v.Items[0])
	}
}

func TestScrollBackToTopClearsAndSplices(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	r.Scroll(500)
	r.ApplyBatch([]domain.Event{insert(3)})

	if st := r.Scroll(100); st != AtTop {
		t.Fatalf("Scroll(100) = %v, want AtTop", st)
	}
	v := r.Snapshot()
	if v.Unseen != 0 || v.ShowNotice {
		t.Errorf("Unseen = %d, ShowNotice = %v, want 0, false", v.Unseen, v.ShowNotice)
	}
	if got := ids(v.Items); !equalIDs(got, []int64{3, 1, 2}) {
		t.Errorf("items = %v, want [3 1 2]", got)
	}
}

func TestJumpToRecentOnPageOne(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	r.Scroll(500)
	r.ApplyBatch([]domain.Event{insert(3), insert(4)})

	if _, ok := r.JumpToRecent(); ok {
		t.Error("JumpToRecent on page 1 should not request a load")
	}
	v := r.Snapshot()
	if v.Page != 1 || v.ScrollTop != 0 || v.ShowNotice || v.Unseen != 0 {
		t.Errorf("after jump: page %d scroll %d notice %v unseen %d", v.Page, v.ScrollTop, v.ShowNotice, v.Unseen)
	}
	if got := ids(v.Items); !equalIDs(got, []int64{3, 4, 1, 2}) {
		t.Errorf("items = %v, want [3 4 1 2]", got)
	}
}

func TestJumpToRecentFromLaterPage(t *testing.T) {
	r := loaded(t, 20, 60, 1, 2)
	req := r.SetPage(3)
	r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 50}}, Total: 60})
	r.Scroll(900)

	jump, ok := r.JumpToRecent()
	if !ok {
		t.Fatal("JumpToRecent from page 3 should request a load")
	}
	if jump.Page != 1 {
		t.Errorf("jump request page = %d, want 1", jump.Page)
	}
	v := r.Snapshot()
	if v.Page != 1 || v.ScrollTop != 0 || v.ShowNotice || v.Unseen != 0 {
		t.Errorf("after jump: page %d scroll %d notice %v unseen %d", v.Page, v.ScrollTop, v.ShowNotice, v.Unseen)
	}
}

func TestOffFirstPageCountsInserts(t *testing.T) {
	r := loaded(t, 20, 40, 1, 2)
	req := r.SetPage(2)
	r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 21}, {ID: 22}}, Total: 40})

	res := r.ApplyBatch([]domain.Event{insert(100), insert(101), insert(100)})
	v := r.Snapshot()
	if got := ids(v.Items); !equalIDs(got, []int64{21, 22}) {
		t.Errorf("items = %v, want unchanged [21 22]", got)
	}
	if v.Total != 42 {
		t.Errorf("Total = %d, want 42", v.Total)
	}
	if res.Counted != 2 {
		t.Errorf("Counted = %d, want 2", res.Counted)
	}
	if v.ShowNotice {
		t.Error("ShowNotice = true off page 1")
	}
}

func TestVisibleRemovesUnseen(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	r.Scroll(500)
	r.ApplyBatch([]domain.Event{insert(3), insert(4)})

	if r.Visible(3, 0.1) {
		t.Error("Visible at 10% should not mark seen")
	}
	if !r.Visible(3, 0.2) {
		t.Error("Visible at 20% should mark seen")
	}
	if r.Visible(3, 1) {
		t.Error("second Visible for the same id should be a no-op")
	}
	if v := r.Snapshot(); v.Unseen != 1 || !v.ShowNotice {
		t.Errorf("Unseen = %d, ShowNotice = %v, want 1, true", v.Unseen, v.ShowNotice)
	}
	r.Visible(4, 0.5)
	if v := r.Snapshot(); v.Unseen != 0 || v.ShowNotice {
		t.Errorf("Unseen = %d, ShowNotice = %v, want 0, false", v.Unseen, v.ShowNotice)
	}
}

func TestDismiss(t *testing.T) {
	r := loaded(t, 20, 2, 1, 2)
	r.Scroll(500)
	r.ApplyBatch([]domain.Event{insert(3)})
	r.Dismiss()

	v := r.Snapshot()
	if v.Unseen != 0 || v.ShowNotice {
		t.Errorf("Unseen = %d, ShowNotice = %v, want 0, false", v.Unseen, v.ShowNotice)
	}
	if v.Pending != 1 {
		t.Errorf("Pending = %d, want 1", v.Pending)
	}
}

func TestStaleLoadDiscarded(t *testing.T) {
	r := New(20, 300)
	first := r.SetPage(2)
	second := r.SetPage(3)

	if !r.CompleteLoad(second, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 3}}, Total: 60}) {
		t.Fatal("latest response rejected")
	}
	if r.CompleteLoad(first, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 2}}, Total: 60}) {
		t.Error("stale response accepted")
	}
	if r.FailLoad(first, errors.New("boom")) {
		t.Error("stale failure accepted")
	}

	v := r.Snapshot()
	if got := ids(v.Items); !equalIDs(got, []int64{3}) {
		t.Errorf("items = %v, want [3]", got)
	}
	if v.Err != nil || v.Loading {
		t.Errorf("Err = %v, Loading = %v, want nil, false", v.Err, v.Loading)
	}
	if v.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", v.TotalPages)
	}
}

func TestSetSearchResetsPage(t *testing.T) {
	r := New(20, 300)
	r.SetPage(4)
	req := r.SetSearch("acme")
	if req.Page != 1 || req.Search != "acme" {
		t.Errorf("request = %+v, want page 1 search acme", req)
	}
	req = r.SetPageSize(50)
	if req.Page != 1 || req.PageSize != 50 {
		t.Errorf("request = %+v, want page 1 size 50", req)
	}
}

func TestPendingBoundedAndObserveTargets(t *testing.T) {
	r := loaded(t, 2, 0)
	r.Scroll(500)
	r.ApplyBatch([]domain.Event{insert(1), insert(2), insert(3)})

	v := r.Snapshot()
	if v.Pending != 2 {
		t.Errorf("Pending = %d, want 2", v.Pending)
	}
	if v.Unseen != 3 {
		t.Errorf("Unseen = %d, want 3", v.Unseen)
	}
	if targets := r.ObserveTargets(); len(targets) != 0 {
		t.Errorf("ObserveTargets = %v, want none while held", targets)
	}

	// A reload while scrolled brings unseen rows on screen.
	req := r.BeginLoad()
	r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 3}, {ID: 2}}, Total: 3})
	if got := r.ObserveTargets(); !equalIDs(got, []int64{3, 2}) {
		t.Errorf("ObserveTargets = %v, want [3 2]", got)
	}
}

func TestSweepVisible(t *testing.T) {
	r := loaded(t, 20, 0)
	r.Scroll(500)
	r.ApplyBatch([]domain.Event{insert(1), insert(2)})
	req := r.BeginLoad()
	items := []domain.NewsItem{{ID: 9}, {ID: 8}, {ID: 7}, {ID: 6}, {ID: 1}, {ID: 2}}
	r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: items, Total: 6})

	// Rows are 120px; viewport [500, 740) shows rows 4 and 5 (ids 1, 2).
	r.Scroll(500)
	if n := r.SweepVisible(120, 240); n != 2 {
		t.Errorf("SweepVisible = %d, want 2", n)
	}
	if v := r.Snapshot(); v.ShowNotice {
		t.Error("ShowNotice = true after all unseen rows were seen")
	}
}

func TestVisibleRatio(t *testing.T) {
	tests := []struct {
		index, row, top, vp int
		want                float64
	}{
		{0, 100, 0, 300, 1},
		{3, 100, 0, 300, 0},
		{2, 100, 50, 300, 1},
		{3, 100, 50, 300, 0.5},
		{0, 100, 90, 300, 0.1},
		{0, 0, 0, 300, 0},
	}
	for _, tt := range tests {
		if got := VisibleRatio(tt.index, tt.row, tt.top, tt.vp); got != tt.want {
			t.Errorf("VisibleRatio(%d, %d, %d, %d) = %v, want %v", tt.index, tt.row, tt.top, tt.vp, got, tt.want)
		}
	}
}

func TestCompleteLoadPagesFromOwnPageSize(t *testing.T) {
	r := New(20, 300)
	req := r.BeginLoad()
	if !r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 1}}, Total: 60}) {
		t.Fatal("CompleteLoad rejected current request")
	}
	if v := r.Snapshot(); v.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3 (60 rows at 20 per page)", v.TotalPages)
	}

	req = r.BeginLoad()
	r.CompleteLoad(req, domain.Page[domain.NewsItem]{Items: []domain.NewsItem{{ID: 1}}, Total: 60, PageSize: 20, TotalPages: 4})
	if v := r.Snapshot(); v.TotalPages != 4 {
		t.Errorf("TotalPages = %d, want server value 4", v.TotalPages)
	}

	// Later inserts agree with the loaded page count.
	r.ApplyBatch([]domain.Event{insert(100)})
	if v := r.Snapshot(); v.Total != 61 || v.TotalPages != 4 {
		t.Errorf("Total = %d, TotalPages = %d, want 61, 4", v.Total, v.TotalPages)
	}
}

func TestUntaggedEventTreatedAsInsert(t *testing.T) {
	r := loaded(t, 20, 2, 5, 6)
	res := r.ApplyBatch([]domain.Event{{Patch: domain.NewsPatch{ID: 9}}})
	if res.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", res.Inserted)
	}
	if got := ids(r.Snapshot().Items); !equalIDs(got, []int64{9, 5, 6}) {
		t.Errorf("items = %v, want [9 5 6]", got)
	}
}
