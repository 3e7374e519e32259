// Package reconcile merges feed batches into a paginated news list. It
// decides per batch whether inserts are shown immediately or held behind a
// "new updates" notice, depending on the page and scroll position.
package reconcile

import (
	"sync"

	"newsdesk/internal/domain"
)

// MinVisibleRatio is the row visibility at which an unseen row counts as
// seen.
const MinVisibleRatio = 0.2

// State is the scroll state of the list.
type State int

const (
	AtTop State = iota
	ScrolledAway
)

func (s State) String() string {
	if s == ScrolledAway {
		return "scrolled_away"
	}
	return "at_top"
}

// Request describes a page load. Seq orders loads; only the response to
// the latest request is accepted.
type Request struct {
	Seq      uint64
	Page     int
	PageSize int
	Search   string
}

// Result summarises what ApplyBatch did.
type Result struct {
	Updated    int // updates merged into displayed or held rows
	Dropped    int // updates for ids not held
	Inserted   int // rows prepended to the visible list
	Held       int // inserts held behind the notice
	Duplicates int // inserts discarded as already known
	Counted    int // inserts only counted into the total (off page 1)
}

// View is an immutable snapshot of the list for rendering.
type View struct {
	Items      []domain.NewsItem
	Page       int
	PageSize   int
	Total      int
	TotalPages int
	Search     string
	ScrollTop  int
	State      State
	Unseen     int
	ShowNotice bool
	Pending    int
	Loading    bool
	Err        error
}

// Reconciler holds the list state. All methods are safe for concurrent use;
// every mutation is applied atomically under one lock.
type Reconciler struct {
	mu sync.Mutex

	pageSize  int
	threshold int

	items      []domain.NewsItem
	page       int
	total      int
	totalPages int
	search     string
	scrollTop  int

	unseen     map[int64]struct{}
	showNotice bool
	// pending holds inserts received while scrolled away, newest first,
	// bounded to pageSize.
	pending []domain.NewsItem

	seq     uint64
	loading bool
	err     error
}

// New creates an empty reconciler on page 1.
func New(pageSize, threshold int) *Reconciler {
	if pageSize <= 0 {
		pageSize = 20
	}
	if threshold < 0 {
		threshold = 0
	}
	return &Reconciler{
		pageSize:  pageSize,
		threshold: threshold,
		page:      1,
		unseen:    make(map[int64]struct{}),
	}
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// ApplyBatch merges one batch. Updates are applied first, in order; inserts
// are then counted, held, or prepended depending on page and scroll.
func (r *Reconciler) ApplyBatch(batch []domain.Event) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	var inserts []domain.Event
	for _, ev := range batch {
		switch ev.Kind {
		case domain.Update:
			if r.applyUpdate(ev.Patch) {
				res.Updated++
			} else {
				res.Dropped++
			}
		default:
			inserts = append(inserts, ev)
		}
	}
	if len(inserts) == 0 {
		return res
	}

	if r.page != 1 {
		seen := make(map[int64]struct{}, len(inserts))
		for _, ev := range inserts {
			if _, dup := seen[ev.ID()]; dup || r.holds(ev.ID()) {
				res.Duplicates++
				continue
			}
			seen[ev.ID()] = struct{}{}
			res.Counted++
		}
		r.addTotal(res.Counted)
		return res
	}

	fresh := make([]domain.NewsItem, 0, len(inserts))
	seen := make(map[int64]struct{}, len(inserts))
	for _, ev := range inserts {
		id := ev.ID()
		if _, dup := seen[id]; dup || r.holds(id) {
			res.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, ev.Patch.Item())
	}
	if len(fresh) == 0 {
		return res
	}

	if r.scrollTop > r.threshold {
		for _, item := range fresh {
			r.unseen[item.ID] = struct{}{}
		}
		r.pending = prependBounded(fresh, r.pending, r.pageSize)
		r.showNotice = true
		res.Held = len(fresh)
	} else {
		r.items = prependBounded(fresh, r.items, r.pageSize)
		res.Inserted = len(fresh)
	}
	r.addTotal(len(fresh))
	return res
}

// applyUpdate merges p onto a displayed or held row.
func (r *Reconciler) applyUpdate(p domain.NewsPatch) bool {
	if i := indexOf(r.items, p.ID); i >= 0 {
		r.items[i] = r.items[i].Merged(p)
		return true
	}
	if i := indexOf(r.pending, p.ID); i >= 0 {
		r.pending[i] = r.pending[i].Merged(p)
		return true
	}
	return false
}

// holds reports whether id is displayed, pending, or unseen.
func (r *Reconciler) holds(id int64) bool {
	if _, ok := r.unseen[id]; ok {
		return true
	}
	return indexOf(r.items, id) >= 0 || indexOf(r.pending, id) >= 0
}

func (r *Reconciler) addTotal(n int) {
	r.total += n
	r.totalPages = domain.TotalPages(r.total, r.pageSize)
}

// ---------------------------------------------------------------------------
// Scroll and notice
// ---------------------------------------------------------------------------

// Scroll records the scroll offset. Returning to the top of page 1 clears
// the unseen set, hides the notice, and splices held inserts in.
func (r *Reconciler) Scroll(px int) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if px < 0 {
		px = 0
	}
	r.scrollTop = px
	if r.scrollTop <= r.threshold && r.page == 1 {
		r.clearUnseen()
		r.splicePending()
	}
	return r.state()
}

// Visible reports a row's visibility ratio. An unseen row at or above
// MinVisibleRatio is marked seen; the notice hides once none remain.
// Returns true when the id was removed from the unseen set.
func (r *Reconciler) Visible(id int64, ratio float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ratio < MinVisibleRatio {
		return false
	}
	if _, ok := r.unseen[id]; !ok {
		return false
	}
	delete(r.unseen, id)
	if len(r.unseen) == 0 {
		r.showNotice = false
	}
	return true
}

// SweepVisible marks every displayed unseen row whose visibility, computed
// from the current scroll offset, reaches MinVisibleRatio. Returns the
// number of rows marked.
func (r *Reconciler) SweepVisible(rowHeight, viewportHeight int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for i, item := range r.items {
		if _, ok := r.unseen[item.ID]; !ok {
			continue
		}
		if VisibleRatio(i, rowHeight, r.scrollTop, viewportHeight) >= MinVisibleRatio {
			delete(r.unseen, item.ID)
			marked++
		}
	}
	if marked > 0 && len(r.unseen) == 0 {
		r.showNotice = false
	}
	return marked
}

// ObserveTargets returns the displayed ids still in the unseen set.
func (r *Reconciler) ObserveTargets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, item := range r.items {
		if _, ok := r.unseen[item.ID]; ok {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// JumpToRecent scrolls to the top, forces page 1, and clears the notice.
// Held inserts are spliced in immediately. When the page changes, the
// returned request must be loaded and ok is true.
func (r *Reconciler) JumpToRecent() (req Request, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scrollTop = 0
	r.clearUnseen()
	if r.page != 1 {
		r.page = 1
		r.pending = nil
		return r.beginLoad(), true
	}
	r.splicePending()
	return Request{}, false
}

// Dismiss clears the unseen set and hides the notice without moving.
func (r *Reconciler) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearUnseen()
}

func (r *Reconciler) clearUnseen() {
	clear(r.unseen)
	r.showNotice = false
}

// splicePending moves held inserts into the visible list.
func (r *Reconciler) splicePending() {
	if len(r.pending) == 0 {
		return
	}
	kept := make([]domain.NewsItem, 0, len(r.items))
	for _, item := range r.items {
		if indexOf(r.pending, item.ID) < 0 {
			kept = append(kept, item)
		}
	}
	r.items = prependBounded(r.pending, kept, r.pageSize)
	r.pending = nil
}

func (r *Reconciler) state() State {
	if r.scrollTop > r.threshold {
		return ScrolledAway
	}
	return AtTop
}

// ---------------------------------------------------------------------------
// Pagination and loads
// ---------------------------------------------------------------------------

// SetPage moves to page n (minimum 1) and returns the load to issue.
func (r *Reconciler) SetPage(n int) Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 {
		n = 1
	}
	r.page = n
	return r.beginLoad()
}

// SetPageSize changes the page size, resets to page 1, and returns the
// load to issue.
func (r *Reconciler) SetPageSize(n int) Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > 0 {
		r.pageSize = n
	}
	r.page = 1
	return r.beginLoad()
}

// SetSearch changes the search query, resets to page 1, and returns the
// load to issue.
func (r *Reconciler) SetSearch(q string) Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search = q
	r.page = 1
	return r.beginLoad()
}

// BeginLoad issues a reload of the current page.
func (r *Reconciler) BeginLoad() Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beginLoad()
}

func (r *Reconciler) beginLoad() Request {
	r.seq++
	r.loading = true
	return Request{
		Seq:      r.seq,
		Page:     r.page,
		PageSize: r.pageSize,
		Search:   r.search,
	}
}

// CompleteLoad installs a page response. Responses to superseded requests
// are discarded and false is returned.
func (r *Reconciler) CompleteLoad(req Request, page domain.Page[domain.NewsItem]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Seq != r.seq {
		return false
	}
	items := page.Items
	if len(items) > r.pageSize {
		items = items[:r.pageSize]
	}
	r.items = append([]domain.NewsItem(nil), items...)
	r.pending = nil
	r.total = page.Total
	if page.TotalPages > 0 {
		r.totalPages = page.TotalPages
	} else {
		r.totalPages = domain.TotalPages(page.Total, r.pageSize)
	}
	r.loading = false
	r.err = nil
	return true
}

// FailLoad records a failed load. Stale failures are ignored.
func (r *Reconciler) FailLoad(req Request, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Seq != r.seq {
		return false
	}
	r.loading = false
	r.err = err
	return true
}

// Snapshot returns a copy of the current state.
func (r *Reconciler) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.NewsItem, len(r.items))
	copy(items, r.items)
	totalPages := r.totalPages
	if totalPages == 0 {
		totalPages = domain.TotalPages(r.total, r.pageSize)
	}
	return View{
		Items:      items,
		Page:       r.page,
		PageSize:   r.pageSize,
		Total:      r.total,
		TotalPages: totalPages,
		Search:     r.search,
		ScrollTop:  r.scrollTop,
		State:      r.state(),
		Unseen:     len(r.unseen),
		ShowNotice: r.showNotice,
		Pending:    len(r.pending),
		Loading:    r.loading,
		Err:        r.err,
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// VisibleRatio returns the fraction of row index visible in a viewport of
// viewportHeight scrolled to scrollTop, with fixed row heights.
func VisibleRatio(index, rowHeight, scrollTop, viewportHeight int) float64 {
	if rowHeight <= 0 || viewportHeight <= 0 {
		return 0
	}
	top := index * rowHeight
	bottom := top + rowHeight
	lo := max(top, scrollTop)
	hi := min(bottom, scrollTop+viewportHeight)
	if hi <= lo {
		return 0
	}
	return float64(hi-lo) / float64(rowHeight)
}

func indexOf(items []domain.NewsItem, id int64) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// prependBounded returns head ++ tail truncated to limit, in a new slice.
func prependBounded(head, tail []domain.NewsItem, limit int) []domain.NewsItem {
	out := make([]domain.NewsItem, 0, min(len(head)+len(tail), limit))
	for _, item := range head {
		if len(out) == limit {
			return out
		}
		out = append(out, item)
	}
	for _, item := range tail {
		if len(out) == limit {
			break
		}
		out = append(out, item)
	}
	return out
}
