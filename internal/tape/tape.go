// Package tape records feed events to daily Parquet files and reads them
// back for replay.
package tape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"newsdesk/internal/domain"
)

// Record is the Parquet schema for one feed event.
type Record struct {
	ReceivedAt int64  `parquet:"received_at,timestamp(millisecond)"` // Unix ms
	Kind       string `parquet:"kind"`
	NewsID     int64  `parquet:"news_id"`
	Payload    string `parquet:"payload"` // JSON NewsPatch
}

// NewRecord converts an event received at t.
func NewRecord(ev domain.Event, t time.Time) (Record, error) {
	payload, err := json.Marshal(ev.Patch)
	if err != nil {
		return Record{}, fmt.Errorf("encoding news %d: %w", ev.ID(), err)
	}
	return Record{
		ReceivedAt: t.UnixMilli(),
		Kind:       ev.Kind.String(),
		NewsID:     ev.ID(),
		Payload:    string(payload),
	}, nil
}

// Event decodes the record back into an event.
func (r Record) Event() (domain.Event, error) {
	kind, ok := domain.ParseEventKind(r.Kind)
	if !ok {
		return domain.Event{}, fmt.Errorf("record for news %d: unknown kind %q", r.NewsID, r.Kind)
	}
	var p domain.NewsPatch
	if err := json.Unmarshal([]byte(r.Payload), &p); err != nil {
		return domain.Event{}, fmt.Errorf("record for news %d: %w", r.NewsID, err)
	}
	p.ID = r.NewsID
	return domain.Event{Kind: kind, Patch: p}, nil
}

// Time returns the receive time.
func (r Record) Time() time.Time { return time.UnixMilli(r.ReceivedAt) }

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// Path returns the tape file for the UTC day of t.
// Layout: <dir>/feed/<YYYY-MM-DD>.parquet
func Path(dir string, t time.Time) string {
	return filepath.Join(dir, "feed", t.UTC().Format("2006-01-02")+".parquet")
}

// Append merges records into their daily files. Existing rows are kept and
// the result is ordered by receive time; rows with equal times keep their
// arrival order.
func Append(dir string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	groups := make(map[string][]Record)
	var order []string
	for _, r := range records {
		p := Path(dir, r.Time())
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], r)
	}

	for _, path := range order {
		existing, err := readFile(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		merged := append(existing, groups[path]...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].ReceivedAt < merged[j].ReceivedAt
		})
		if err := writeFile(path, merged); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// Read returns the records taped on date (YYYY-MM-DD). A missing tape
// returns no records and no error.
func Read(dir, date string) ([]Record, error) {
	path := filepath.Join(dir, "feed", date+".parquet")
	records, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// Events reads date's tape and decodes it. Undecodable rows are skipped and
// counted.
func Events(dir, date string) ([]domain.Event, int, error) {
	records, err := Read(dir, date)
	if err != nil {
		return nil, 0, err
	}
	events := make([]domain.Event, 0, len(records))
	bad := 0
	for _, r := range records {
		ev, err := r.Event()
		if err != nil {
			bad++
			continue
		}
		events = append(events, ev)
	}
	return events, bad, nil
}

// Dates lists the days with a tape, oldest first.
func Dates(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "feed"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			dates = append(dates, name)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func writeFile(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readFile(path string) ([]Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[Record](path)
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

// Recorder buffers batches in memory and appends them to tape on Flush.
type Recorder struct {
	dir string
	log *slog.Logger
	now func() time.Time

	mu  sync.Mutex
	buf []Record
}

// NewRecorder creates a recorder writing under dir.
func NewRecorder(dir string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{dir: dir, log: log.With("component", "tape"), now: time.Now}
}

// Record buffers a batch. Its signature matches feed.BatchHandler.
func (r *Recorder) Record(batch []domain.Event) {
	t := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range batch {
		rec, err := NewRecord(ev, t)
		if err != nil {
			r.log.Warn("skipping event", "error", err)
			continue
		}
		r.buf = append(r.buf, rec)
	}
}

// Pending returns the number of buffered records.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Flush writes buffered records. On failure they stay buffered.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	buf := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(buf) == 0 {
		return nil
	}
	if err := Append(r.dir, buf); err != nil {
		r.mu.Lock()
		r.buf = append(buf, r.buf...)
		r.mu.Unlock()
		return err
	}
	r.log.Debug("flushed tape", "records", len(buf))
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.Flush()
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.log.Error("flushing tape", "error", err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// Replay delivers records to fn, grouping rows with the same receive time
// into one batch and sleeping between batches for the recorded gap divided
// by speed. speed <= 0 replays without delay.
func Replay(ctx context.Context, records []Record, speed float64, fn func([]domain.Event)) error {
	var batch []domain.Event
	var batchAt int64
	flush := func() {
		if len(batch) > 0 {
			fn(batch)
			batch = nil
		}
	}

	for i, r := range records {
		if i > 0 && r.ReceivedAt != batchAt {
			flush()
			if speed > 0 {
				gap := time.Duration(float64(time.Duration(r.ReceivedAt-batchAt)*time.Millisecond) / speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batchAt = r.ReceivedAt
		ev, err := r.Event()
		if err != nil {
			continue
		}
		batch = append(batch, ev)
	}
	flush()
	return nil
}
