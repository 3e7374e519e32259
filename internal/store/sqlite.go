package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"newsdesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ NewsStore = (*SQLiteStore)(nil)
var _ AnnouncementStore = (*SQLiteStore)(nil)
var _ ScheduleStore = (*SQLiteStore)(nil)
var _ JobStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS news (
	news_id            INTEGER PRIMARY KEY,
	received_date      TEXT NOT NULL DEFAULT '',
	headline           TEXT NOT NULL DEFAULT '',
	summary            TEXT NOT NULL DEFAULT '',
	company_name       TEXT NOT NULL DEFAULT '',
	ticker             TEXT NOT NULL DEFAULT '',
	exchange           TEXT NOT NULL DEFAULT '',
	country_code       TEXT NOT NULL DEFAULT '',
	sentiment          TEXT NOT NULL DEFAULT '',
	url                TEXT NOT NULL DEFAULT '',
	impact_score       REAL NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL DEFAULT '',
	source_count       INTEGER NOT NULL DEFAULT 0,
	source_handle      TEXT NOT NULL DEFAULT '',
	additional_sources TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS news_received ON news (received_date DESC, news_id DESC);

CREATE TABLE IF NOT EXISTS announcements (
	id                  TEXT PRIMARY KEY,
	trade_date          TEXT NOT NULL DEFAULT '',
	doc                 TEXT NOT NULL,
	search              TEXT NOT NULL DEFAULT '',
	attachment_name     TEXT,
	attachment_type     TEXT,
	attachment          BLOB
);
CREATE INDEX IF NOT EXISTS announcements_trade_date ON announcements (trade_date DESC);

CREATE TABLE IF NOT EXISTS schedules (
	id      TEXT PRIMARY KEY,
	job     TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	request TEXT NOT NULL,
	trigger_text TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_status (
	job          TEXT PRIMARY KEY,
	is_running   INTEGER NOT NULL,
	current_step TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	last_run     TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore implements every store interface backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// NewsStore implementation
// ---------------------------------------------------------------------------

const newsColumns = `news_id, received_date, headline, summary, company_name, ticker,
	exchange, country_code, sentiment, url, impact_score, created_at,
	source_count, source_handle, additional_sources`

// UpsertNews inserts or replaces a news item.
func (s *SQLiteStore) UpsertNews(ctx context.Context, item domain.NewsItem) error {
	return upsertNews(ctx, s.db, item)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertNews(ctx context.Context, db execer, n domain.NewsItem) error {
	sources, err := json.Marshal(nonNil(n.AdditionalSources))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO news (`+newsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ReceivedDate, n.Headline, n.Summary, n.CompanyName, n.Ticker,
		n.Exchange, n.CountryCode, n.Sentiment, n.URL, n.ImpactScore, n.CreatedAt,
		n.SourceCount, n.SourceHandle, string(sources))
	if err != nil {
		return fmt.Errorf("upserting news %d: %w", n.ID, err)
	}
	return nil
}

// PatchNews merges p into the stored item inside a transaction.
func (s *SQLiteStore) PatchNews(ctx context.Context, p domain.NewsPatch) (domain.NewsItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewsItem{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+newsColumns+` FROM news WHERE news_id = ?`, p.ID)
	item, err := scanNews(row)
	if err != nil {
		return domain.NewsItem{}, fmt.Errorf("patching news %d: %w", p.ID, err)
	}
	item.Apply(p)
	if err := upsertNews(ctx, tx, item); err != nil {
		return domain.NewsItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.NewsItem{}, err
	}
	return item, nil
}

// GetNews returns the news item with the given id.
func (s *SQLiteStore) GetNews(ctx context.Context, id int64) (domain.NewsItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+newsColumns+` FROM news WHERE news_id = ?`, id)
	item, err := scanNews(row)
	if err != nil {
		return domain.NewsItem{}, fmt.Errorf("getting news %d: %w", id, err)
	}
	return item, nil
}

// ListNews returns a page of news, newest received first. Search matches
// headline, summary, company name and ticker case-insensitively.
func (s *SQLiteStore) ListNews(ctx context.Context, q Query) (domain.Page[domain.NewsItem], error) {
	q = q.normalize()

	where, args := "", []any{}
	if term := strings.TrimSpace(q.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		where = ` WHERE lower(headline) LIKE ? OR lower(summary) LIKE ?
			OR lower(company_name) LIKE ? OR lower(ticker) LIKE ?`
		args = append(args, like, like, like, like)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM news`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.NewsItem]{}, fmt.Errorf("counting news: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+newsColumns+` FROM news`+where+`
		 ORDER BY received_date DESC, news_id DESC LIMIT ? OFFSET ?`,
		append(args, q.PageSize, (q.Page-1)*q.PageSize)...)
	if err != nil {
		return domain.Page[domain.NewsItem]{}, fmt.Errorf("listing news: %w", err)
	}
	defer rows.Close()

	items := []domain.NewsItem{}
	for rows.Next() {
		item, err := scanNews(rows)
		if err != nil {
			return domain.Page[domain.NewsItem]{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.NewsItem]{}, err
	}

	return domain.Page[domain.NewsItem]{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: domain.TotalPages(total, q.PageSize),
	}, nil
}

// NextNewsID returns max(news_id)+1, or 1 for an empty table.
func (s *SQLiteStore) NextNewsID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT max(news_id) FROM news`).Scan(&maxID); err != nil {
		return 0, err
	}
	return maxID.Int64 + 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNews(r scanner) (domain.NewsItem, error) {
	var n domain.NewsItem
	var sources string
	err := r.Scan(&n.ID, &n.ReceivedDate, &n.Headline, &n.Summary, &n.CompanyName,
		&n.Ticker, &n.Exchange, &n.CountryCode, &n.Sentiment, &n.URL, &n.ImpactScore,
		&n.CreatedAt, &n.SourceCount, &n.SourceHandle, &sources)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal([]byte(sources), &n.AdditionalSources); err != nil {
		return n, fmt.Errorf("decoding sources of news %d: %w", n.ID, err)
	}
	if len(n.AdditionalSources) == 0 {
		n.AdditionalSources = nil
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// AnnouncementStore implementation
// ---------------------------------------------------------------------------

// SaveAnnouncement inserts or replaces an announcement document.
func (s *SQLiteStore) SaveAnnouncement(ctx context.Context, a domain.Announcement, att *Attachment) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	search := strings.ToLower(strings.Join([]string{
		a.CompanyName, a.NewsHeadline, a.SymbolNSE, a.SymbolBSE, a.NewsSubhead,
	}, " "))

	if att == nil {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO announcements (id, trade_date, doc, search) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET trade_date = excluded.trade_date,
			   doc = excluded.doc, search = excluded.search`,
			a.ID, a.TradeDate, string(doc), search)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO announcements
			 (id, trade_date, doc, search, attachment_name, attachment_type, attachment)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TradeDate, string(doc), search, att.Filename, att.ContentType, att.Data)
	}
	if err != nil {
		return fmt.Errorf("saving announcement %s: %w", a.ID, err)
	}
	return nil
}

// ListAnnouncements returns a page of announcements, newest trade date
// first, filtered by search text and an inclusive trade date range.
func (s *SQLiteStore) ListAnnouncements(ctx context.Context, q Query) (domain.Page[domain.Announcement], error) {
	q = q.normalize()

	var conds []string
	var args []any
	if term := strings.TrimSpace(q.Search); term != "" {
		conds = append(conds, "search LIKE ?")
		args = append(args, "%"+strings.ToLower(term)+"%")
	}
	if q.FromDate != "" {
		conds = append(conds, "substr(trade_date, 1, 10) >= ?")
		args = append(args, q.FromDate)
	}
	if q.ToDate != "" {
		conds = append(conds, "substr(trade_date, 1, 10) <= ?")
		args = append(args, q.ToDate)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM announcements`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Announcement]{}, fmt.Errorf("counting announcements: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM announcements`+where+` ORDER BY trade_date DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, q.PageSize, (q.Page-1)*q.PageSize)...)
	if err != nil {
		return domain.Page[domain.Announcement]{}, fmt.Errorf("listing announcements: %w", err)
	}
	defer rows.Close()

	items := []domain.Announcement{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return domain.Page[domain.Announcement]{}, err
		}
		var a domain.Announcement
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return domain.Page[domain.Announcement]{}, fmt.Errorf("decoding announcement: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Announcement]{}, err
	}

	return domain.Page[domain.Announcement]{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: domain.TotalPages(total, q.PageSize),
	}, nil
}

// GetAttachment returns the attachment of announcement id. ErrNotFound is
// returned when the announcement or its attachment is missing.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	var name, ctype sql.NullString
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT attachment_name, attachment_type, attachment FROM announcements WHERE id = ?`, id).
		Scan(&name, &ctype, &data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && data == nil) {
		return Attachment{}, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("attachment %s: %w", id, err)
	}
	att := Attachment{Filename: name.String, ContentType: ctype.String, Data: data}
	if att.Filename == "" {
		att.Filename = id + ".pdf"
	}
	if att.ContentType == "" {
		att.ContentType = "application/pdf"
	}
	return att, nil
}

// ---------------------------------------------------------------------------
// ScheduleStore implementation
// ---------------------------------------------------------------------------

// AddSchedule stores req with id "<type>_scraper_job_<n>", n one past the
// highest sequence ever used for the job type still on record.
func (s *SQLiteStore) AddSchedule(ctx context.Context, req domain.ScheduleRequest, trigger string) (string, error) {
	doc, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT max(seq) FROM schedules WHERE job = ?`, string(req.Type)).Scan(&maxSeq); err != nil {
		return "", err
	}
	seq := maxSeq.Int64 + 1
	id := fmt.Sprintf("%s_scraper_job_%d", req.Type, seq)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (id, job, seq, request, trigger_text) VALUES (?, ?, ?, ?, ?)`,
		id, string(req.Type), seq, string(doc), trigger); err != nil {
		return "", fmt.Errorf("adding schedule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListSchedules returns job's schedules ordered by sequence.
func (s *SQLiteStore) ListSchedules(ctx context.Context, job domain.JobType) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request, trigger_text FROM schedules WHERE job = ? ORDER BY seq`, string(job))
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		var doc string
		if err := rows.Scan(&rec.ID, &doc, &rec.Trigger); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(doc), &rec.Request); err != nil {
			return nil, fmt.Errorf("decoding schedule %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSchedules removes one schedule or all of a job's schedules.
func (s *SQLiteStore) DeleteSchedules(ctx context.Context, job domain.JobType, id string) (int, error) {
	var res sql.Result
	var err error
	if id == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM schedules WHERE job = ?`, string(job))
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM schedules WHERE job = ? AND id = ?`, string(job), id)
	}
	if err != nil {
		return 0, fmt.Errorf("deleting schedules: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---------------------------------------------------------------------------
// JobStore implementation
// ---------------------------------------------------------------------------

// SetJobStatus records the latest status of job.
func (s *SQLiteStore) SetJobStatus(ctx context.Context, job domain.JobType, st domain.JobStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO job_status (job, is_running, current_step, message, last_run)
		 VALUES (?, ?, ?, ?, ?)`,
		string(job), st.IsRunning, string(st.CurrentStep), st.Message, st.LastRun)
	if err != nil {
		return fmt.Errorf("saving %s status: %w", job, err)
	}
	return nil
}

// JobStatus returns the latest status of job. A job that never ran is IDLE.
func (s *SQLiteStore) JobStatus(ctx context.Context, job domain.JobType) (domain.JobStatus, error) {
	var st domain.JobStatus
	var step string
	err := s.db.QueryRowContext(ctx,
		`SELECT is_running, current_step, message, last_run FROM job_status WHERE job = ?`, string(job)).
		Scan(&st.IsRunning, &step, &st.Message, &st.LastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobStatus{CurrentStep: domain.StepIdle}, nil
	}
	if err != nil {
		return st, fmt.Errorf("loading %s status: %w", job, err)
	}
	st.CurrentStep = domain.Step(step)
	return st, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
