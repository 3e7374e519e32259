// Package domain defines the core types shared across newsdesk: news items
// and their patches, feed events, pages, announcements, and admin jobs.
package domain

// NewsItem is a single enriched news record. ID is its identity; every other
// field may change through update events.
type NewsItem struct {
	ID                int64    `json:"news_id"`
	ReceivedDate      string   `json:"received_date,omitempty"`
	Headline          string   `json:"headline,omitempty"`
	Summary           string   `json:"summary,omitempty"`
	CompanyName       string   `json:"company_name,omitempty"`
	Ticker            string   `json:"ticker,omitempty"`
	Exchange          string   `json:"exchange,omitempty"`
	CountryCode       string   `json:"country_code,omitempty"`
	Sentiment         string   `json:"sentiment,omitempty"`
	URL               string   `json:"url,omitempty"`
	ImpactScore       float64  `json:"impact_score,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty"`
	SourceCount       int      `json:"source_count,omitempty"`
	SourceHandle      string   `json:"source_handle,omitempty"`
	AdditionalSources []string `json:"additional_sources,omitempty"`
}

// NewsPatch carries the fields present in an event payload. A nil field was
// absent from the payload and leaves the target untouched.
type NewsPatch struct {
	ID                int64    `json:"news_id"`
	ReceivedDate      *string  `json:"received_date,omitempty"`
	Headline          *string  `json:"headline,omitempty"`
	Summary           *string  `json:"summary,omitempty"`
	CompanyName       *string  `json:"company_name,omitempty"`
	Ticker            *string  `json:"ticker,omitempty"`
	Exchange          *string  `json:"exchange,omitempty"`
	CountryCode       *string  `json:"country_code,omitempty"`
	Sentiment         *string  `json:"sentiment,omitempty"`
	URL               *string  `json:"url,omitempty"`
	ImpactScore       *float64 `json:"impact_score,omitempty"`
	CreatedAt         *string  `json:"created_at,omitempty"`
	SourceCount       *int     `json:"source_count,omitempty"`
	SourceHandle      *string  `json:"source_handle,omitempty"`
	AdditionalSources []string `json:"additional_sources,omitempty"`
}

// Apply shallow-merges p onto the item. Fields present in p win.
func (n *NewsItem) Apply(p NewsPatch) {
	setString(&n.ReceivedDate, p.ReceivedDate)
	setString(&n.Headline, p.Headline)
	setString(&n.Summary, p.Summary)
	setString(&n.CompanyName, p.CompanyName)
	setString(&n.Ticker, p.Ticker)
	setString(&n.Exchange, p.Exchange)
	setString(&n.CountryCode, p.CountryCode)
	setString(&n.Sentiment, p.Sentiment)
	setString(&n.URL, p.URL)
	setString(&n.CreatedAt, p.CreatedAt)
	setString(&n.SourceHandle, p.SourceHandle)
	if p.ImpactScore != nil {
		n.ImpactScore = *p.ImpactScore
	}
	if p.SourceCount != nil {
		n.SourceCount = *p.SourceCount
	}
	if p.AdditionalSources != nil {
		n.AdditionalSources = append([]string(nil), p.AdditionalSources...)
	}
}

// Merged returns a copy of n with p applied.
func (n NewsItem) Merged(p NewsPatch) NewsItem {
	n.AdditionalSources = append([]string(nil), n.AdditionalSources...)
	n.Apply(p)
	return n
}

// Item materialises the patch as a full item; absent fields are zero.
func (p NewsPatch) Item() NewsItem {
	item := NewsItem{ID: p.ID}
	item.Apply(p)
	return item
}

// PatchOf builds a patch carrying every non-zero field of item.
func PatchOf(item NewsItem) NewsPatch {
	p := NewsPatch{ID: item.ID}
	p.ReceivedDate = nonEmpty(item.ReceivedDate)
	p.Headline = nonEmpty(item.Headline)
	p.Summary = nonEmpty(item.Summary)
	p.CompanyName = nonEmpty(item.CompanyName)
	p.Ticker = nonEmpty(item.Ticker)
	p.Exchange = nonEmpty(item.Exchange)
	p.CountryCode = nonEmpty(item.CountryCode)
	p.Sentiment = nonEmpty(item.Sentiment)
	p.URL = nonEmpty(item.URL)
	p.CreatedAt = nonEmpty(item.CreatedAt)
	p.SourceHandle = nonEmpty(item.SourceHandle)
	if item.ImpactScore != 0 {
		v := item.ImpactScore
		p.ImpactScore = &v
	}
	if item.SourceCount != 0 {
		v := item.SourceCount
		p.SourceCount = &v
	}
	if len(item.AdditionalSources) > 0 {
		p.AdditionalSources = append([]string(nil), item.AdditionalSources...)
	}
	return p
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
