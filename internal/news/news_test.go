package news

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"newsdesk/internal/util"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Market Wire</title>
  <item>
    <title>Acme beats estimates - Market Wire</title>
    <link>https://example.com/acme</link>
    <category>ACME</category>
    <description>&lt;p&gt;Acme &lt;b&gt;posted&lt;/b&gt; a record quarter.&lt;/p&gt;&lt;p&gt;Shares rose.&lt;/p&gt;</description>
    <pubDate>Sat, 15 Jun 2024 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Old story</title>
    <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Undated story</title>
  </item>
</channel>
</rss>`

func TestFeedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	arts, err := NewFeedSource(srv.URL).Fetch(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("articles = %d, want 1", len(arts))
	}
	a := arts[0]
	if a.Headline != "Acme beats estimates" {
		t.Errorf("Headline = %q", a.Headline)
	}
	if a.Content != "Acme posted a record quarter. Shares rose." {
		t.Errorf("Content = %q", a.Content)
	}
	if a.Source != "Market Wire" || a.URL != "https://example.com/acme" {
		t.Errorf("article = %+v", a)
	}
	if len(a.Symbols) != 1 || a.Symbols[0] != "ACME" {
		t.Errorf("Symbols = %v", a.Symbols)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>Hello</p><p>world</p>", "Hello world"},
		{"a &amp; b", "a & b"},
		{"<script>alert(1)</script>text", "text"},
		{"  spaced\n\tout  ", "spaced out"},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractSymbolContent(t *testing.T) {
	raw := "<p>Markets were mixed.</p><p>ACME rose 5%.</p><p>Bonds fell.</p>"
	if got := ExtractSymbolContent(raw, "acme"); got != "ACME rose 5%." {
		t.Errorf("ExtractSymbolContent() = %q", got)
	}
	if got := ExtractSymbolContent(raw, "ZZZ"); got != "Markets were mixed. ACME rose 5%. Bonds fell." {
		t.Errorf("fallback = %q", got)
	}
}

type fakeSource struct {
	name string
	arts []Article
	err  error
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Fetch(ctx context.Context, start, end time.Time) ([]Article, error) {
	return f.arts, f.err
}

func TestCollect(t *testing.T) {
	t0 := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	sources := []Source{
		fakeSource{name: "a", arts: []Article{
			{Time: t0.Add(time.Hour), Headline: "Second"},
			{Time: t0, Headline: "First"},
		}},
		fakeSource{name: "b", err: errors.New("down")},
		fakeSource{name: "c", arts: []Article{
			{Time: t0.Add(2 * time.Hour), Headline: "first "},
			{Time: t0.Add(3 * time.Hour), Headline: "Third"},
		}},
	}

	got := Collect(context.Background(), sources, t0, t0.Add(24*time.Hour), util.Discard())
	want := []string{"First", "Second", "Third"}
	if len(got) != len(want) {
		t.Fatalf("Collect() = %d articles, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Headline != w {
			t.Errorf("article %d = %q, want %q", i, got[i].Headline, w)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		headline  string
		sentiment string
		impact    float64
	}{
		{"Acme beats estimates, record profit", "POSITIVE", 9},
		{"Globex shares plunge after probe", "NEGATIVE", 6},
		{"Initech holds AGM", "NEUTRAL", 0},
		{"Profit cuts loom", "NEUTRAL", 6},
	}
	for _, tt := range tests {
		s, i := Score(tt.headline)
		if s != tt.sentiment || i != tt.impact {
			t.Errorf("Score(%q) = %s, %v, want %s, %v", tt.headline, s, i, tt.sentiment, tt.impact)
		}
	}
}

func TestToItem(t *testing.T) {
	a := Article{
		Time:     time.Date(2024, 6, 15, 15, 30, 0, 0, time.FixedZone("IST", 5*3600+1800)),
		Source:   "alpaca",
		Headline: "Acme wins contract",
		Content:  "Details",
		URL:      "https://example.com",
		Symbols:  []string{"acme"},
	}
	item := ToItem(a, 7, time.Date(2024, 6, 15, 10, 1, 0, 0, time.UTC))
	if item.ID != 7 || item.ReceivedDate != "2024-06-15T10:00:00" {
		t.Errorf("item = %+v", item)
	}
	if item.Ticker != "ACME" || item.Sentiment != "POSITIVE" || item.SourceHandle != "alpaca" {
		t.Errorf("item = %+v", item)
	}
	if item.CreatedAt != "2024-06-15T10:01:00" || item.SourceCount != 1 {
		t.Errorf("item = %+v", item)
	}
}
