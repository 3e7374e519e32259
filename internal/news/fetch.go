// Package news gathers articles from external sources (Alpaca market data
// news and RSS/Atom feeds) and turns them into news items for the backend
// simulator.
package news

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"newsdesk/internal/config"
)

// Article is a single news article from any source.
type Article struct {
	Time     time.Time
	Source   string
	Headline string
	Content  string
	URL      string
	Symbols  []string
}

// Source fetches articles published within [start, end].
type Source interface {
	Name() string
	Fetch(ctx context.Context, start, end time.Time) ([]Article, error)
}

// --- HTTP client ---

var httpClient = &http.Client{Timeout: 10 * time.Second}

// --- Alpaca ---

// AlpacaSource reads the Alpaca market data news endpoint.
type AlpacaSource struct {
	client  *marketdata.Client
	symbols []string
}

// NewAlpacaSource creates a source for symbols. An empty symbol list asks
// for news on all symbols.
func NewAlpacaSource(cfg config.Alpaca) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return &AlpacaSource{client: marketdata.NewClient(opts), symbols: cfg.Symbols}
}

// Name implements Source.
func (s *AlpacaSource) Name() string { return "alpaca" }

// Fetch implements Source. The marketdata client does not take a context;
// cancellation is checked before the call.
func (s *AlpacaSource) Fetch(ctx context.Context, start, end time.Time) ([]Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alpacaNews, err := s.client.GetNews(marketdata.GetNewsRequest{
		Symbols:            s.symbols,
		Start:              start,
		End:                end,
		TotalLimit:         50,
		IncludeContent:     true,
		ExcludeContentless: true,
		Sort:               marketdata.SortAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca news: %w", err)
	}

	articles := make([]Article, 0, len(alpacaNews))
	for _, a := range alpacaNews {
		body := a.Summary
		if body == "" && a.Content != "" {
			body = StripHTML(a.Content)
			if len(a.Symbols) > 0 {
				body = ExtractSymbolContent(a.Content, a.Symbols[0])
			}
		}
		articles = append(articles, Article{
			Time:     a.CreatedAt,
			Source:   "alpaca",
			Headline: a.Headline,
			Content:  body,
			URL:      a.URL,
			Symbols:  a.Symbols,
		})
	}
	return articles, nil
}

// --- RSS / Atom ---

// FeedSource reads one RSS or Atom feed.
type FeedSource struct {
	url    string
	parser *gofeed.Parser
}

// NewFeedSource creates a source for the feed at url.
func NewFeedSource(url string) *FeedSource {
	fp := gofeed.NewParser()
	fp.Client = httpClient
	fp.UserAgent = "newsdesk/1.0"
	return &FeedSource{url: url, parser: fp}
}

// Name implements Source.
func (s *FeedSource) Name() string { return s.url }

// Fetch implements Source. Items without a parseable date are skipped.
func (s *FeedSource) Fetch(ctx context.Context, start, end time.Time) ([]Article, error) {
	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", s.url, err)
	}

	handle := feed.Title
	if handle == "" {
		handle = "rss"
	}

	var articles []Article
	for _, item := range feed.Items {
		t := item.PublishedParsed
		if t == nil {
			t = item.UpdatedParsed
		}
		if t == nil || t.Before(start) || t.After(end) {
			continue
		}
		headline := item.Title
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		body := item.Description
		if body == "" {
			body = item.Content
		}
		articles = append(articles, Article{
			Time:     *t,
			Source:   handle,
			Headline: strings.TrimSpace(headline),
			Content:  StripHTML(body),
			URL:      item.Link,
			Symbols:  item.Categories,
		})
	}
	return articles, nil
}

// --- Collection ---

// Collect fetches every source concurrently and merges the results, oldest
// first, dropping repeated headlines. A failing source is logged and
// skipped.
func Collect(ctx context.Context, sources []Source, start, end time.Time, log *slog.Logger) []Article {
	if log == nil {
		log = slog.Default()
	}
	results := make([][]Article, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		g.Go(func() error {
			arts, err := src.Fetch(gctx, start, end)
			if err != nil {
				log.Warn("news source failed", "source", src.Name(), "error", err)
				return nil
			}
			results[i] = arts
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]bool)
	var all []Article
	for _, arts := range results {
		for _, a := range arts {
			key := strings.ToLower(strings.TrimSpace(a.Headline))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, a)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	return all
}

// --- HTML helpers ---

var stripPolicy = bluemonday.StrictPolicy()
var htmlParaRe = regexp.MustCompile(`(?i)</?(p|br|div|li|h[1-6])\b[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace.
func StripHTML(s string) string {
	// Block boundaries become spaces so adjacent paragraphs do not fuse.
	s = htmlParaRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// ExtractSymbolContent extracts paragraphs mentioning the symbol from HTML content.
// Falls back to full stripped HTML if no paragraphs mention the symbol.
func ExtractSymbolContent(rawHTML, symbol string) string {
	chunks := htmlParaRe.Split(rawHTML, -1)
	var matched []string
	upper := strings.ToUpper(symbol)
	for _, chunk := range chunks {
		plain := StripHTML(chunk)
		if plain == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(plain), upper) {
			matched = append(matched, plain)
		}
	}
	if len(matched) > 0 {
		return strings.Join(matched, " ")
	}
	return StripHTML(rawHTML)
}
