package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"newsdesk/internal/api"
	"newsdesk/internal/domain"
	"newsdesk/internal/news"
	"newsdesk/internal/store"
)

var companies = []struct{ name, ticker string }{
	{"Reliance Industries", "RELIANCE"},
	{"Tata Consultancy Services", "TCS"},
	{"Infosys", "INFY"},
	{"HDFC Bank", "HDFCBANK"},
	{"Bharti Airtel", "BHARTIARTL"},
	{"Larsen & Toubro", "LT"},
}

var templates = []string{
	"%s wins large order from state utility",
	"%s beats estimates as margins expand",
	"%s board to consider fund raise",
	"%s shares plunge after regulator probe",
	"%s announces record date for dividend",
	"%s misses revenue estimates",
}

var sentiments = []string{"POSITIVE", "NEGATIVE", "NEUTRAL"}

// runTrickle publishes a synthetic event every interval: mostly inserts,
// sometimes an update to a recent item.
func runTrickle(ctx context.Context, srv *api.Server, st *store.SQLiteStore, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("trickle started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if rand.IntN(4) == 0 {
			if err := updateRecent(ctx, srv, st); err == nil {
				continue
			}
		}

		c := companies[rand.IntN(len(companies))]
		headline := fmt.Sprintf(templates[rand.IntN(len(templates))], c.name)
		sentiment, impact := news.Score(headline)
		item, err := srv.Insert(ctx, domain.NewsItem{
			Headline:     headline,
			Summary:      "Synthetic story generated by the simulator.",
			CompanyName:  c.name,
			Ticker:       c.ticker,
			Exchange:     "NSE",
			CountryCode:  "IN",
			Sentiment:    sentiment,
			ImpactScore:  impact,
			SourceCount:  1,
			SourceHandle: "newsdesk-sim",
		})
		if err != nil {
			logger.Error("trickle insert", "error", err)
			continue
		}
		logger.Debug("trickle insert", "news_id", item.ID)
	}
}

// updateRecent changes the sentiment and source count of one of the newest
// items.
func updateRecent(ctx context.Context, srv *api.Server, st *store.SQLiteStore) error {
	page, err := st.ListNews(ctx, store.Query{Page: 1, PageSize: 10})
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		return store.ErrNotFound
	}
	target := page.Items[rand.IntN(len(page.Items))]
	sentiment := sentiments[rand.IntN(len(sentiments))]
	count := target.SourceCount + 1
	_, err = srv.Update(ctx, domain.NewsPatch{ID: target.ID, Sentiment: &sentiment, SourceCount: &count})
	return err
}
