// Command newsdesk-sim runs a local stand-in for the news backend: REST
// endpoints, the realtime WebSocket feed, and simulated scraper jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"newsdesk/internal/api"
	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/news"
	"newsdesk/internal/store"
	"newsdesk/internal/tape"
	"newsdesk/internal/util"
)

func main() {
	seed := flag.Bool("seed", false, "seed news from Alpaca and RSS sources before serving")
	seedWindow := flag.Duration("seed-window", 24*time.Hour, "how far back to seed news")
	replay := flag.String("replay", "", "replay the feed tape for this date (YYYY-MM-DD, or \"latest\")")
	speed := flag.Float64("speed", 1, "replay speed multiplier (0 = no delay)")
	trickle := flag.Duration("trickle", 0, "publish a synthetic insert or update at this interval (0 = off)")
	configPath := flag.String("config", "", "config file (default $NEWSDESK_CONFIG, then config/newsdesk.yaml)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if cfg.Sim.Token == "" {
		cfg.Sim.Token = cfg.API.Token
	}
	if cfg.Sim.Token == "" {
		logger.Warn("no token configured, REST and WebSocket endpoints are open")
	}

	st, err := store.NewSQLiteStore(cfg.Sim.SQLitePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	srv := api.NewServer(st, cfg.Sim, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *seed {
		seedNews(ctx, st, cfg, *seedWindow, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	if *replay != "" {
		g.Go(func() error {
			date := *replay
			if date == "latest" {
				dates, err := tape.Dates(cfg.Tape.Dir)
				if err != nil {
					return err
				}
				if len(dates) == 0 {
					return fmt.Errorf("no feed tapes in %s", cfg.Tape.Dir)
				}
				date = dates[len(dates)-1]
			}
			records, err := tape.Read(cfg.Tape.Dir, date)
			if err != nil {
				return err
			}
			logger.Info("replaying tape", "date", date, "records", len(records), "speed", *speed)
			err = tape.Replay(gctx, records, *speed, func(batch []domain.Event) {
				if err := srv.Publish(gctx, batch); err != nil {
					logger.Error("publishing replayed batch", "error", err)
				}
			})
			if err != nil && gctx.Err() == nil {
				return err
			}
			logger.Info("replay finished")
			return nil
		})
	}

	if *trickle > 0 {
		g.Go(func() error {
			runTrickle(gctx, srv, st, *trickle, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("simulator error: %v", err)
	}
}

// seedNews stores articles from the configured sources without
// broadcasting them.
func seedNews(ctx context.Context, st *store.SQLiteStore, cfg *config.Config, window time.Duration, logger *slog.Logger) {
	var sources []news.Source
	if cfg.Sim.Alpaca.APIKey != "" {
		sources = append(sources, news.NewAlpacaSource(cfg.Sim.Alpaca))
	}
	for _, u := range cfg.Sim.RSSURLs {
		sources = append(sources, news.NewFeedSource(u))
	}
	if len(sources) == 0 {
		logger.Warn("seed requested but no sources configured")
		return
	}

	now := time.Now()
	articles := news.Collect(ctx, sources, now.Add(-window), now, logger)
	stored := 0
	for _, a := range articles {
		id, err := st.NextNewsID(ctx)
		if err != nil {
			logger.Error("allocating news id", "error", err)
			return
		}
		if err := st.UpsertNews(ctx, news.ToItem(a, id, now)); err != nil {
			logger.Error("seeding news", "error", err)
			return
		}
		stored++
	}
	logger.Info("seeded news", "sources", len(sources), "articles", stored)
}
