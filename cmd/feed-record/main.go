// Command feed-record connects to the realtime feed and records every
// event into daily Parquet tapes.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"newsdesk/internal/config"
	"newsdesk/internal/feed"
	"newsdesk/internal/tape"
	"newsdesk/internal/util"
)

func main() {
	dir := flag.String("dir", "", "tape directory (default from config)")
	flush := flag.Duration("flush", 10*time.Second, "how often buffered events are written")
	configPath := flag.String("config", "", "config file (default $NEWSDESK_CONFIG, then config/newsdesk.yaml)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *dir != "" {
		cfg.Tape.Dir = *dir
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	opts, err := feed.OptionsFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("feed options: %v", err)
	}

	recorder := tape.NewRecorder(cfg.Tape.Dir, logger)
	client := feed.NewClient(opts, recorder.Record, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("recording feed", "url", opts.URL, "dir", cfg.Tape.Dir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx, *flush) })
	if err := g.Wait(); err != nil {
		log.Fatalf("recorder error: %v", err)
	}
}
