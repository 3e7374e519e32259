// Command newsdesk-watch is a terminal news list that stays current with
// the realtime feed. Type commands on stdin; "h" lists them.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/feed"
	"newsdesk/internal/live"
	"newsdesk/internal/reconcile"
	"newsdesk/internal/restapi"
	"newsdesk/internal/util"
	"newsdesk/internal/view"
)

const helpText = `commands:
  n / p          next / previous page
  g <n>          go to page n
  size <n>       set page size
  s <text>       search (empty clears)
  scroll <px>    set scroll offset
  j              jump to most recent
  d              dismiss the new-updates notice
  r              reload the current page
  q              quit`

func main() {
	relay := flag.String("relay", "", "read the feed from a newsdesk-relay gRPC address instead of the WebSocket")
	width := flag.Int("width", 100, "terminal width for headlines")
	configPath := flag.String("config", "", "config file (default $NEWSDESK_CONFIG, then config/newsdesk.yaml)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// The terminal is the UI; logs go to a file.
	logFileName := fmt.Sprintf("/tmp/newsdesk-watch-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()
	logger := util.NewLoggerTo(logFile, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := &watcher{
		api:    restapi.FromConfig(cfg.API, logger),
		rec:    reconcile.New(cfg.View.PageSize, cfg.View.ScrollThreshold),
		cfg:    cfg.View,
		width:  *width,
		out:    os.Stdout,
		log:    logger,
		status: "connecting",
	}

	w.load(ctx, w.rec.BeginLoad())
	go w.stream(ctx, cfg, *relay)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !w.command(ctx, line) {
				return
			}
		}
	}
}

type watcher struct {
	api   *restapi.Client
	rec   *reconcile.Reconciler
	cfg   config.View
	width int
	out   io.Writer
	log   *slog.Logger

	mu     sync.Mutex
	status string
}

// stream feeds batches into the reconciler until ctx ends.
func (w *watcher) stream(ctx context.Context, cfg *config.Config, relayAddr string) {
	onBatch := func(batch []domain.Event) {
		res := w.rec.ApplyBatch(batch)
		w.rec.SweepVisible(w.cfg.RowHeight, w.cfg.ViewportHeight)
		w.log.Debug("batch applied", "inserted", res.Inserted, "held", res.Held, "updated", res.Updated, "counted", res.Counted)
		w.render()
	}

	if relayAddr != "" {
		w.setStatus("relay " + relayAddr)
		if err := live.NewClient(relayAddr, w.log).Sync(ctx, onBatch); err != nil {
			w.setStatus("relay error: " + err.Error())
		}
		return
	}

	opts, err := feed.OptionsFromConfig(cfg, w.log)
	if err != nil {
		w.setStatus(err.Error())
		return
	}
	opts.OnStatus = func(st feed.Status) {
		switch {
		case st.Connected:
			w.setStatus("live")
		case st.Err != nil:
			w.setStatus(fmt.Sprintf("reconnecting (%d): %v", st.Attempts, st.Err))
		default:
			w.setStatus("connecting")
		}
	}
	if err := feed.NewClient(opts, onBatch, nil).Run(ctx); err != nil {
		w.setStatus("offline: " + err.Error())
	}
}

func (w *watcher) setStatus(s string) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
	w.render()
}

// load fetches a page in the background. Stale responses are discarded by
// the reconciler.
func (w *watcher) load(ctx context.Context, req reconcile.Request) {
	w.render()
	go func() {
		page, err := w.api.ListNews(ctx, restapi.NewsQuery{Page: req.Page, PageSize: req.PageSize, Search: req.Search})
		if err != nil {
			w.log.Warn("loading news", "page", req.Page, "error", err)
			w.rec.FailLoad(req, err)
		} else {
			w.rec.CompleteLoad(req, page)
			w.rec.SweepVisible(w.cfg.RowHeight, w.cfg.ViewportHeight)
		}
		w.render()
	}()
}

// command handles one input line. It returns false to quit.
func (w *watcher) command(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	v := w.rec.Snapshot()

	switch cmd {
	case "q", "quit":
		return false
	case "n":
		if v.Page < v.TotalPages {
			w.load(ctx, w.rec.SetPage(v.Page+1))
		}
	case "p":
		if v.Page > 1 {
			w.load(ctx, w.rec.SetPage(v.Page-1))
		}
	case "g":
		if n, err := strconv.Atoi(arg); err == nil {
			w.load(ctx, w.rec.SetPage(n))
		}
	case "size":
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			w.load(ctx, w.rec.SetPageSize(n))
		}
	case "s":
		w.load(ctx, w.rec.SetSearch(arg))
	case "scroll":
		if px, err := strconv.Atoi(arg); err == nil {
			w.rec.Scroll(px)
			w.rec.SweepVisible(w.cfg.RowHeight, w.cfg.ViewportHeight)
			w.render()
		}
	case "j":
		if req, ok := w.rec.JumpToRecent(); ok {
			w.load(ctx, req)
		} else {
			w.render()
		}
	case "d":
		w.rec.Dismiss()
		w.render()
	case "r":
		w.load(ctx, w.rec.BeginLoad())
	case "h", "help", "?":
		fmt.Fprintln(w.out, helpText)
	case "":
		w.render()
	default:
		fmt.Fprintf(w.out, "unknown command %q (h for help)\n", cmd)
	}
	return true
}

// render redraws the whole screen.
func (w *watcher) render() {
	v := w.rec.Snapshot()

	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	fmt.Fprintf(&b, "newsdesk  [%s]  page %d/%d  total %s", w.status, v.Page, v.TotalPages, view.FormatInt(v.Total))
	if v.Search != "" {
		fmt.Fprintf(&b, "  search %q", v.Search)
	}
	if v.Loading {
		b.WriteString("  loading...")
	}
	b.WriteString("\n")
	if v.Err != nil {
		fmt.Fprintf(&b, "! %v\n", v.Err)
	}
	if v.ShowNotice {
		fmt.Fprintf(&b, ">> %s (j to view, d to dismiss)\n", view.AffordanceLabel(v.Unseen))
	}
	b.WriteString(strings.Repeat("-", w.width) + "\n")

	unseen := make(map[int64]bool)
	for _, id := range w.rec.ObserveTargets() {
		unseen[id] = true
	}
	firstRow := v.ScrollTop / max(w.cfg.RowHeight, 1)
	for i, n := range v.Items {
		marker := " "
		switch {
		case i == firstRow:
			marker = ">"
		case unseen[n.ID]:
			marker = "*"
		}
		when, year := view.FormatReceived(n.ReceivedDate)
		fmt.Fprintf(&b, "%s %s %s  %s\n", marker, when, year, view.SentimentBadge(n.Sentiment, n.ImpactScore))
		ticker := ""
		if n.Ticker != "" {
			ticker = "[" + n.Ticker + "] "
		}
		fmt.Fprintf(&b, "  %s%s\n", ticker, view.Truncate(n.Headline, w.width-len(ticker)-2))
		if n.Summary != "" {
			summary := view.Truncate(n.Summary, w.width-2)
			if view.NeedsExpansion(n.Summary, w.width-2, 1) {
				summary += "  (more)"
			}
			fmt.Fprintf(&b, "  %s\n", summary)
		}
	}
	if len(v.Items) == 0 && !v.Loading {
		b.WriteString("  no news\n")
	}
	b.WriteString(strings.Repeat("-", w.width) + "\n")
	fmt.Fprintf(&b, "pages: %s   (h for help)\n", view.FormatPageNumbers(v.Page, v.TotalPages))

	io.WriteString(w.out, b.String())
}
