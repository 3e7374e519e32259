// Command newsdesk-admin triggers scraper jobs, manages their schedules,
// and browses news and announcements from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"newsdesk/internal/admin"
	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/restapi"
	"newsdesk/internal/util"
	"newsdesk/internal/view"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: newsdesk-admin <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run <job> [-no-wait]                 Start a scraper job and follow its progress\n")
	fmt.Fprintf(os.Stderr, "  status <job>                         Show a job's current step\n")
	fmt.Fprintf(os.Stderr, "  schedule list <job>                  List recurring schedules\n")
	fmt.Fprintf(os.Stderr, "  schedule add <job> [-hours N | -at HH:MM [-days mon,fri]]\n")
	fmt.Fprintf(os.Stderr, "  schedule cancel <job> [id]           Cancel one schedule, or all of them\n")
	fmt.Fprintf(os.Stderr, "  news [-page N] [-size N] [-search q] List news, newest first\n")
	fmt.Fprintf(os.Stderr, "  announcements [-from D] [-to D] ...  List announcements\n")
	fmt.Fprintf(os.Stderr, "  attachment <id> [-o path]            Download an announcement attachment\n")
	fmt.Fprintf(os.Stderr, "\nJobs: ipo, bse, gmp\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Resolve("")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	client := restapi.FromConfig(cfg.API, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, client, cfg, args)
	case "status":
		err = cmdStatus(ctx, client, args)
	case "schedule":
		err = cmdSchedule(ctx, client, args)
	case "news":
		err = cmdNews(ctx, client, args)
	case "announcements":
		err = cmdAnnouncements(ctx, client, args)
	case "attachment":
		err = cmdAttachment(ctx, client, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func jobArg(args []string) (domain.JobType, []string, error) {
	if len(args) == 0 {
		return "", nil, errors.New("missing job (ipo, bse, gmp)")
	}
	job, err := domain.ParseJobType(args[0])
	return job, args[1:], err
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

func cmdRun(ctx context.Context, client *restapi.Client, cfg *config.Config, args []string) error {
	job, rest, err := jobArg(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	noWait := fs.Bool("no-wait", false, "trigger and return without polling")
	fs.Parse(rest)

	if *noWait {
		res, err := client.RunJob(ctx, job)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		return nil
	}

	runner := admin.NewRunner(client, cfg.Admin.PollInterval, cfg.Admin.PollTimeout, util.Discard())
	last := ""
	st, err := runner.RunAndWait(ctx, job, func(p admin.Progress) {
		if p.Label != last {
			fmt.Printf("[%5.1fs] %s\n", p.Elapsed.Seconds(), p.Label)
			last = p.Label
		}
	})
	if err != nil {
		return err
	}
	if st.Message != "" {
		fmt.Println(st.Message)
	}
	return nil
}

func cmdStatus(ctx context.Context, client *restapi.Client, args []string) error {
	job, _, err := jobArg(args)
	if err != nil {
		return err
	}
	st, err := client.JobStatus(ctx, job)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (%s)\n", job, st.CurrentStep, admin.StepLabel(st))
	if st.LastRun != "" {
		fmt.Printf("last run: %s\n", st.LastRun)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schedules
// ---------------------------------------------------------------------------

func cmdSchedule(ctx context.Context, client *restapi.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("schedule needs list, add or cancel")
	}
	planner := admin.NewPlanner(client)
	action, args := args[0], args[1:]
	job, rest, err := jobArg(args)
	if err != nil {
		return err
	}

	switch action {
	case "list":
		list, err := planner.List(ctx, job)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no schedules")
			return nil
		}
		for _, s := range list {
			next := "paused"
			if s.NextRunTime != nil {
				next = *s.NextRunTime
			}
			fmt.Printf("%-22s %-40s next: %s\n", s.ID, admin.DescribeTrigger(s.Trigger), next)
		}
		return nil

	case "add":
		fs := flag.NewFlagSet("schedule add", flag.ExitOnError)
		hours := fs.Int("hours", 0, "run every N hours")
		at := fs.String("at", "", "run daily at HH:MM")
		days := fs.String("days", "", "comma-separated weekdays for -at (mon..sun)")
		fs.Parse(rest)

		req := domain.ScheduleRequest{Type: job, ScheduleType: domain.ScheduleInterval, Hours: *hours}
		if *at != "" {
			req = domain.ScheduleRequest{Type: job, ScheduleType: domain.ScheduleCron, Time: *at}
			if *days != "" {
				req.Days = strings.Split(*days, ",")
			}
		}
		res, err := planner.Create(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", res.Message, res.JobID)
		return nil

	case "cancel":
		id := ""
		if len(rest) > 0 {
			id = rest[0]
		}
		n, err := planner.Cancel(ctx, job, id)
		if err != nil {
			return err
		}
		fmt.Printf("cancelled %d schedule(s)\n", n)
		return nil

	default:
		return fmt.Errorf("unknown schedule action %q", action)
	}
}

// ---------------------------------------------------------------------------
// Browsing
// ---------------------------------------------------------------------------

func cmdNews(ctx context.Context, client *restapi.Client, args []string) error {
	fs := flag.NewFlagSet("news", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 20, "page size")
	search := fs.String("search", "", "search text")
	fs.Parse(args)

	res, err := client.ListNews(ctx, restapi.NewsQuery{Page: *page, PageSize: *size, Search: *search})
	if err != nil {
		return err
	}
	for _, n := range res.Items {
		when, year := view.FormatReceived(n.ReceivedDate)
		fmt.Printf("%-8d %s %s  %-16s %s\n", n.ID, when, year, view.SentimentBadge(n.Sentiment, n.ImpactScore), view.Truncate(n.Headline, 80))
	}
	fmt.Printf("\n%s of %s items   pages: %s\n", view.FormatInt(len(res.Items)), view.FormatInt(res.Total), view.FormatPageNumbers(res.Page, res.Pages()))
	return nil
}

func cmdAnnouncements(ctx context.Context, client *restapi.Client, args []string) error {
	fs := flag.NewFlagSet("announcements", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 20, "page size")
	search := fs.String("search", "", "search text")
	from := fs.String("from", "", "first trade date (YYYY-MM-DD)")
	to := fs.String("to", "", "last trade date (YYYY-MM-DD)")
	fs.Parse(args)

	res, err := client.ListAnnouncements(ctx, restapi.AnnouncementQuery{
		Page: *page, PageSize: *size, Search: *search, FromDate: *from, ToDate: *to,
	})
	if err != nil {
		return err
	}
	for _, a := range res.Items {
		symbol := a.SymbolNSE
		if symbol == "" {
			symbol = a.SymbolBSE
		}
		fmt.Printf("%-12s %-10s %-12s %s\n", a.ID, a.TradeDate, symbol, view.Truncate(a.NewsHeadline, 70))
	}
	fmt.Printf("\n%s of %s announcements   pages: %s\n", view.FormatInt(len(res.Items)), view.FormatInt(res.Total), view.FormatPageNumbers(res.Page, res.Pages()))
	return nil
}

func cmdAttachment(ctx context.Context, client *restapi.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("missing announcement id")
	}
	id := args[0]
	fs := flag.NewFlagSet("attachment", flag.ExitOnError)
	out := fs.String("o", "", "output path (default: server filename)")
	fs.Parse(args[1:])

	att, err := client.GetAttachment(ctx, id)
	if errors.Is(err, restapi.ErrNotFound) {
		return fmt.Errorf("announcement %s has no attachment", id)
	}
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = filepath.Base(att.Filename)
	}
	if err := os.WriteFile(path, att.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%s bytes, %s)\n", path, view.FormatInt(len(att.Data)), att.ContentType)
	return nil
}

