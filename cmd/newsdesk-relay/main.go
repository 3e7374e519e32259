// Command newsdesk-relay holds one realtime feed connection and relays it
// to local consumers over gRPC. Prometheus metrics and a health check are
// served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"newsdesk/internal/config"
	"newsdesk/internal/feed"
	"newsdesk/internal/live"
	"newsdesk/internal/tape"
	"newsdesk/internal/util"
)

func main() {
	record := flag.Bool("record", false, "keep the upstream connection open and record it to tape")
	configPath := flag.String("config", "", "config file (default $NEWSDESK_CONFIG, then config/newsdesk.yaml)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	opts, err := feed.OptionsFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("feed options: %v", err)
	}
	if opts.Token == "" {
		log.Fatal("no auth token configured (NEWSDESK_TOKEN or AUTH_TOKEN)")
	}
	shared := feed.NewShared(opts)

	lis, err := net.Listen("tcp", cfg.Relay.GRPCAddr)
	if err != nil {
		log.Fatalf("listening on %s: %v", cfg.Relay.GRPCAddr, err)
	}
	gs := grpc.NewServer()
	live.NewServer(shared, cfg.Relay.Buffer, logger).RegisterGRPC(gs)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		st := shared.Status()
		w.Header().Set("Content-Type", "application/json")
		if !st.Connected && shared.Subscribers() > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		errText := ""
		if st.Err != nil {
			errText = st.Err.Error()
		}
		writeHealth(w, st.Connected, shared.Subscribers(), st.Attempts, errText)
	})
	httpServer := &http.Server{Addr: cfg.Relay.MetricsAddr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("relay listening", "grpc", cfg.Relay.GRPCAddr)
		return gs.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("metrics listening", "addr", cfg.Relay.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		watchHealth(gctx, shared, hs)
		return nil
	})
	if *record {
		g.Go(func() error { return recordFeed(gctx, shared, cfg, logger) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down relay")
		gs.GracefulStop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("relay error: %v", err)
	}
}

// watchHealth mirrors the upstream connection state into the gRPC health
// service.
func watchHealth(ctx context.Context, shared *feed.Shared, hs *health.Server) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if shared.Subscribers() > 0 && !shared.Status().Connected {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus(live.ServiceName, status)
		}
	}
}

// recordFeed holds a subscription for the relay's lifetime and writes every
// batch to tape. A terminal upstream failure ends the relay.
func recordFeed(ctx context.Context, shared *feed.Shared, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recorder := tape.NewRecorder(cfg.Tape.Dir, logger)
	sub := shared.Subscribe(cfg.Relay.Buffer)
	defer sub.Close()

	flushDone := make(chan error, 1)
	go func() { flushDone <- recorder.Run(ctx, 10*time.Second) }()

	for {
		select {
		case <-ctx.Done():
			return <-flushDone
		case batch, ok := <-sub.Batches():
			if !ok {
				cancel()
				if err := <-flushDone; err != nil {
					logger.Error("final tape flush", "error", err)
				}
				return sub.Err()
			}
			recorder.Record(batch)
		}
	}
}
