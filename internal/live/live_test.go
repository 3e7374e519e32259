package live

import (
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"newsdesk/internal/api"
	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/feed"
	"newsdesk/internal/store"
	"newsdesk/internal/util"
)

func TestRelayForwardsBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Upstream: the backend simulator.
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sim.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()
	sim := api.NewServer(st, config.Sim{Token: "secret"}, util.Discard())
	sim.Start(ctx)
	hs := httptest.NewServer(sim.Handler())
	defer hs.Close()

	wsURL, err := feed.URLFromAPI(hs.URL)
	if err != nil {
		t.Fatalf("URLFromAPI: %v", err)
	}
	shared := feed.NewShared(feed.Options{
		URL:           wsURL,
		Token:         "secret",
		FlushInterval: 10 * time.Millisecond,
		Strict:        true,
		Logger:        util.Discard(),
	})

	// Relay over an in-memory listener.
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewServer(shared, 16, util.Discard()).RegisterGRPC(gs)
	go gs.Serve(lis)
	defer gs.Stop()

	client := NewClient("passthrough:///bufnet", util.Discard(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	var mu sync.Mutex
	var got []domain.Event
	syncCtx, stopSync := context.WithCancel(ctx)
	syncDone := make(chan error, 1)
	go func() {
		syncDone <- client.Sync(syncCtx, func(batch []domain.Event) {
			mu.Lock()
			got = append(got, batch...)
			mu.Unlock()
		})
	}()

	waitFor(t, func() bool { return sim.Clients() == 1 && shared.Subscribers() == 1 })

	if _, err := sim.Insert(ctx, domain.NewsItem{ID: 7, Headline: "Acme lists on NSE"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	sentiment := "POSITIVE"
	if _, err := sim.Update(ctx, domain.NewsPatch{ID: 7, Sentiment: &sentiment}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	})
	mu.Lock()
	if got[0].Kind != domain.Insert || got[0].ID() != 7 {
		t.Errorf("first event = %+v, want insert of 7", got[0])
	}
	if got[1].Kind != domain.Update || got[1].Patch.Sentiment == nil || *got[1].Patch.Sentiment != "POSITIVE" {
		t.Errorf("second event = %+v, want sentiment update", got[1])
	}
	mu.Unlock()

	stopSync()
	select {
	case err := <-syncDone:
		if err != nil {
			t.Errorf("Sync() = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
	waitFor(t, func() bool { return shared.Subscribers() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
