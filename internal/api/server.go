// Package api implements a local stand-in for the news backend: the REST
// endpoints for news, announcements and admin processors, plus the realtime
// WebSocket feed. It is backed by the sqlite store.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"newsdesk/internal/admin"
	"newsdesk/internal/config"
	"newsdesk/internal/domain"
	"newsdesk/internal/store"
	"newsdesk/internal/view"
)

// Store is the persistence the server needs.
type Store interface {
	store.NewsStore
	store.AnnouncementStore
	store.ScheduleStore
	store.JobStore
}

var _ Store = (*store.SQLiteStore)(nil)

// Server is the simulated backend hosting REST and WebSocket endpoints.
type Server struct {
	cfg      config.Sim
	store    Store
	hub      *Hub
	jobs     *jobRunner
	sched    *scheduler
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time

	// base is the server lifetime context; background work started by
	// handlers derives from it.
	mu   sync.Mutex
	base context.Context
}

// NewServer creates a Server over st.
func NewServer(st Store, cfg config.Sim, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sim-api")
	jobs := newJobRunner(st, cfg.StepDelay, log)
	return &Server{
		cfg:      cfg,
		store:    st,
		hub:      NewHub(log),
		jobs:     jobs,
		sched:    newScheduler(st, jobs, view.IST(), log),
		validate: admin.NewValidator(),
		log:      log,
		now:      time.Now,
		base:     context.Background(),
	}
}

// Start runs the WebSocket hub and the schedule loop until ctx is
// cancelled. It returns immediately.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
	go s.hub.Run(ctx)
	go s.sched.run(ctx, 30*time.Second)
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int { return s.hub.Clients() }

// ListenAndServe starts the HTTP listener and blocks until the context is
// cancelled or a fatal error occurs, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Start(ctx)

	httpServer := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("simulator listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("shutdown error", "error", err)
	}
	s.jobs.wait()
	return nil
}

// ---------------------------------------------------------------------------
// Publishing
// ---------------------------------------------------------------------------

// Publish applies events to the store and broadcasts them to WebSocket
// clients in order. Inserts are stored as given; updates are merged into
// the stored item and broadcast with only the changed fields. An update
// for an unknown item is broadcast without being stored.
func (s *Server) Publish(ctx context.Context, batch []domain.Event) error {
	for _, ev := range batch {
		switch ev.Kind {
		case domain.Insert:
			if err := s.store.UpsertNews(ctx, ev.Patch.Item()); err != nil {
				return err
			}
		case domain.Update:
			if _, err := s.store.PatchNews(ctx, ev.Patch); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		frame, err := ev.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding news %d: %w", ev.ID(), err)
		}
		if err := s.hub.Broadcast(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// Insert assigns an id and receive time when missing, stores the item and
// broadcasts it.
func (s *Server) Insert(ctx context.Context, item domain.NewsItem) (domain.NewsItem, error) {
	if item.ID == 0 {
		id, err := s.store.NextNewsID(ctx)
		if err != nil {
			return item, err
		}
		item.ID = id
	}
	now := s.now().UTC().Format("2006-01-02T15:04:05")
	if item.ReceivedDate == "" {
		item.ReceivedDate = now
	}
	if item.CreatedAt == "" {
		item.CreatedAt = now
	}
	if err := s.Publish(ctx, []domain.Event{domain.NewInsert(item)}); err != nil {
		return item, err
	}
	return item, nil
}

// Update merges p into a stored item and broadcasts the patch.
func (s *Server) Update(ctx context.Context, p domain.NewsPatch) (domain.NewsItem, error) {
	item, err := s.store.PatchNews(ctx, p)
	if err != nil {
		return item, err
	}
	frame, err := domain.NewUpdate(p).MarshalJSON()
	if err != nil {
		return item, err
	}
	return item, s.hub.Broadcast(ctx, frame)
}
