package feed

import (
	"context"
	"sync"

	"newsdesk/internal/domain"
)

// Shared multiplexes one feed connection across many subscribers. The first
// Subscribe starts the connection; closing the last subscription stops it.
type Shared struct {
	opts Options

	mu   sync.Mutex
	subs map[*Subscription]struct{}
	run  *sharedRun
}

type sharedRun struct {
	client *Client
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscription is one consumer of a Shared feed.
type Subscription struct {
	shared *Shared
	ch     chan []domain.Event
	err    error
}

// NewShared creates an idle shared feed.
func NewShared(opts Options) *Shared {
	return &Shared{
		opts: opts,
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a consumer with a channel buffer of buf batches.
// Batches that do not fit are dropped for that subscriber only.
func (s *Shared) Subscribe(buf int) *Subscription {
	if buf <= 0 {
		buf = 1
	}
	sub := &Subscription{shared: s, ch: make(chan []domain.Event, buf)}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs[sub] = struct{}{}
	subscribersGauge.Inc()
	if s.run == nil {
		s.start()
	}
	return sub
}

// Status reports the state of the underlying connection. Idle feeds report
// the zero Status.
func (s *Shared) Status() Status {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return Status{}
	}
	return run.client.Status()
}

// Subscribers returns the number of attached subscriptions.
func (s *Shared) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// start launches the physical connection. Caller holds s.mu.
func (s *Shared) start() {
	ctx, cancel := context.WithCancel(context.Background())
	run := &sharedRun{cancel: cancel, done: make(chan struct{})}
	run.client = NewClient(s.opts, s.fanout, nil)
	s.run = run

	go func() {
		defer close(run.done)
		err := run.client.Run(ctx)
		if err == nil {
			return
		}

		// The connection ended on its own; detach everyone so they can see
		// the error and resubscribe.
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.run != run {
			return
		}
		s.run = nil
		for sub := range s.subs {
			sub.err = err
			close(sub.ch)
			delete(s.subs, sub)
			subscribersGauge.Dec()
		}
	}()
}

// fanout delivers a batch to every subscriber without blocking.
func (s *Shared) fanout(batch []domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- batch:
		default:
			droppedBatchesTotal.Inc()
		}
	}
}

// Batches returns the channel of delivered batches. It is closed when the
// subscription is closed or the shared connection fails terminally.
func (sub *Subscription) Batches() <-chan []domain.Event { return sub.ch }

// Err returns the terminal connection error after Batches is closed by a
// failure, or nil.
func (sub *Subscription) Err() error {
	sub.shared.mu.Lock()
	defer sub.shared.mu.Unlock()
	return sub.err
}

// Close detaches the subscription. Closing the last subscription stops the
// connection and waits for it to shut down. Close is idempotent.
func (sub *Subscription) Close() {
	s := sub.shared
	s.mu.Lock()
	if _, ok := s.subs[sub]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
	subscribersGauge.Dec()

	var run *sharedRun
	if len(s.subs) == 0 {
		run = s.run
		s.run = nil
	}
	s.mu.Unlock()

	if run != nil {
		run.cancel()
		<-run.done
	}
}
