// Package feed implements the realtime news feed client: one WebSocket
// connection to the server event stream, buffered batch delivery, and
// bounded reconnection.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"newsdesk/internal/config"
	"newsdesk/internal/domain"
)

var (
	// ErrNoToken is returned by Run when no auth token is configured. No
	// connection is attempted.
	ErrNoToken = errors.New("feed: no auth token")
	// ErrGaveUp is returned by Run once the reconnection budget is spent.
	ErrGaveUp = errors.New("feed: reconnection attempts exhausted")
)

// BatchHandler receives every event buffered during one flush interval, in
// arrival order. The slice must be treated as read-only.
type BatchHandler func(batch []domain.Event)

// ItemHandler receives events one at a time. Used only when no BatchHandler
// is set.
type ItemHandler func(ev domain.Event)

// Status is the observable liveness of a Client.
type Status struct {
	Connected bool
	Err       error
	Attempts  int
}

// Options configures a Client. Zero durations and counts take the defaults
// from config.Default.
type Options struct {
	URL            string
	Token          string
	FlushInterval  time.Duration
	ReconnectDelay time.Duration
	MaxReconnects  int
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	Strict         bool
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
	OnStatus       func(Status)
}

// OptionsFromConfig builds client options from the feed and API sections.
// An empty feed URL is derived from the API base URL.
func OptionsFromConfig(cfg *config.Config, log *slog.Logger) (Options, error) {
	u := cfg.Feed.URL
	if u == "" {
		var err error
		u, err = URLFromAPI(cfg.API.BaseURL)
		if err != nil {
			return Options{}, err
		}
	}
	return Options{
		URL:            u,
		Token:          cfg.API.Token,
		FlushInterval:  cfg.Feed.FlushInterval,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		MaxReconnects:  cfg.Feed.MaxReconnects,
		PingInterval:   cfg.Feed.PingInterval,
		ReadTimeout:    cfg.Feed.ReadTimeout,
		Strict:         cfg.Feed.StrictEvents,
		Logger:         log,
	}, nil
}

// URLFromAPI derives the realtime endpoint from a REST base URL:
// http becomes ws, https becomes wss, and /api/v1/ws is appended.
func URLFromAPI(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing api url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// Client maintains the feed connection and delivers buffered batches. A
// Client is single-use: call Run once.
type Client struct {
	opts    Options
	log     *slog.Logger
	onBatch BatchHandler
	onItem  ItemHandler

	mu     sync.Mutex
	buf    []domain.Event
	status Status
}

// NewClient creates a client. Either handler may be nil.
func NewClient(opts Options, onBatch BatchHandler, onItem ItemHandler) *Client {
	def := config.Default().Feed
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = def.MaxReconnects
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		opts:    opts,
		log:     log.With("component", "feed"),
		onBatch: onBatch,
		onItem:  onItem,
	}
}

// Status returns a snapshot of the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run connects and streams until ctx is cancelled or the reconnection
// budget is spent. It returns nil on cancellation, ErrNoToken without a
// token, and an error wrapping ErrGaveUp after the last failed attempt.
// Handlers are never invoked after Run returns.
func (c *Client) Run(ctx context.Context) error {
	if c.opts.Token == "" {
		c.setStatus(Status{Err: ErrNoToken})
		c.log.Warn("no auth token, feed disabled")
		return ErrNoToken
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.flushLoop(runCtx)
	}()

	err := c.connectLoop(runCtx)
	cancel()
	wg.Wait()

	if err != nil {
		// Deliver what arrived before the last connection dropped.
		c.flush()
		return err
	}
	c.discard()
	return nil
}

// connectLoop dials, reads until the connection fails, and retries with a
// fixed delay. The attempt counter resets whenever a connection opens.
func (c *Client) connectLoop(ctx context.Context) error {
	attempts := 0
	for {
		opened, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setStatus(Status{Attempts: attempts})
			return nil
		}
		if opened {
			attempts = 0
		}

		if attempts >= c.opts.MaxReconnects {
			final := fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempts, err)
			c.setStatus(Status{Err: final, Attempts: attempts})
			c.log.Error("feed offline", "attempts", attempts, "error", err)
			return final
		}

		attempts++
		c.setStatus(Status{Err: err, Attempts: attempts})
		reconnectsTotal.Inc()
		c.log.Warn("feed connection lost, reconnecting",
			"attempt", attempts,
			"max", c.opts.MaxReconnects,
			"delay", c.opts.ReconnectDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			c.setStatus(Status{Attempts: attempts})
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session runs one connection. opened reports whether the handshake
// succeeded.
func (c *Client) session(ctx context.Context) (opened bool, err error) {
	target, err := c.dialURL()
	if err != nil {
		return false, err
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return false, fmt.Errorf("dialing feed: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dialing feed: %w", err)
	}

	c.setStatus(Status{Connected: true})
	connectedGauge.Set(1)
	c.log.Info("feed connected", "url", c.opts.URL)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(ctx, conn, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
		conn.Close()
		connectedGauge.Set(0)
	}()

	deadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	_ = deadline()
	conn.SetPongHandler(func(string) error { return deadline() })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("reading feed: %w", err)
		}
		_ = deadline()
		c.handle(data)
	}
}

// keepalive pings the server and closes the connection on cancellation so
// the blocked reader returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				c.log.Debug("ping failed", "error", err)
			}
		}
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parsing feed url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handle parses one frame and appends it to the buffer.
func (c *Client) handle(data []byte) {
	ev, err := Parse(data, c.opts.Strict)
	switch {
	case err == nil:
		messagesTotal.WithLabelValues("accepted").Inc()
	case errors.Is(err, ErrIgnored):
		messagesTotal.WithLabelValues("ignored").Inc()
		c.log.Debug("ignoring non-news frame", "bytes", len(data))
		return
	case errors.Is(err, ErrAmbiguous):
		messagesTotal.WithLabelValues("quarantined").Inc()
		c.log.Warn("quarantined frame without event type", "error", err)
		return
	default:
		messagesTotal.WithLabelValues("malformed").Inc()
		c.log.Warn("dropping malformed frame", "error", err)
		return
	}

	c.mu.Lock()
	c.buf = append(c.buf, ev)
	c.mu.Unlock()
}

func (c *Client) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// flush swaps the buffer out under the lock and delivers it.
func (c *Client) flush() {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	batchesTotal.Inc()
	batchSize.Observe(float64(len(batch)))

	if c.onBatch != nil {
		c.onBatch(batch)
		return
	}
	if c.onItem != nil {
		for _, ev := range batch {
			c.onItem(ev)
		}
	}
}

func (c *Client) discard() {
	c.mu.Lock()
	n := len(c.buf)
	c.buf = nil
	c.mu.Unlock()
	if n > 0 {
		c.log.Debug("discarded buffered events on shutdown", "count", n)
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}
