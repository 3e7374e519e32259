package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"newsdesk/internal/feed"
)

// Client connects to a relay and mirrors its batches locally.
type Client struct {
	addr string
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewClient creates a client targeting the given gRPC address. Without
// options the connection uses insecure transport credentials.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	if log == nil {
		log = slog.Default()
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Client{addr: addr, opts: opts, log: log.With("component", "relay-client")}
}

// Sync connects to the relay and delivers each received batch to onBatch in
// order. Malformed entries are dropped and logged. It blocks until ctx is
// cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context, onBatch feed.BatchHandler) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := streamBatches(ctx, conn)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	c.log.Info("connected to feed relay", "addr", c.addr)

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving batch: %w", err)
		}

		events, bad, err := feed.DecodeBatch(msg.GetValue())
		if err != nil {
			c.log.Warn("dropping undecodable batch", "error", err)
			continue
		}
		if bad > 0 {
			c.log.Warn("dropped malformed relay events", "count", bad)
		}
		if len(events) > 0 && onBatch != nil {
			onBatch(events)
		}
	}
}
