package live

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"newsdesk/internal/feed"
)

var (
	streamsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "newsdesk",
		Subsystem: "relay",
		Name:      "streams",
		Help:      "Open relay streams.",
	})
	batchesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsdesk",
		Subsystem: "relay",
		Name:      "batches_sent_total",
		Help:      "Batches sent to relay clients.",
	})
)

var _ FeedRelayServer = (*Server)(nil)

// Server implements the StreamBatches gRPC endpoint over a shared feed.
type Server struct {
	shared *feed.Shared
	buf    int
	log    *slog.Logger
}

// NewServer creates a relay backed by shared. buf is the per-stream batch
// buffer; a stream that falls further behind misses batches.
func NewServer(shared *feed.Shared, buf int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{shared: shared, buf: buf, log: log.With("component", "relay")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// StreamBatches subscribes the caller to the shared feed and forwards every
// batch until the client disconnects. When the upstream connection fails
// for good the stream ends with codes.Unavailable.
func (s *Server) StreamBatches(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	sub := s.shared.Subscribe(s.buf)
	defer sub.Close()

	streamsGauge.Inc()
	defer streamsGauge.Dec()
	s.log.Info("relay client subscribed", "subscribers", s.shared.Subscribers())

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("relay client disconnected")
			return nil
		case batch, ok := <-sub.Batches():
			if !ok {
				if err := sub.Err(); err != nil {
					return status.Errorf(codes.Unavailable, "upstream feed: %v", err)
				}
				return nil
			}
			data, err := feed.EncodeBatch(batch)
			if err != nil {
				return status.Errorf(codes.Internal, "encoding batch: %v", err)
			}
			if err := stream.Send(wrapperspb.Bytes(data)); err != nil {
				return err
			}
			batchesSentTotal.Inc()
		}
	}
}
