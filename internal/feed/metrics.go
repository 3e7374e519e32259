package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Inbound feed frames by parse result.",
	}, []string{"result"})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "batches_total",
		Help:      "Batches delivered to handlers.",
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "batch_size",
		Help:      "Events per delivered batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Reconnection attempts scheduled after a connection failure.",
	})

	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "connected",
		Help:      "1 while a feed connection is open.",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "shared_subscribers",
		Help:      "Subscribers attached to the shared feed connection.",
	})

	droppedBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsdesk",
		Subsystem: "feed",
		Name:      "dropped_batches_total",
		Help:      "Batches dropped because a subscriber buffer was full.",
	})
)
