package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inbox"

var (
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Inbound messages stored, by channel and source (webhook or sync)",
		},
		[]string{"channel", "source"},
	)

	DuplicatesAbsorbed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_total",
			Help:      "Inbound events skipped because the external id was already stored",
		},
		[]string{"channel"},
	)

	AdapterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "errors_total",
			Help:      "Vendor adapter failures by channel and operation (fetch or send)",
		},
		[]string{"channel", "operation"},
	)

	OutboundSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "sends_total",
			Help:      "Outbound sends by channel and result",
		},
		[]string{"channel", "result"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Scheduled messages processed by the dispatcher, by result",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "channel_duration_seconds",
			Help:      "Time spent fetching and ingesting one channel during sync",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"channel"},
	)
)
