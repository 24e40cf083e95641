// Package metrics exposes relay Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "personarelay"

// Outcome labels for EventsTotal.
const (
	OutcomeReplied   = "replied"
	OutcomeApology   = "apology"
	OutcomeReset     = "reset"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomePanic     = "panic"
	OutcomeCanceled  = "canceled"
)

var (
	// EventsTotal counts handled inbound events by channel, kind and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound chat events by channel, kind and outcome",
		},
		[]string{"channel", "kind", "outcome"},
	)

	// UpstreamDuration observes latency of transcription, completion and synthesis calls.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream API calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	)

	// ReplyDelay observes the human-like delay actually waited before sending.
	ReplyDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_delay_seconds",
			Help:      "Delay applied before sending a reply",
			Buckets:   prometheus.LinearBuckets(0, 10, 10),
		},
	)

	// OutboundTotal counts messages sent by channel adapters.
	OutboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound messages by channel, kind and status",
		},
		[]string{"channel", "kind", "status"},
	)

	// TrackedUsers is the number of users with an in-memory history.
	TrackedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_users",
			Help:      "Users with an in-memory conversation history",
		},
	)

	// StoredTurns is the total number of stored history turns.
	StoredTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_turns",
			Help:      "Conversation turns held in memory across all users",
		},
	)

	// BusDropped counts messages dropped by the bus, by direction.
	BusDropped = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_dropped_messages",
			Help:      "Messages dropped because the bus buffer stayed full",
		},
		[]string{"direction"},
	)
)

func RecordEvent(channel, kind, outcome string) {
	EventsTotal.WithLabelValues(channel, kind, outcome).Inc()
}

// ObserveUpstream records one upstream call that started at start.
func ObserveUpstream(stage string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	UpstreamDuration.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}

func RecordOutbound(channel, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OutboundTotal.WithLabelValues(channel, kind, status).Inc()
}

func SetMemoryStats(users, turns int) {
	TrackedUsers.Set(float64(users))
	StoredTurns.Set(float64(turns))
}

func SetBusDropped(inbound, outbound uint64) {
	BusDropped.WithLabelValues("inbound").Set(float64(inbound))
	BusDropped.WithLabelValues("outbound").Set(float64(outbound))
}
