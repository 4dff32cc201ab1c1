package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for EnvelopesConsumed.
const (
	OutcomeAcked        = "acked"
	OutcomeRequeued     = "requeued"
	OutcomeDropped      = "dropped"
	OutcomeDeadLettered = "dead_lettered"
)

// Result labels for PushAttempts.
const (
	PushDelivered = "delivered"
	PushOffline   = "offline"
	PushFailed    = "failed"
)

var (
	// Broker
	EnvelopesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_envelopes_published_total",
			Help: "Envelopes handed to the broker, by routing key and result",
		},
		[]string{"routing_key", "result"}, // "ok", "failed", "unavailable"
	)

	EnvelopesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_envelopes_consumed_total",
			Help: "Envelopes settled by the consumer, by routing key and outcome",
		},
		[]string{"routing_key", "outcome"},
	)

	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_broker_connected",
			Help: "1 while the consumer holds a live broker connection",
		},
	)

	BrokerConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_broker_connect_attempts_total",
			Help: "Broker connect attempts by result",
		},
		[]string{"result"},
	)

	// Dispatch
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_dispatch_duration_seconds",
			Help:    "Time from delivery to settlement of one envelope",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	NotificationsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_notifications_persisted_total",
			Help: "Notification rows written, by type and source",
		},
		[]string{"type", "source"}, // source: "router", "api"
	)

	// Push
	PushAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_push_attempts_total",
			Help: "Real-time push attempts by result",
		},
		[]string{"result"},
	)

	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_active_push_channels",
			Help: "Live push channels held by the connection registry",
		},
	)
)

// ObserveDispatch records the dispatch latency for one envelope.
func ObserveDispatch(notificationType string, start time.Time) {
	if notificationType == "" {
		notificationType = "unrecognized"
	}
	DispatchDuration.WithLabelValues(notificationType).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
