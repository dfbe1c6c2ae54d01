package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service collectors so tests can use a private registry
type Metrics struct {
	// ActivationsTotal counts activation attempts by result.
	ActivationsTotal *prometheus.CounterVec
	// RevocationsTotal counts per-member revocation attempts by result.
	RevocationsTotal *prometheus.CounterVec
	// SweepDuration tracks sweep latency.
	SweepDuration prometheus.Histogram
	// SubscribersByStatus is refreshed after every persisted mutation.
	SubscribersByStatus *prometheus.GaugeVec
	// WebhookRequestsTotal counts payment webhooks by outcome.
	WebhookRequestsTotal *prometheus.CounterVec
	// NotificationsTotal counts outbound direct messages by kind and result.
	NotificationsTotal *prometheus.CounterVec
	// ExternalCallDuration tracks chat platform and gateway latency.
	ExternalCallDuration *prometheus.HistogramVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActivationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channel_gate",
			Name:      "activations_total",
			Help:      "Subscription activations by result.",
		}, []string{"result"}),
		RevocationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channel_gate",
			Name:      "revocations_total",
			Help:      "Membership revocations by result.",
		}, []string{"result"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "channel_gate",
			Name:      "sweep_duration_seconds",
			Help:      "Expiry sweep duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		SubscribersByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "channel_gate",
			Name:      "subscribers",
			Help:      "Stored subscriber records by status.",
		}, []string{"status"}),
		WebhookRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channel_gate",
			Name:      "webhook_requests_total",
			Help:      "Payment webhooks by outcome.",
		}, []string{"outcome"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channel_gate",
			Name:      "notifications_total",
			Help:      "Direct messages by kind and result.",
		}, []string{"kind", "result"}),
		ExternalCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "channel_gate",
			Name:      "external_call_duration_seconds",
			Help:      "Outbound call latency by target and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "operation"}),
	}
}

// NewNop returns collectors bound to a throwaway registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Result maps an error to a label value
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
