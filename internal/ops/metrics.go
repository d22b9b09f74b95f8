package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the pipeline's prometheus instruments. Register once and
// share; all instruments are safe for concurrent use.
type Metrics struct {
	PollCycles     prometheus.Counter
	PollOverruns   prometheus.Counter
	ServiceChecks  *prometheus.CounterVec // labels: service, outcome
	UpdatesFound   prometheus.Counter
	Sends          *prometheus.CounterVec // labels: transport, result
	EditFallbacks  prometheus.Counter
	WebhookProbes  *prometheus.CounterVec // labels: result
	DispatchReport prometheus.Histogram   // seconds per dispatched update
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_poll_cycles_total",
			Help: "Completed poll loop iterations.",
		}),
		PollOverruns: f.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_poll_overruns_total",
			Help: "Iterations aborted by the per-cycle deadline.",
		}),
		ServiceChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_service_checks_total",
			Help: "Per-service feed checks by outcome.",
		}, []string{"service", "outcome"}),
		UpdatesFound: f.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_updates_found_total",
			Help: "Genuinely new updates constructed.",
		}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_sends_total",
			Help: "Destination sends by transport and result.",
		}, []string{"transport", "result"}),
		EditFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_edit_fallbacks_total",
			Help: "Edit-mode sends that fell back to a new message.",
		}),
		WebhookProbes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_webhook_probes_total",
			Help: "Webhook capability probes by result.",
		}, []string{"result"}),
		DispatchReport: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "statuswatch_dispatch_seconds",
			Help:    "Wall time to fan one update out to all destinations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
