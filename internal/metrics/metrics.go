package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odrelay_submissions_total",
			Help: "Submissions accepted by the relay, by outcome",
		},
		[]string{"outcome"}, // live|queued|rejected|storage_error
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odrelay_probes_total",
			Help: "Health probes against the upstream, by result",
		},
		[]string{"result"}, // healthy|network_error|unhealthy
	)

	DrainedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odrelay_drained_records_total",
			Help: "Queued records replayed by the sync engine, by outcome",
		},
		[]string{"outcome"}, // success|failed
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "odrelay_queue_depth",
			Help: "Records currently waiting in the durable queue",
		},
	)

	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "odrelay_online",
			Help: "1 when the upstream is considered reachable, 0 otherwise",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		SubmissionsTotal,
		ProbesTotal,
		DrainedTotal,
		QueueDepth,
		Online,
	)
}
