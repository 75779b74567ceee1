package depopt

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the teacher's stats package convention of registering a
// handful of named counters per subsystem (stats/common_stats.go), scaled
// down to what a single-process control loop needs: counts of the major
// state transitions, useful for a host dev server's /metrics endpoint
// (SPEC_FULL.md 11).
type metrics struct {
	discoveries     prometheus.Counter
	rerunsStarted   prometheus.Counter
	rerunsCommitted prometheus.Counter
	rerunsCanceled  prometheus.Counter
	rerunsFailed    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depopt",
			Name:      "discoveries_total",
			Help:      "Missing imports registered as newly discovered dependencies.",
		}),
		rerunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depopt",
			Name:      "reruns_started_total",
			Help:      "Bundler runs started by the rerun executor.",
		}),
		rerunsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depopt",
			Name:      "reruns_committed_total",
			Help:      "Bundler runs whose result was committed to the metadata snapshot.",
		}),
		rerunsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depopt",
			Name:      "reruns_canceled_total",
			Help:      "Bundler runs discarded because new deps surfaced mid-run.",
		}),
		rerunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depopt",
			Name:      "reruns_failed_total",
			Help:      "Bundler or commit failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.discoveries, m.rerunsStarted, m.rerunsCommitted, m.rerunsCanceled, m.rerunsFailed)
	}
	return m
}
