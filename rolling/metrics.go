package rolling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// appenderMetrics collects the appender's operational counters. Collectors
// are created through promauto so a nil registerer yields working but
// unregistered metrics, which keeps tests free of registry collisions.
type appenderMetrics struct {
	eventsAppended prometheus.Counter
	eventsDropped  prometheus.Counter
	rollovers      prometheus.Counter
	flushes        prometheus.Counter
	syncs          prometheus.Counter
	syncFailures   prometheus.Counter
	queueDepth     prometheus.Gauge
}

func newAppenderMetrics(reg prometheus.Registerer, baseName string) *appenderMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"base_name": baseName}
	return &appenderMetrics{
		eventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rollsink",
			Name:        "events_appended_total",
			Help:        "Log events accepted by the append path.",
			ConstLabels: labels,
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rollsink",
			Name:        "events_dropped_total",
			Help:        "Log events dropped because the sink append failed.",
			ConstLabels: labels,
		}),
		rollovers: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rollsink",
			Name:        "rollovers_total",
			Help:        "Log file rollovers triggered by the sink policy.",
			ConstLabels: labels,
		}),
		flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rollsink",
			Name:        "flushes_total",
			Help:        "Deadline-triggered flush and sync cycles.",
			ConstLabels: labels,
		}),
		syncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rollsink",
			Name:        "syncs_total",
			Help:        "Sync requests completed successfully.",
			ConstLabels: labels,
		}),
		syncFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rollsink",
			Name:        "sync_failures_total",
			Help:        "Sync requests discarded after a failure.",
			ConstLabels: labels,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rollsink",
			Name:        "sync_queue_depth",
			Help:        "Requests waiting in the sync queue.",
			ConstLabels: labels,
		}),
	}
}
