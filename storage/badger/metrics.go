package badger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "transitstore"

type metrics struct {
	batches       prometheus.Counter
	tasks         prometheus.Counter
	resizes       prometheus.Counter
	queueDepth    prometheus.Gauge
	commitSeconds prometheus.Histogram
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
}

// newMetrics creates the engine metrics and registers them with reg when it
// is not nil. Engines sharing a registerer share the collectors.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "writer",
			Name:      "batches_total",
			Help:      "Number of committed write batches.",
		}),
		tasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "writer",
			Name:      "tasks_total",
			Help:      "Number of committed write tasks.",
		}),
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "writer",
			Name:      "resizes_total",
			Help:      "Number of capacity increases.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the write queue.",
		}),
		commitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "writer",
			Name:      "commit_seconds",
			Help:      "Time spent committing a batch, including resize retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Entity cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Entity cache misses.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.batches, err = register(reg, m.batches); err != nil {
		return nil, err
	}
	if m.tasks, err = register(reg, m.tasks); err != nil {
		return nil, err
	}
	if m.resizes, err = register(reg, m.resizes); err != nil {
		return nil, err
	}
	if m.queueDepth, err = register(reg, m.queueDepth); err != nil {
		return nil, err
	}
	if m.commitSeconds, err = register(reg, m.commitSeconds); err != nil {
		return nil, err
	}
	if m.cacheHits, err = register(reg, m.cacheHits); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = register(reg, m.cacheMisses); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
