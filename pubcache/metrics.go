package pubcache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/metric"
)

// cacheMetrics exposes cache activity as Prometheus metrics.
type cacheMetrics struct {
	keysGauge prometheus.Gauge
	ingested  prometheus.Counter
	evictions prometheus.Counter
	answers   prometheus.Counter
	truncated prometheus.Counter
}

func newCacheMetrics(registry *metric.Registry, component string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		keysGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "catchup",
			Subsystem:   "cache",
			Name:        "keys",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Number of distinct cached keys",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "cache",
			Name:        "samples_ingested_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total samples stored in the cache",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total samples evicted from full rings",
		}),
		answers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "cache",
			Name:        "fetches_answered_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total fetch requests answered",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "cache",
			Name:        "truncated_replies_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total key replays flagged truncated by eviction",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"cache_keys":              m.keysGauge,
		"cache_samples_ingested":  m.ingested,
		"cache_evictions":         m.evictions,
		"cache_fetches_answered":  m.answers,
		"cache_truncated_replies": m.truncated,
	}
	for name, c := range collectors {
		if err := registry.Register(component, name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *cacheMetrics) setKeys(n int) {
	m.keysGauge.Set(float64(n))
}

func (m *cacheMetrics) recordIngest() {
	m.ingested.Inc()
}

func (m *cacheMetrics) recordEviction() {
	m.evictions.Inc()
}

func (m *cacheMetrics) recordAnswer(entries []fetch.KeyReplay) {
	m.answers.Inc()
	for _, e := range entries {
		if e.Truncated {
			m.truncated.Inc()
		}
	}
}
