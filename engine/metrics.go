package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/catchup/metric"
)

// engineMetrics exposes merge engine activity as Prometheus metrics.
type engineMetrics struct {
	subscriptions  prometheus.Gauge
	samples        prometheus.Counter
	staleDrops     prometheus.Counter
	windowOverflow prometheus.Counter
	fetches        prometheus.Counter
	degraded       prometheus.Counter
	sourceErrors   prometheus.Counter
}

func newEngineMetrics(registry *metric.Registry) (*engineMetrics, error) {
	m := &engineMetrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "subscriptions",
			Help:      "Currently open catch-up subscriptions",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "samples_delivered_total",
			Help:      "Total samples handed to consumers",
		}),
		staleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "stale_drops_total",
			Help:      "Live samples dropped as already delivered",
		}),
		windowOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "window_overflows_total",
			Help:      "Merge windows drained early because they hit capacity",
		}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "fetch_generations_total",
			Help:      "Fetch generations started, including refreshes",
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "degraded_drains_total",
			Help:      "Fetch generations that drained after timeout or cancel",
		}),
		sourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catchup",
			Subsystem: "engine",
			Name:      "source_errors_total",
			Help:      "Fetch source failures, non-fatal to the subscription",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"engine_subscriptions":     m.subscriptions,
		"engine_samples_delivered": m.samples,
		"engine_stale_drops":       m.staleDrops,
		"engine_window_overflows":  m.windowOverflow,
		"engine_fetch_generations": m.fetches,
		"engine_degraded_drains":   m.degraded,
		"engine_source_errors":     m.sourceErrors,
	}
	for name, c := range collectors {
		if err := registry.Register("engine", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *engineMetrics) subscriptionOpened() { m.subscriptions.Inc() }
func (m *engineMetrics) subscriptionClosed() { m.subscriptions.Dec() }
func (m *engineMetrics) delivered()          { m.samples.Inc() }
func (m *engineMetrics) staleDrop()          { m.staleDrops.Inc() }
func (m *engineMetrics) windowOverflowed()   { m.windowOverflow.Inc() }
func (m *engineMetrics) fetchStarted()       { m.fetches.Inc() }
func (m *engineMetrics) degradedDrain()      { m.degraded.Inc() }
func (m *engineMetrics) sourceError()        { m.sourceErrors.Inc() }
