package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/catchup/metric"
)

// bufferMetrics exposes buffer activity as Prometheus metrics.
type bufferMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	drops     prometheus.Counter
	overflows prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newBufferMetrics creates and registers buffer metrics under the given
// component name. Registration conflicts surface as errors.
func newBufferMetrics(registry *metric.Registry, component string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of buffer write operations",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of buffer read operations",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of items dropped due to overflow",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "catchup",
			Subsystem:   "buffer",
			Name:        "overflows_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of buffer overflow events",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "catchup",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Current number of items in buffer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "catchup",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Buffer fill level as a fraction (0.0 to 1.0)",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"buffer_writes":      m.writes,
		"buffer_reads":       m.reads,
		"buffer_drops":       m.drops,
		"buffer_overflows":   m.overflows,
		"buffer_size":        m.size,
		"buffer_utilization": m.utilization,
	}
	for name, c := range collectors {
		if err := registry.Register(component, name, c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// recordWrite increments the write counter and refreshes size gauges.
func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

// recordRead increments the read counter and refreshes size gauges.
func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

// recordDrop increments the overflow and drop counters.
func (m *bufferMetrics) recordDrop() {
	m.overflows.Inc()
	m.drops.Inc()
}

// updateSize sets the current buffer size and utilization gauges.
func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
