package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/catchup/errors"
)

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catchup_test_samples_total",
		Help: "test counter",
	})

	require.NoError(t, r.Register("engine", "samples_total", counter))

	// Same component.name pair is rejected.
	err := r.Register("engine", "samples_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("engine", "samples_total"))
	assert.False(t, r.Unregister("engine", "samples_total"))

	// Re-registration after unregister works.
	require.NoError(t, r.Register("engine", "samples_total", counter))
}

func TestRegisterPrometheusConflict(t *testing.T) {
	r := NewRegistry()
	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "catchup_conflict_total", Help: "h"})
	b := prometheus.NewCounter(prometheus.CounterOpts{Name: "catchup_conflict_total", Help: "h"})

	require.NoError(t, r.Register("one", "conflict", a))
	err := r.Register("two", "conflict", b)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catchup_handler_test_total",
		Help: "test counter",
	})
	require.NoError(t, r.Register("test", "handler", counter))
	counter.Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "catchup_handler_test_total 3")
}
