package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Cache", "Ingest", "insert sample")
	require.Error(t, err)
	assert.Equal(t, "Cache.Ingest: insert sample failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.NoError(t, Wrap(nil, "Cache", "Ingest", "insert sample"))
}

func TestClassifiedWrappersPreserveChain(t *testing.T) {
	base := ErrFetchTimeout

	err := WrapTransient(base, "Fetcher", "Fetch", "collect replies")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrFetchTimeout))
	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))

	err = WrapInvalid(ErrInvalidBound, "Engine", "Subscribe", "validate options")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))

	err = WrapFatal(stderrors.New("unrecoverable"), "Service", "Start", "bind")
	assert.True(t, IsFatal(err))
}

func TestIsTransientSentinels(t *testing.T) {
	for _, err := range []error{
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrNoConnection,
		ErrFetchTimeout,
		ErrQueueFull,
		context.DeadlineExceeded,
	} {
		assert.True(t, IsTransient(err), "expected %v to be transient", err)
	}

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrInvalidBound))
}

func TestIsTransientMessagePatterns(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(fmt.Errorf("service unavailable")))
	assert.False(t, IsTransient(fmt.Errorf("malformed payload")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(stderrors.New("x"), "C", "M", "a")))
}

func TestRetryConfigShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.True(t, rc.ShouldRetry(ErrConnectionTimeout, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionTimeout, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(ErrInvalidBound, 0))
	assert.False(t, rc.ShouldRetry(nil, 0))
}

func TestToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
	}
	cfg := rc.ToRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, time.Second, cfg.MaxDelay)
	assert.True(t, cfg.AddJitter)
}
