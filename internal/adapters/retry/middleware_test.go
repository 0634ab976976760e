package retry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/pkg/errors"
)

func fast(retries int) *Middleware {
	return New(Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fast(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &StatusError{Code: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fast(3).Do(context.Background(), func() error {
		calls++
		return &StatusError{Code: http.StatusBadRequest, Body: "k must be positive"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	err := fast(2).Do(context.Background(), func() error {
		calls++
		return errors.New("connection reset by peer")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fast(1), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.Transient(errors.New("boom"), "poll")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCalculateDelay(t *testing.T) {
	m := New(Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Strategy: StrategyExponential, Multiplier: 2})
	assert.Equal(t, 100*time.Millisecond, m.calculateDelay(0))
	assert.Equal(t, 400*time.Millisecond, m.calculateDelay(2))
	assert.Equal(t, time.Second, m.calculateDelay(5))

	lin := New(Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Strategy: StrategyLinear})
	assert.Equal(t, 300*time.Millisecond, lin.calculateDelay(2))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(&StatusError{Code: http.StatusTooManyRequests}))
	assert.False(t, IsRetryable(&StatusError{Code: http.StatusNotFound}))
	assert.True(t, IsRetryable(errors.Wrap(errors.New("dial tcp: Connection Refused"), "submit")))
}
