package kestrel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agents/kestrel"
)

func fastRetry(attempts int) kestrel.RetryConfig {
	return kestrel.RetryConfig{
		MaxAttempts:     attempts,
		BaseDelay:       time.Microsecond,
		MaxDelay:        time.Millisecond,
		ExponentialBase: 2,
		JitterFactor:    0.2,
	}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := kestrel.Retry(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryBoundExactlyMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := kestrel.Retry(context.Background(), fastRetry(4), func(context.Context) (string, error) {
		calls++
		return "", kestrel.NewTransientError(boom)
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, boom)
}

func TestRetryRecoversMidway(t *testing.T) {
	calls := 0
	result, err := kestrel.Retry(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, kestrel.NewTransientError(errors.New("flaky"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentAbortsImmediately(t *testing.T) {
	fatal := errors.New("bad api key")
	calls := 0
	_, err := kestrel.Retry(context.Background(), fastRetry(5), func(context.Context) (string, error) {
		calls++
		return "", kestrel.NewPermanentError(fatal)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)
}

func TestRetryUnclassifiedErrorIsRetried(t *testing.T) {
	calls := 0
	_, err := kestrel.Retry(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		return "", errors.New("who knows")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := kestrel.Retry(ctx, fastRetry(10), func(context.Context) (string, error) {
		calls++
		cancel()
		return "", kestrel.NewTransientError(errors.New("flaky"))
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryDelayFormula(t *testing.T) {
	config := kestrel.RetryConfig{
		BaseDelay:       time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2,
		JitterFactor:    0.2,
	}

	// Pre-jitter delays: 1s, 2s, 4s, then capped at 5s. Jitter keeps each
	// within +/-20%.
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for retry, base := range expected {
		delay := config.Delay(retry + 1)
		assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.8), "retry %d", retry+1)
		assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.2), "retry %d", retry+1)
	}
}

func TestRetryDelayWithoutJitterIsExact(t *testing.T) {
	config := kestrel.RetryConfig{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2,
	}
	assert.Equal(t, 100*time.Millisecond, config.Delay(1))
	assert.Equal(t, 200*time.Millisecond, config.Delay(2))
	assert.Equal(t, 400*time.Millisecond, config.Delay(3))
	assert.Equal(t, 800*time.Millisecond, config.Delay(4))
	assert.Equal(t, time.Second, config.Delay(5))
}

func TestIsTransientClassification(t *testing.T) {
	assert.False(t, kestrel.IsTransient(nil))
	assert.True(t, kestrel.IsTransient(errors.New("plain")))
	assert.True(t, kestrel.IsTransient(kestrel.NewTransientError(errors.New("x"))))
	assert.False(t, kestrel.IsTransient(kestrel.NewPermanentError(errors.New("x"))))

	wrapped := errors.Join(errors.New("outer"), kestrel.NewPermanentError(errors.New("inner")))
	assert.False(t, kestrel.IsTransient(wrapped))
}
