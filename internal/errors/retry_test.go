package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return errors.New("locked")
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_ShouldRetryStopsEarly(t *testing.T) {
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, ErrSnapshotCorrupt) }

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return New(ErrCodeSnapshotCorrupt, "bad header", nil)
	})

	assert.True(t, errors.Is(err, ErrSnapshotCorrupt))
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("transient")
		}
		return "snapshot", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "snapshot", v)
}
