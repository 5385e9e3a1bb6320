package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying with a fast config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 5 * time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FixedConfigMakesExactAttempts(t *testing.T) {
	// Given: a fixed config of 4 attempts
	cfg := FixedRetryConfig(4, time.Millisecond)
	attempts := 0
	var retried []int
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	// When: the function always fails
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("collection create failed")
	})

	// Then: exactly 4 calls were made and 3 waits reported
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3}, retried)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("bad mapping")

	err := Retry(context.Background(), FixedRetryConfig(5, time.Millisecond), func() error {
		attempts++
		return Permanent(sentinel)
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, sentinel, err)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Retry(ctx, FixedRetryConfig(10, time.Hour), func() error {
		attempts++
		cancel()
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_CapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   10,
	}

	start := time.Now()
	_ = Retry(context.Background(), cfg, func() error { return errors.New("down") })

	// 2ms + 4ms + 4ms, far below an uncapped 2+20+200ms
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), FixedRetryConfig(3, time.Millisecond), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("warming up")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRetryWithResult_ReturnsZeroOnFailure(t *testing.T) {
	v, err := RetryWithResult(context.Background(), FixedRetryConfig(2, time.Millisecond), func() (string, error) {
		return "partial", errors.New("down")
	})

	require.Error(t, err)
	assert.Empty(t, v)
}

func TestFixedRetryConfig_ClampsAttempts(t *testing.T) {
	cfg := FixedRetryConfig(0, time.Second)

	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 1.0, cfg.Multiplier)
}
