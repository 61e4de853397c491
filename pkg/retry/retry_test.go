package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "mpharvest/pkg/errors"
)

func testConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return nil
	}, testConfig(3))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
		}
		return nil
	}, testConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeServerError, 500, "upstream down")
	}, testConfig(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retry attempts")

	var apiErr *errs.Error
	assert.True(t, errors.As(err, &apiErr), "wrapped error should survive")
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeAuth, 401, "bad credentials")
	}, testConfig(5))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := testConfig(5)
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(func() error {
			calls++
			return errs.New(errs.ErrorTypeNetwork, 0, "timeout")
		}, cfg)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := testConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(func() error {
		return errs.New(errs.ErrorTypeNetwork, 0, "flaky")
	}, cfg)

	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(func() (string, error) {
		calls++
		if calls < 2 {
			return "", errs.New(errs.ErrorTypeRateLimit, -1, "throttled")
		}
		return "ok", nil
	}, testConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"network error", errs.New(errs.ErrorTypeNetwork, 0, "reset"), true},
		{"rate limit", errs.New(errs.ErrorTypeRateLimit, -1, "throttled"), true},
		{"server error", errs.New(errs.ErrorTypeServerError, 50000, "boom"), true},
		{"auth error", errs.New(errs.ErrorTypeAuth, 401, "denied"), false},
		{"remote terminal", errs.New(errs.ErrorTypeRemote, 101, "deleted"), false},
		{"context cancelled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"plain error", errors.New("mystery"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryIf(tt.err))
		})
	}
}

func TestLinearBackoff_Schedule(t *testing.T) {
	lb := &LinearBackoff{BaseDelay: 2 * time.Second, Increment: 2 * time.Second}

	assert.Equal(t, time.Duration(0), lb.NextDelay(0))
	assert.Equal(t, 2*time.Second, lb.NextDelay(1))
	assert.Equal(t, 4*time.Second, lb.NextDelay(2))
	assert.Equal(t, 6*time.Second, lb.NextDelay(3))
}

func TestLinearBackoff_Cap(t *testing.T) {
	lb := &LinearBackoff{BaseDelay: time.Second, Increment: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, lb.NextDelay(10))
}

func TestExponentialBackoff_Growth(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	assert.Equal(t, time.Second, eb.NextDelay(1))
	assert.Equal(t, 2*time.Second, eb.NextDelay(2))
	assert.Equal(t, 4*time.Second, eb.NextDelay(3))
	assert.Equal(t, 10*time.Second, eb.NextDelay(6), "delay should be capped")
}
