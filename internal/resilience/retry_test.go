package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 4, LinearSeconds, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	fastBackoff := func(retry int) time.Duration { return time.Millisecond }
	err := Do(context.Background(), 4, fastBackoff, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	fastBackoff := func(retry int) time.Duration { return time.Millisecond }
	err := Do(context.Background(), 4, fastBackoff, func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, 4, LinearSeconds, func() error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	require.Error(t, err)
}

func TestLinearSecondsBackoffSchedule(t *testing.T) {
	assert.Equal(t, time.Second, LinearSeconds(1))
	assert.Equal(t, 2*time.Second, LinearSeconds(2))
	assert.Equal(t, 3*time.Second, LinearSeconds(3))
}
