package jitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Duration(100*time.Millisecond, DefaultJitter)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestExponentialBackoff_Capped(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, ExponentialBackoff(10*time.Millisecond, time.Second, 0, 0))
	assert.Equal(t, 40*time.Millisecond, ExponentialBackoff(10*time.Millisecond, time.Second, 2, 0))
	assert.Equal(t, time.Second, ExponentialBackoff(10*time.Millisecond, time.Second, 20, 0))
}

func TestRetry(t *testing.T) {
	errTemporary := errors.New("temporary")
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		failures  int
		fatal     bool
		wantCalls int
		wantErr   error
	}{
		{name: "first attempt", failures: 0, wantCalls: 1},
		{name: "succeeds after retries", failures: 2, wantCalls: 3},
		{name: "exhausted", failures: 10, wantCalls: 3, wantErr: errTemporary},
		{name: "permanent stops immediately", failures: 10, fatal: true, wantCalls: 1, wantErr: errFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), 3, time.Millisecond, 2*time.Millisecond, func(context.Context) error {
				calls++
				if calls > tt.failures {
					return nil
				}
				if tt.fatal {
					return Permanent(errFatal)
				}
				return errTemporary
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 5, time.Second, time.Second, func(context.Context) error {
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
