package drivers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Execute(t *testing.T) {
	t.Run("succeeds first attempt", func(t *testing.T) {
		p := NewRetryPolicy()

		calls := 0
		err := p.Execute(context.Background(), func() error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after failures", func(t *testing.T) {
		p := NewRetryPolicy(WithInitialDelay(time.Millisecond), WithJitter(false))

		calls := 0
		err := p.Execute(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		p := NewRetryPolicy(WithMaxAttempts(2), WithInitialDelay(time.Millisecond), WithJitter(false))

		wantErr := errors.New("persistent")
		calls := 0
		err := p.Execute(context.Background(), func() error {
			calls++
			return wantErr
		})

		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 2, calls)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		p := NewRetryPolicy(WithInitialDelay(time.Minute))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := p.Execute(ctx, func() error {
			return errors.New("never succeeds")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := NewRetryPolicy(
		WithInitialDelay(100*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(false),
	)

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4), "capped at max delay")
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestRetryPolicy_DelayJitter(t *testing.T) {
	p := NewRetryPolicy(WithInitialDelay(100 * time.Millisecond))

	for i := 0; i < 20; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
