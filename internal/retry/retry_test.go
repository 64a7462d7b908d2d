package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalGrowsAndCaps(t *testing.T) {
	p := Policy{InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Interval(0))
	assert.Equal(t, 2*time.Second, p.Interval(1))
	assert.Equal(t, 8*time.Second, p.Interval(3))
	assert.Equal(t, 10*time.Second, p.Interval(4))
	assert.Equal(t, 10*time.Second, p.Interval(20))
}

func TestIntervalJitterStaysInBand(t *testing.T) {
	p := Policy{InitialInterval: time.Minute, MaxInterval: time.Hour, Multiplier: 2, Jitter: 0.2}

	for i := 0; i < 50; i++ {
		d := p.Interval(1)
		assert.GreaterOrEqual(t, d, 96*time.Second)
		assert.LessOrEqual(t, d, 144*time.Second)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 5}

	calls := 0
	err := Do(context.Background(), p, "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxRetries: 5}
	sentinel := errors.New("bad config")

	calls := 0
	err := Do(context.Background(), p, "permanent", func() error {
		calls++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	p := Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxRetries: 2}

	calls := 0
	err := Do(context.Background(), p, "down", func() error {
		calls++
		return errors.New("down")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
