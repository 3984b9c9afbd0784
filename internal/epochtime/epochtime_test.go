package epochtime

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-04 00:00:00 UTC, a unix week boundary
const testStart uint64 = 1704326400

func newTestClock(t *testing.T, now uint64) (*Clock, *clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(Time(now))
	c, err := NewClock(testStart, Week, fake)
	require.NoError(t, err)
	return c, fake
}

func TestNewClock_ZeroLength(t *testing.T) {
	_, err := NewClock(testStart, 0, nil)
	assert.ErrorIs(t, err, ErrZeroEpochLength)
}

func TestClock_EpochOf(t *testing.T) {
	c, _ := newTestClock(t, testStart)

	t.Run("start of first epoch", func(t *testing.T) {
		e, err := c.EpochOf(testStart)
		require.NoError(t, err)
		assert.Equal(t, Epoch(0), e)
	})

	t.Run("last second of first epoch", func(t *testing.T) {
		e, err := c.EpochOf(testStart + Week - 1)
		require.NoError(t, err)
		assert.Equal(t, Epoch(0), e)
	})

	t.Run("arbitrary epoch", func(t *testing.T) {
		e, err := c.EpochOf(testStart + 100*Week + 3600)
		require.NoError(t, err)
		assert.Equal(t, Epoch(100), e)
	})

	t.Run("before start", func(t *testing.T) {
		_, err := c.EpochOf(testStart - 1)
		assert.ErrorIs(t, err, ErrBeforeStart)
	})
}

func TestClock_EpochBounds(t *testing.T) {
	c, _ := newTestClock(t, testStart)

	assert.Equal(t, testStart, c.EpochStart(0))
	assert.Equal(t, testStart+Week, c.EpochEnd(0))
	assert.Equal(t, c.EpochStart(8), c.EpochEnd(7))

	for _, e := range []Epoch{0, 1, 52, 1000} {
		got, err := c.EpochOf(c.EpochStart(e))
		require.NoError(t, err)
		assert.Equal(t, e, got)

		got, err = c.EpochOf(c.EpochEnd(e) - 1)
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}
}

func TestClock_CurrentAndPrevious(t *testing.T) {
	c, fake := newTestClock(t, testStart+10)

	current, err := c.CurrentEpoch()
	require.NoError(t, err)
	assert.Equal(t, Epoch(0), current)

	_, err = c.PreviousEpoch()
	assert.True(t, errors.Is(err, ErrMinEpochReached))

	fake.Advance(time.Duration(Week) * time.Second)
	current, err = c.CurrentEpoch()
	require.NoError(t, err)
	assert.Equal(t, Epoch(1), current)

	previous, err := c.PreviousEpoch()
	require.NoError(t, err)
	assert.Equal(t, Epoch(0), previous)
}

func TestClock_RequireEnded(t *testing.T) {
	c, fake := newTestClock(t, testStart)

	assert.ErrorIs(t, c.RequireEnded(0), ErrEpochNotReached)

	fake.Advance(time.Duration(Week) * time.Second)
	assert.NoError(t, c.RequireEnded(0))
	assert.ErrorIs(t, c.RequireEnded(1), ErrEpochNotReached)

	for _, e := range []Epoch{math.MaxUint64, math.MaxUint64 - 1, math.MaxUint64 / Epoch(Week)} {
		assert.ErrorIs(t, c.RequireEnded(e), ErrEpochNotReached, "epoch %d", e)
	}
}

func TestClock_EpochBoundsSaturate(t *testing.T) {
	c, _ := newTestClock(t, testStart)

	assert.Equal(t, uint64(math.MaxUint64), c.EpochStart(math.MaxUint64))
	assert.Equal(t, uint64(math.MaxUint64), c.EpochEnd(math.MaxUint64))
	assert.Equal(t, uint64(math.MaxUint64), c.EpochEnd(math.MaxUint64/Epoch(Week)))

	last := Epoch((math.MaxUint64 - testStart) / Week)
	assert.Equal(t, testStart+uint64(last)*Week, c.EpochStart(last))
	assert.Equal(t, uint64(math.MaxUint64), c.EpochStart(last+1))
}

func TestClock_EpochsPerYear(t *testing.T) {
	c, _ := newTestClock(t, testStart)
	assert.Equal(t, uint64(52), c.EpochsPerYear())

	long, err := NewClock(testStart, 2*Year, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), long.EpochsPerYear())
}

func TestRoundToWeek(t *testing.T) {
	assert.Equal(t, testStart, RoundToWeek(testStart))
	assert.Equal(t, testStart, RoundToWeek(testStart+Week-1))
	assert.Equal(t, testStart+Week, RoundToWeek(testStart+Week))
}

func TestEpoch_Previous(t *testing.T) {
	prev, err := Epoch(5).Previous()
	require.NoError(t, err)
	assert.Equal(t, Epoch(4), prev)
	assert.Equal(t, Epoch(6), Epoch(5).Next())

	_, err = Epoch(0).Previous()
	assert.ErrorIs(t, err, ErrMinEpochReached)
}
