package epochtime

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// Week is the lock and checkpoint granularity in seconds.
	Week uint64 = 7 * 24 * 60 * 60

	// Year is used to annualize per-epoch rates.
	Year uint64 = 365 * 24 * 60 * 60
)

// Epoch is a sequential index of fixed-length time windows starting at 0.
type Epoch uint64

// Previous returns the epoch before e.
func (e Epoch) Previous() (Epoch, error) {
	if e == 0 {
		return e, ErrMinEpochReached
	}
	return e - 1, nil
}

func (e Epoch) Next() Epoch {
	return e + 1
}

// Clock converts between unix timestamps (seconds) and epochs. The epoch
// length is fixed for the lifetime of the clock.
type Clock struct {
	start  uint64
	length uint64
	src    clockwork.Clock
}

// NewClock creates a Clock for epochs of length seconds starting at start.
// A nil src uses the wall clock.
func NewClock(start, length uint64, src clockwork.Clock) (*Clock, error) {
	if length == 0 {
		return nil, ErrZeroEpochLength
	}
	if src == nil {
		src = clockwork.NewRealClock()
	}
	return &Clock{start: start, length: length, src: src}, nil
}

func (c *Clock) Start() uint64 {
	return c.start
}

func (c *Clock) Length() uint64 {
	return c.length
}

// Now returns the current unix time in seconds.
func (c *Clock) Now() uint64 {
	now := c.src.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// EpochOf returns floor((ts - start) / length).
func (c *Clock) EpochOf(ts uint64) (Epoch, error) {
	if ts < c.start {
		return 0, fmt.Errorf("%w: %d < %d", ErrBeforeStart, ts, c.start)
	}
	return Epoch((ts - c.start) / c.length), nil
}

// EpochStart returns the first second of e, saturating at math.MaxUint64
// for epochs beyond the representable range.
func (c *Clock) EpochStart(e Epoch) uint64 {
	hi, offset := bits.Mul64(uint64(e), c.length)
	if hi != 0 {
		return math.MaxUint64
	}
	ts, carry := bits.Add64(c.start, offset, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return ts
}

// EpochEnd returns the start of the following epoch.
func (c *Clock) EpochEnd(e Epoch) uint64 {
	if e == math.MaxUint64 {
		return math.MaxUint64
	}
	return c.EpochStart(e + 1)
}

// CurrentEpoch returns the epoch containing Now.
func (c *Clock) CurrentEpoch() (Epoch, error) {
	return c.EpochOf(c.Now())
}

// PreviousEpoch returns the epoch before the current one.
func (c *Clock) PreviousEpoch() (Epoch, error) {
	current, err := c.CurrentEpoch()
	if err != nil {
		return 0, err
	}
	return current.Previous()
}

// Ended reports whether e has fully elapsed at Now, that is whether e lies
// before the current epoch.
func (c *Clock) Ended(e Epoch) bool {
	current, err := c.CurrentEpoch()
	if err != nil {
		return false
	}
	return e < current
}

// RequireEnded returns ErrEpochNotReached unless e has fully elapsed.
func (c *Clock) RequireEnded(e Epoch) error {
	if !c.Ended(e) {
		return fmt.Errorf("%w: epoch %d ends at %d", ErrEpochNotReached, e, c.EpochEnd(e))
	}
	return nil
}

// EpochsPerYear returns how many whole epochs fit in a year, at least 1.
func (c *Clock) EpochsPerYear() uint64 {
	if n := Year / c.length; n > 0 {
		return n
	}
	return 1
}

// Time converts a unix timestamp to a time.Time in UTC.
func Time(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

// RoundToWeek rounds ts down to the week granularity used by locks.
func RoundToWeek(ts uint64) uint64 {
	return ts / Week * Week
}
