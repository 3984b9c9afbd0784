package escrow

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
)

// DefaultMaxCheckpointSteps bounds how many weekly steps one call may advance
// the global checkpoint.
const DefaultMaxCheckpointSteps = 255

type Params struct {
	// MaxTime is the longest lock duration in seconds. Slopes are amount/MaxTime.
	MaxTime uint64
	// MinTime is the shortest duration accepted when creating a lock.
	MinTime            uint64
	MaxCheckpointSteps int
}

func DefaultParams() Params {
	return Params{
		MaxTime:            2 * epochtime.Year,
		MinTime:            2 * epochtime.Week,
		MaxCheckpointSteps: DefaultMaxCheckpointSteps,
	}
}

func (p Params) Validate() error {
	switch {
	case p.MaxTime < epochtime.Week:
		return fmt.Errorf("%w: max time %d shorter than a week", ErrInvalidParams, p.MaxTime)
	case p.MinTime > p.MaxTime:
		return fmt.Errorf("%w: min time %d above max time %d", ErrInvalidParams, p.MinTime, p.MaxTime)
	case p.MaxCheckpointSteps <= 0:
		return fmt.Errorf("%w: max checkpoint steps must be positive", ErrInvalidParams)
	}
	return nil
}

// Lock is a participant's escrowed amount and its week-aligned expiry.
// The zero value means no lock.
type Lock struct {
	Amount uint256.Int
	End    uint64
}

func (l Lock) IsZero() bool {
	return l.Amount.IsZero() && l.End == 0
}

// Expired reports whether the lock can no longer decay at now.
func (l Lock) Expired(now uint64) bool {
	return l.End <= now
}

// Point is a checkpoint of a decay curve. Bias is the balance at Timestamp
// and Slope the balance lost per second until the next slope change.
type Point struct {
	Bias      uint256.Int
	Slope     uint256.Int
	Timestamp uint64
	Height    uint64
}

// ValueAt extrapolates the point linearly to t, clamping at zero.
func (p Point) ValueAt(t uint64) *uint256.Int {
	if t <= p.Timestamp {
		return p.Bias.Clone()
	}
	decay, overflow := new(uint256.Int).MulOverflow(&p.Slope, uint256.NewInt(t-p.Timestamp))
	if overflow || decay.Gt(&p.Bias) {
		return new(uint256.Int)
	}
	return decay.Sub(&p.Bias, decay)
}

// UserPoint is a participant checkpoint addressed by its index in the
// participant's history.
type UserPoint struct {
	Participant common.Address
	Index       uint64
	Point       Point
}

// GlobalPoint is a global checkpoint addressed by its index.
type GlobalPoint struct {
	Index uint64
	Point Point
}

// Changeset lists every record an operation wrote, in the order written.
// A zero slope change means the scheduled entry was removed.
type Changeset struct {
	Locks        map[common.Address]Lock
	UserPoints   []UserPoint
	GlobalPoints []GlobalPoint
	SlopeChanges map[uint64]uint256.Int
	Unlocked     bool
}

func (c *Changeset) Empty() bool {
	return len(c.Locks) == 0 && len(c.UserPoints) == 0 && len(c.GlobalPoints) == 0 &&
		len(c.SlopeChanges) == 0 && !c.Unlocked
}

// Snapshot is the full ledger state, used to restore from storage.
type Snapshot struct {
	Locks        map[common.Address]Lock
	UserPoints   map[common.Address][]Point
	GlobalPoints []Point
	SlopeChanges map[uint64]uint256.Int
	Unlocked     bool
}
