package utilization

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/safemath"
)

const (
	MinSystemFloorBps   uint64 = 4_000
	MinPersonalFloorBps uint64 = 2_500
	// FullBps is the ratio reported when no baseline exists.
	FullBps = safemath.BasisPoints
)

// NetActivityFeed reports the signed net activity of an epoch, system-wide and
// per participant. Values are int256 in two's complement.
type NetActivityFeed interface {
	SystemNetActivity(ctx context.Context, e epochtime.Epoch) (*uint256.Int, error)
	PersonalNetActivity(ctx context.Context, p common.Address, e epochtime.Epoch) (*uint256.Int, error)
}

// Floors are the lowest ratios the throttle reports, in basis points.
type Floors struct {
	SystemBps   uint64 `yaml:"system_bps"`
	PersonalBps uint64 `yaml:"personal_bps"`
}

func DefaultFloors() Floors {
	return Floors{SystemBps: MinSystemFloorBps, PersonalBps: MinPersonalFloorBps}
}

func (f Floors) Validate() error {
	if f.SystemBps < MinSystemFloorBps || f.SystemBps > FullBps {
		return fmt.Errorf("%w: system floor %d not in [%d, %d]", ErrInvalidFloor, f.SystemBps, MinSystemFloorBps, FullBps)
	}
	if f.PersonalBps < MinPersonalFloorBps || f.PersonalBps > FullBps {
		return fmt.Errorf("%w: personal floor %d not in [%d, %d]", ErrInvalidFloor, f.PersonalBps, MinPersonalFloorBps, FullBps)
	}
	return nil
}

// Ratio compares net activity of epoch e against the claims of the epoch
// before it. Epochs 0 and 1 and a zero baseline report full utilization, non
// positive activity reports the floor.
func Ratio(e epochtime.Epoch, net, baseline *uint256.Int, floor uint64) uint64 {
	if e < 2 || baseline.IsZero() {
		return FullBps
	}
	if net.IsZero() || safemath.IsNegative(net) {
		return floor
	}
	r, err := safemath.MulDiv(net, uint256.NewInt(FullBps), baseline)
	if err != nil || !r.IsUint64() {
		return FullBps
	}
	return safemath.ClampBps(r.Uint64(), floor, FullBps)
}

// Throttle derives utilization ratios from a NetActivityFeed. It is not safe
// for concurrent mutation.
type Throttle struct {
	floors Floors
	feed   NetActivityFeed
}

func NewThrottle(floors Floors, feed NetActivityFeed) (*Throttle, error) {
	if err := floors.Validate(); err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, ErrNilFeed
	}
	return &Throttle{floors: floors, feed: feed}, nil
}

func (t *Throttle) Floors() Floors {
	return t.floors
}

func (t *Throttle) SetFloors(f Floors) error {
	if err := f.Validate(); err != nil {
		return err
	}
	t.floors = f
	return nil
}

func (t *Throttle) Feed() NetActivityFeed {
	return t.feed
}

func (t *Throttle) SetFeed(feed NetActivityFeed) error {
	if feed == nil {
		return ErrNilFeed
	}
	t.feed = feed
	return nil
}

// SystemUtilization returns the system ratio of e given the total claimed
// for the epoch before it. The feed is consulted only when a baseline exists.
func (t *Throttle) SystemUtilization(ctx context.Context, e epochtime.Epoch, prevClaimed *uint256.Int) (uint64, error) {
	if e < 2 || prevClaimed.IsZero() {
		return FullBps, nil
	}
	net, err := t.feed.SystemNetActivity(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("system net activity of epoch %d: %w", e, err)
	}
	return Ratio(e, net, prevClaimed, t.floors.SystemBps), nil
}

// PersonalUtilization returns the ratio of p in e given what p claimed for
// the epoch before it.
func (t *Throttle) PersonalUtilization(ctx context.Context, p common.Address, e epochtime.Epoch, prevClaimed *uint256.Int) (uint64, error) {
	if e < 2 || prevClaimed.IsZero() {
		return FullBps, nil
	}
	net, err := t.feed.PersonalNetActivity(ctx, p, e)
	if err != nil {
		return 0, fmt.Errorf("net activity of %s in epoch %d: %w", p, e, err)
	}
	return Ratio(e, net, prevClaimed, t.floors.PersonalBps), nil
}
