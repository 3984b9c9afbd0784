package escrow

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
)

// findPoint returns the index of the last point with Timestamp <= t, or -1.
func findPoint(points []Point, t uint64) int {
	return sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp > t
	}) - 1
}

// BalanceAtTime returns the decayed balance of p at t.
func (l *Ledger) BalanceAtTime(p common.Address, t uint64) *uint256.Int {
	points := l.userPoints[p]
	i := findPoint(points, t)
	if i < 0 {
		return new(uint256.Int)
	}
	return points[i].ValueAt(t)
}

// TotalAtTime returns the sum of all balances at t. The global curve is
// extended from the checkpoint preceding t through every scheduled slope
// change up to t.
func (l *Ledger) TotalAtTime(t uint64) *uint256.Int {
	i := findPoint(l.globalPoints, t)
	if i < 0 {
		return new(uint256.Int)
	}
	pt := l.globalPoints[i]
	for pt.Timestamp < t && !pt.Slope.IsZero() {
		ti := epochtime.RoundToWeek(pt.Timestamp) + epochtime.Week
		if ti >= t {
			return pt.ValueAt(t)
		}
		pt = l.stepTo(pt, ti, true)
	}
	return pt.Bias.Clone()
}
