package escrow

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/safemath"
)

type advancement struct {
	// points are the weekly checkpoints crossed on the way.
	points []Point
	// last is the curve at the point where advancing stopped.
	last     Point
	caughtUp bool
}

// advance computes, without modifying the ledger, the global curve from the
// latest checkpoint towards now in weekly steps, crossing at most maxSteps
// week boundaries. When caught up, last is the curve at now.
func (l *Ledger) advance(now uint64, maxSteps int) (advancement, error) {
	last := l.LastGlobalPoint()
	if now < last.Timestamp {
		return advancement{}, fmt.Errorf("%w: %d < %d", ErrTimeRegression, now, last.Timestamp)
	}
	if l.pendingSteps(now) > maxSteps {
		adv := advancement{}
		adv.last = last
		for i := 0; i < maxSteps; i++ {
			ti := epochtime.RoundToWeek(adv.last.Timestamp) + epochtime.Week
			adv.last = l.stepTo(adv.last, ti, true)
			adv.points = append(adv.points, adv.last)
		}
		return adv, nil
	}

	adv := advancement{last: last, caughtUp: true}
	for {
		ti := epochtime.RoundToWeek(adv.last.Timestamp) + epochtime.Week
		if ti >= now {
			adv.last = l.stepTo(adv.last, now, ti == now)
			return adv, nil
		}
		adv.last = l.stepTo(adv.last, ti, true)
		adv.points = append(adv.points, adv.last)
	}
}

// stepTo decays pt to ts and, at a week boundary, drops the slope that
// stops decaying there.
func (l *Ledger) stepTo(pt Point, ts uint64, boundary bool) Point {
	next := Point{Timestamp: ts}
	decay := new(uint256.Int).Mul(&pt.Slope, uint256.NewInt(ts-pt.Timestamp))
	next.Bias = *safemath.SubFloor(&pt.Bias, decay)
	next.Slope = pt.Slope
	if boundary {
		d := l.slopeChanges[ts]
		next.Slope = *safemath.SubFloor(&pt.Slope, &d)
	}
	return next
}

// pendingSteps counts the week boundaries between the latest global
// checkpoint and now.
func (l *Ledger) pendingSteps(now uint64) int {
	last := l.LastGlobalPoint().Timestamp
	if now <= last {
		return 0
	}
	return int(epochtime.RoundToWeek(now)/epochtime.Week - epochtime.RoundToWeek(last)/epochtime.Week)
}

// PendingSteps reports how many weekly steps the global checkpoint lags
// behind now.
func (l *Ledger) PendingSteps(now uint64) int {
	return l.pendingSteps(now)
}

// Checkpoint advances the global curve towards now by at most
// MaxCheckpointSteps weeks and records the crossed checkpoints. It returns
// the number of weeks advanced and whether the curve reached now. Callers
// repeat it until caught up.
func (l *Ledger) Checkpoint(now uint64) (int, bool, error) {
	if now == l.LastGlobalPoint().Timestamp {
		return 0, true, nil
	}
	steps := l.pendingSteps(now)
	adv, err := l.advance(now, l.params.MaxCheckpointSteps)
	if err != nil {
		return 0, false, err
	}
	l.height++
	for _, pt := range adv.points {
		pt.Height = l.height
		l.appendGlobal(pt)
	}
	if !adv.caughtUp {
		return len(adv.points), false, nil
	}
	adv.last.Height = l.height
	l.appendGlobal(adv.last)
	return steps, true, nil
}
