package escrow

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/safemath"
)

// Ledger holds the vote-escrow locks and their decay checkpoints.
//
// Balances decay linearly from the locked amount to zero at the lock end.
// The global curve is the sum of every participant curve; it is advanced
// week by week, applying the slope changes scheduled at lock ends.
//
// Ledger is not safe for concurrent use. Every mutation is recorded in a
// pending changeset which the owner drains and persists.
type Ledger struct {
	params Params

	locks        map[common.Address]Lock
	userPoints   map[common.Address][]Point
	globalPoints []Point
	// slopeChanges holds, per week timestamp, the slope magnitude that stops
	// decaying at that instant.
	slopeChanges map[uint64]uint256.Int
	supply       uint256.Int
	unlocked     bool
	height       uint64

	pending Changeset
}

// NewLedger creates an empty ledger whose global curve starts at genesis.
func NewLedger(params Params, genesis uint64) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		params:       params,
		locks:        make(map[common.Address]Lock),
		userPoints:   make(map[common.Address][]Point),
		globalPoints: []Point{{Timestamp: genesis}},
		slopeChanges: make(map[uint64]uint256.Int),
	}
	l.resetPending()
	l.pending.GlobalPoints = append(l.pending.GlobalPoints, GlobalPoint{Index: 0, Point: l.globalPoints[0]})
	return l, nil
}

// Restore replaces the ledger contents with a persisted snapshot.
func (l *Ledger) Restore(s Snapshot) error {
	if len(s.GlobalPoints) == 0 {
		return fmt.Errorf("%w: snapshot without global checkpoints", ErrInvalidParams)
	}
	l.locks = make(map[common.Address]Lock, len(s.Locks))
	l.supply.Clear()
	for p, lock := range s.Locks {
		if lock.IsZero() {
			continue
		}
		l.locks[p] = lock
		sum, err := safemath.Add(&l.supply, &lock.Amount)
		if err != nil {
			return fmt.Errorf("restoring supply: %w", err)
		}
		l.supply = *sum
	}
	l.userPoints = make(map[common.Address][]Point, len(s.UserPoints))
	for p, points := range s.UserPoints {
		l.userPoints[p] = append([]Point(nil), points...)
	}
	l.globalPoints = append([]Point(nil), s.GlobalPoints...)
	l.slopeChanges = make(map[uint64]uint256.Int, len(s.SlopeChanges))
	for ts, d := range s.SlopeChanges {
		if !d.IsZero() {
			l.slopeChanges[ts] = d
		}
	}
	l.unlocked = s.Unlocked
	l.height = l.globalPoints[len(l.globalPoints)-1].Height
	l.resetPending()
	return nil
}

// Drain returns the records written since the previous Drain.
func (l *Ledger) Drain() Changeset {
	cs := l.pending
	l.resetPending()
	return cs
}

func (l *Ledger) resetPending() {
	l.pending = Changeset{
		Locks:        make(map[common.Address]Lock),
		SlopeChanges: make(map[uint64]uint256.Int),
	}
}

func (l *Ledger) Params() Params {
	return l.params
}

// Height is the number of committed ledger mutations.
func (l *Ledger) Height() uint64 {
	return l.height
}

func (l *Ledger) Unlocked() bool {
	return l.unlocked
}

// Supply is the sum of all locked amounts.
func (l *Ledger) Supply() *uint256.Int {
	return l.supply.Clone()
}

// LockOf returns the lock held by p, if any.
func (l *Ledger) LockOf(p common.Address) (Lock, bool) {
	lock, ok := l.locks[p]
	return lock, ok
}

func (l *Ledger) UserPointCount(p common.Address) int {
	return len(l.userPoints[p])
}

func (l *Ledger) UserPoint(p common.Address, i int) (Point, bool) {
	points := l.userPoints[p]
	if i < 0 || i >= len(points) {
		return Point{}, false
	}
	return points[i], true
}

func (l *Ledger) GlobalPointCount() int {
	return len(l.globalPoints)
}

func (l *Ledger) GlobalPoint(i int) (Point, bool) {
	if i < 0 || i >= len(l.globalPoints) {
		return Point{}, false
	}
	return l.globalPoints[i], true
}

func (l *Ledger) LastGlobalPoint() Point {
	return l.globalPoints[len(l.globalPoints)-1]
}

// SlopeChangeAt returns the slope scheduled to stop decaying at ts.
func (l *Ledger) SlopeChangeAt(ts uint64) *uint256.Int {
	d := l.slopeChanges[ts]
	return d.Clone()
}

// CreateLock escrows amount for p until end, rounded down to a whole week.
func (l *Ledger) CreateLock(p common.Address, amount *uint256.Int, end, now uint64) error {
	if p.IsZero() {
		return common.ErrZeroAddress
	}
	if l.unlocked {
		return ErrGloballyUnlocked
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	old, exists := l.locks[p]
	if exists && !old.Amount.IsZero() {
		return ErrLockExists
	}
	end = epochtime.RoundToWeek(end)
	if end <= now {
		return fmt.Errorf("%w: end %d, now %d", ErrUnlockTimeInPast, end, now)
	}
	if end-now < l.params.MinTime {
		return fmt.Errorf("%w: %d < %d", ErrLockTooShort, end-now, l.params.MinTime)
	}
	if end-now > l.params.MaxTime {
		return fmt.Errorf("%w: %d > %d", ErrLockTooLong, end-now, l.params.MaxTime)
	}
	supply, err := safemath.Add(&l.supply, amount)
	if err != nil {
		return ErrOverflow
	}

	next := Lock{Amount: *amount.Clone(), End: end}
	if err := l.apply(p, Lock{}, next, now); err != nil {
		return err
	}
	l.supply = *supply
	return nil
}

// IncreaseAmount adds amount to the unexpired lock of p without changing its end.
func (l *Ledger) IncreaseAmount(p common.Address, amount *uint256.Int, now uint64) error {
	return l.increase(p, amount, 0, now)
}

// DepositFor tops up the lock of p on behalf of a third party. The rules are
// those of IncreaseAmount.
func (l *Ledger) DepositFor(p common.Address, amount *uint256.Int, now uint64) error {
	return l.increase(p, amount, 0, now)
}

// IncreaseUnlockTime moves the end of the unexpired lock of p to a later week.
func (l *Ledger) IncreaseUnlockTime(p common.Address, end, now uint64) error {
	if end == 0 {
		return ErrUnlockTimeNotIncreasing
	}
	return l.increase(p, nil, end, now)
}

// IncreaseAmountAndTime applies both increases as a single update.
func (l *Ledger) IncreaseAmountAndTime(p common.Address, amount *uint256.Int, end, now uint64) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if end == 0 {
		return ErrUnlockTimeNotIncreasing
	}
	return l.increase(p, amount, end, now)
}

// increase tops up amount when non-nil and extends the end when non-zero.
func (l *Ledger) increase(p common.Address, amount *uint256.Int, end, now uint64) error {
	if p.IsZero() {
		return common.ErrZeroAddress
	}
	if l.unlocked {
		return ErrGloballyUnlocked
	}
	if (amount == nil && end == 0) || (amount != nil && amount.IsZero()) {
		return ErrZeroAmount
	}
	old, ok := l.locks[p]
	if !ok || old.Amount.IsZero() {
		return ErrNoLock
	}
	if old.Expired(now) {
		return fmt.Errorf("%w: ended at %d", ErrLockExpired, old.End)
	}

	next := Lock{Amount: old.Amount, End: old.End}
	supply := l.supply.Clone()
	if amount != nil {
		total, err := safemath.Add(&old.Amount, amount)
		if err != nil {
			return ErrOverflow
		}
		if supply, err = safemath.Add(supply, amount); err != nil {
			return ErrOverflow
		}
		next.Amount = *total
	}
	if end != 0 {
		end = epochtime.RoundToWeek(end)
		if end <= old.End {
			return fmt.Errorf("%w: %d <= %d", ErrUnlockTimeNotIncreasing, end, old.End)
		}
		if end-now > l.params.MaxTime {
			return fmt.Errorf("%w: %d > %d", ErrLockTooLong, end-now, l.params.MaxTime)
		}
		next.End = end
	}

	if err := l.apply(p, old, next, now); err != nil {
		return err
	}
	l.supply = *supply
	return nil
}

// Withdraw releases the lock of p once it has expired, or at any time after
// a global unlock, and returns the released amount.
func (l *Ledger) Withdraw(p common.Address, now uint64) (*uint256.Int, error) {
	if p.IsZero() {
		return nil, common.ErrZeroAddress
	}
	old, ok := l.locks[p]
	if !ok || old.Amount.IsZero() {
		return nil, ErrNoLock
	}
	if !l.unlocked && !old.Expired(now) {
		return nil, fmt.Errorf("%w: ends at %d", ErrLockNotExpired, old.End)
	}
	if err := l.apply(p, old, Lock{}, now); err != nil {
		return nil, err
	}
	l.supply = *safemath.SubFloor(&l.supply, &old.Amount)
	return old.Amount.Clone(), nil
}

// SetGlobalUnlock makes every lock withdrawable. It cannot be undone.
func (l *Ledger) SetGlobalUnlock() {
	if l.unlocked {
		return
	}
	l.unlocked = true
	l.pending.Unlocked = true
}

// apply catches the global curve up to now and replaces the lock of p.
// Nothing is modified when it fails.
func (l *Ledger) apply(p common.Address, old, next Lock, now uint64) error {
	adv, err := l.advance(now, l.params.MaxCheckpointSteps)
	if err != nil {
		return err
	}
	if !adv.caughtUp {
		return fmt.Errorf("%w: %d weekly steps pending", ErrCheckpointLagging, l.pendingSteps(now))
	}

	uOld := l.curveOf(old, now)
	uNew := l.curveOf(next, now)

	tail := adv.last
	tail.Slope = *safemath.SubFloor(&tail.Slope, &uOld.Slope)
	tail.Slope.Add(&tail.Slope, &uNew.Slope)
	tail.Bias = *safemath.SubFloor(&tail.Bias, &uOld.Bias)
	tail.Bias.Add(&tail.Bias, &uNew.Bias)

	l.height++
	for _, pt := range adv.points {
		pt.Height = l.height
		l.appendGlobal(pt)
	}
	tail.Height = l.height
	l.appendGlobal(tail)

	if old.End > now {
		d := l.slopeChanges[old.End]
		d = *safemath.SubFloor(&d, &uOld.Slope)
		if next.End == old.End {
			d.Add(&d, &uNew.Slope)
		}
		l.setSlopeChange(old.End, d)
	}
	if next.End > now && next.End > old.End {
		d := l.slopeChanges[next.End]
		d.Add(&d, &uNew.Slope)
		l.setSlopeChange(next.End, d)
	}

	uNew.Timestamp = now
	uNew.Height = l.height
	l.appendUser(p, uNew)

	if next.IsZero() {
		delete(l.locks, p)
	} else {
		l.locks[p] = next
	}
	l.pending.Locks[p] = next
	return nil
}

// curveOf returns the decay point of lock at now. Expired locks have none.
func (l *Ledger) curveOf(lock Lock, now uint64) Point {
	var pt Point
	if lock.End <= now || lock.Amount.IsZero() {
		return pt
	}
	pt.Slope.Div(&lock.Amount, uint256.NewInt(l.params.MaxTime))
	pt.Bias.Mul(&pt.Slope, uint256.NewInt(lock.End-now))
	return pt
}

func (l *Ledger) setSlopeChange(ts uint64, d uint256.Int) {
	if d.IsZero() {
		delete(l.slopeChanges, ts)
	} else {
		l.slopeChanges[ts] = d
	}
	l.pending.SlopeChanges[ts] = d
}

// appendGlobal records pt, replacing the tail when both share a timestamp.
func (l *Ledger) appendGlobal(pt Point) {
	idx := len(l.globalPoints)
	if idx > 0 && l.globalPoints[idx-1].Timestamp == pt.Timestamp {
		idx--
		l.globalPoints[idx] = pt
	} else {
		l.globalPoints = append(l.globalPoints, pt)
	}
	l.pending.GlobalPoints = append(l.pending.GlobalPoints, GlobalPoint{Index: uint64(idx), Point: pt})
}

func (l *Ledger) appendUser(p common.Address, pt Point) {
	points := l.userPoints[p]
	idx := len(points)
	if idx > 0 && points[idx-1].Timestamp == pt.Timestamp {
		idx--
		points[idx] = pt
	} else {
		points = append(points, pt)
	}
	l.userPoints[p] = points
	l.pending.UserPoints = append(l.pending.UserPoints, UserPoint{Participant: p, Index: uint64(idx), Point: pt})
}
