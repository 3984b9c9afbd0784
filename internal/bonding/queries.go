package bonding

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/safemath"
	"github.com/eigerco/trustbond/internal/utilization"
)

const utilizationFull = utilization.FullBps

func (e *Engine) CurrentEpoch() (epochtime.Epoch, error) {
	return e.clock.CurrentEpoch()
}

func (e *Engine) PreviousEpoch() (epochtime.Epoch, error) {
	return e.clock.PreviousEpoch()
}

func (e *Engine) EpochOf(ts uint64) (epochtime.Epoch, error) {
	return e.clock.EpochOf(ts)
}

func (e *Engine) EmissionsAt(ep epochtime.Epoch) *uint256.Int {
	return e.schedule.EmissionsAt(ep)
}

// BalanceAt returns the balance of p at the end of ep, which must have ended.
func (e *Engine) BalanceAt(p common.Address, ep epochtime.Epoch) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.clock.RequireEnded(ep); err != nil {
		return nil, err
	}
	return e.ledger.BalanceAtTime(p, e.clock.EpochEnd(ep)), nil
}

// TotalAt returns the sum of all balances at the end of ep, which must have
// ended.
func (e *Engine) TotalAt(ep epochtime.Epoch) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.clock.RequireEnded(ep); err != nil {
		return nil, err
	}
	return e.totalAt(ep), nil
}

// BalanceNow returns the current balance of p.
func (e *Engine) BalanceNow(p common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceAtTime(p, e.clock.Now())
}

// LockOf returns the lock of p, if any.
func (e *Engine) LockOf(p common.Address) (escrow.Lock, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.LockOf(p)
}

// LockedSupply returns the sum of all locked amounts.
func (e *Engine) LockedSupply() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Supply()
}

func (e *Engine) GloballyUnlocked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Unlocked()
}

func (e *Engine) Floors() utilization.Floors {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.throttle.Floors()
}

// SystemUtilization returns the system ratio of ep. Once a claim for ep has
// been paid the ratio it was paid at is returned.
func (e *Engine) SystemUtilization(ctx context.Context, ep epochtime.Epoch) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.systemUtilization(ctx, ep)
}

func (e *Engine) systemUtilization(ctx context.Context, ep epochtime.Epoch) (uint64, error) {
	if bps, ok := e.book.FrozenSystemUtilization(ep); ok {
		return bps, nil
	}
	if ep == 0 {
		return utilizationFull, nil
	}
	return e.throttle.SystemUtilization(ctx, ep, e.book.TotalClaimed(ep-1))
}

// PersonalUtilization returns the ratio of p in ep. Once p has claimed ep
// the ratio used for the claim is returned.
func (e *Engine) PersonalUtilization(ctx context.Context, p common.Address, ep epochtime.Epoch) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.personalUtilization(ctx, p, ep)
}

func (e *Engine) personalUtilization(ctx context.Context, p common.Address, ep epochtime.Epoch) (uint64, error) {
	if r, ok := e.book.Record(p, ep); ok {
		return r.PersonalUtilizationBps, nil
	}
	if ep == 0 {
		return utilizationFull, nil
	}
	return e.throttle.PersonalUtilization(ctx, p, ep, e.book.Claimed(p, ep-1))
}

// UserInfo summarizes a participant for the claimable epoch.
type UserInfo struct {
	PersonalUtilizationBps uint64
	// EligibleRewards is the throttled reward of the claimable epoch,
	// whether or not it was claimed.
	EligibleRewards *uint256.Int
	// MaxRewards is the reward without throttling.
	MaxRewards    *uint256.Int
	LockedAmount  *uint256.Int
	LockEnd       uint64
	BondedBalance *uint256.Int
}

func (e *Engine) UserInfo(ctx context.Context, p common.Address) (UserInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	info := UserInfo{
		PersonalUtilizationBps: utilizationFull,
		EligibleRewards:        new(uint256.Int),
		MaxRewards:             new(uint256.Int),
		LockedAmount:           new(uint256.Int),
		BondedBalance:          e.ledger.BalanceAtTime(p, e.clock.Now()),
	}
	if lock, ok := e.ledger.LockOf(p); ok {
		info.LockedAmount = lock.Amount.Clone()
		info.LockEnd = lock.End
	}

	ep, ok, err := e.claimableEpoch()
	if err != nil || !ok {
		return info, err
	}
	q, err := e.quote(ctx, p, ep)
	if err != nil {
		return UserInfo{}, err
	}
	info.PersonalUtilizationBps = q.PersonalUtilizationBps
	info.EligibleRewards = q.Claimable
	info.MaxRewards = q.Max
	return info, nil
}

// APY is an annualized reward rate in basis points of the locked amount.
type APY struct {
	CurrentBps *uint256.Int
	MaxBps     *uint256.Int
}

// UserAPY annualizes the rewards of the claimable epoch against the amount
// p has locked.
func (e *Engine) UserAPY(ctx context.Context, p common.Address) (APY, error) {
	info, err := e.UserInfo(ctx, p)
	if err != nil {
		return APY{}, err
	}
	apy := APY{CurrentBps: new(uint256.Int), MaxBps: new(uint256.Int)}
	if info.LockedAmount.IsZero() {
		return apy, nil
	}
	perYear := uint256.NewInt(e.clock.EpochsPerYear() * safemath.BasisPoints)
	if apy.CurrentBps, err = safemath.MulDiv(info.EligibleRewards, perYear, info.LockedAmount); err != nil {
		return APY{}, err
	}
	if apy.MaxBps, err = safemath.MulDiv(info.MaxRewards, perYear, info.LockedAmount); err != nil {
		return APY{}, err
	}
	return apy, nil
}
