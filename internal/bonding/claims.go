package bonding

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/metrics"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/pkg/log"
)

// Quote is the reward computation of a participant for an epoch.
type Quote struct {
	Epoch                  epochtime.Epoch
	Balance                *uint256.Int
	Total                  *uint256.Int
	Emissions              *uint256.Int
	SystemUtilizationBps   uint64
	PersonalUtilizationBps uint64
	// Max is the share of emissions before any throttling.
	Max *uint256.Int
	// Raw is the share after the system utilization.
	Raw *uint256.Int
	// Claimable is the share after both utilization ratios.
	Claimable *uint256.Int
}

// quote computes the rewards of p for the ended epoch ep. Must hold a lock.
func (e *Engine) quote(ctx context.Context, p common.Address, ep epochtime.Epoch) (Quote, error) {
	if err := e.clock.RequireEnded(ep); err != nil {
		return Quote{}, err
	}
	q := Quote{
		Epoch:     ep,
		Balance:   e.ledger.BalanceAtTime(p, e.clock.EpochEnd(ep)),
		Total:     e.totalAt(ep),
		Emissions: e.schedule.EmissionsAt(ep),
	}
	var err error
	if q.SystemUtilizationBps, err = e.systemUtilization(ctx, ep); err != nil {
		return Quote{}, err
	}
	if q.PersonalUtilizationBps, err = e.personalUtilization(ctx, p, ep); err != nil {
		return Quote{}, err
	}
	if q.Max, err = rewards.RawShare(q.Balance, q.Total, q.Emissions, utilizationFull); err != nil {
		return Quote{}, err
	}
	if q.Raw, err = rewards.RawShare(q.Balance, q.Total, q.Emissions, q.SystemUtilizationBps); err != nil {
		return Quote{}, err
	}
	if q.Claimable, err = rewards.ApplyPersonalUtilization(q.Raw, q.PersonalUtilizationBps); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// Claim pays caller the rewards of the previous epoch into recipient. Each
// epoch can be claimed once, and only during the epoch that follows it.
func (e *Engine) Claim(ctx context.Context, caller, recipient common.Address) (rewards.ClaimRecord, error) {
	if err := checkReentry(ctx); err != nil {
		return rewards.ClaimRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.claim(ctx, caller, recipient)
	metrics.RecordOperation("claim", err)
	if err != nil {
		log.Rewards.Warn().Err(err).Stringer("participant", caller).Msg("claim rejected")
		return rewards.ClaimRecord{}, err
	}
	metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
	metrics.ClaimedAmount.Add(metrics.Float(&record.Amount))
	log.Rewards.Info().
		Stringer("participant", caller).
		Stringer("recipient", recipient).
		Uint64("epoch", uint64(record.Epoch)).
		Str("amount", record.Amount.Dec()).
		Msg("rewards claimed")
	return record, nil
}

func (e *Engine) claim(ctx context.Context, caller, recipient common.Address) (rewards.ClaimRecord, error) {
	if e.fault != nil {
		return rewards.ClaimRecord{}, e.fault
	}
	if caller.IsZero() || recipient.IsZero() {
		return rewards.ClaimRecord{}, common.ErrZeroAddress
	}
	current, err := e.clock.CurrentEpoch()
	if err != nil {
		return rewards.ClaimRecord{}, err
	}
	if current == 0 {
		return rewards.ClaimRecord{}, rewards.ErrNoPreviousEpoch
	}
	ep := current - 1
	if _, ok := e.book.Record(caller, ep); ok {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		return rewards.ClaimRecord{}, fmt.Errorf("%w: epoch %d", rewards.ErrAlreadyClaimed, ep)
	}

	q, err := e.quote(ctx, caller, ep)
	if err != nil {
		return rewards.ClaimRecord{}, err
	}
	if q.Claimable.IsZero() {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		return rewards.ClaimRecord{}, fmt.Errorf("%w: epoch %d", rewards.ErrNoRewards, ep)
	}

	record := rewards.ClaimRecord{
		Participant:            caller,
		Epoch:                  ep,
		Recipient:              recipient,
		Amount:                 *q.Claimable,
		SystemUtilizationBps:   q.SystemUtilizationBps,
		PersonalUtilizationBps: q.PersonalUtilizationBps,
		Reference:              rewards.NewReference(caller, ep, q.Claimable, recipient),
		ClaimedAt:              e.clock.Now(),
	}
	staged, err := e.pay(ctx, record)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("transfer_failed").Inc()
		return rewards.ClaimRecord{}, fmt.Errorf("reward transfer: %w", err)
	}
	if err := e.book.Add(record); err != nil {
		e.settleStaged(false)
		return rewards.ClaimRecord{}, err
	}
	if err := e.commit("claim"); err != nil {
		metrics.ClaimsTotal.WithLabelValues("commit_failed").Inc()
		if !staged {
			// The custody already paid. A retry in the same epoch derives the
			// same reference, which the custody treats as already settled.
			log.Rewards.Error().Err(err).
				Stringer("participant", caller).
				Stringer("reference", record.Reference).
				Msg("reward transferred but claim not recorded")
		}
		return rewards.ClaimRecord{}, err
	}
	return record, nil
}

// pay moves the claimed amount. A custody that can stage into the engine
// store only stages here, and the claim commit writes and applies the debit.
// Must hold the write lock.
func (e *Engine) pay(ctx context.Context, r rewards.ClaimRecord) (bool, error) {
	if stager, ok := e.custody.(rewards.Stager); ok && stager.SharesStore(e.treasuryStore()) {
		t, err := stager.Stage(guarded(ctx), r.Recipient, &r.Amount, r.Reference)
		if err != nil {
			return false, err
		}
		e.staged = t
		return true, nil
	}
	return false, e.custody.Transfer(guarded(ctx), r.Recipient, &r.Amount, r.Reference)
}

// ClaimableRewards previews what Claim would pay caller now. It is zero in
// the genesis epoch, after claiming, and when nothing is owed.
func (e *Engine) ClaimableRewards(ctx context.Context, p common.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ep, ok, err := e.claimableEpoch()
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	if _, claimed := e.book.Record(p, ep); claimed {
		return new(uint256.Int), nil
	}
	q, err := e.quote(ctx, p, ep)
	if err != nil {
		return nil, err
	}
	return q.Claimable, nil
}

// claimableEpoch returns the epoch that can be claimed now, if any.
func (e *Engine) claimableEpoch() (epochtime.Epoch, bool, error) {
	ep, err := e.clock.PreviousEpoch()
	if errors.Is(err, epochtime.ErrMinEpochReached) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ep, true, nil
}

// ClaimRecord returns the claim of p for ep, if any.
func (e *Engine) ClaimRecord(p common.Address, ep epochtime.Epoch) (rewards.ClaimRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Record(p, ep)
}

// ClaimStatus observes the claim state of p for ep.
func (e *Engine) ClaimStatus(p common.Address, ep epochtime.Epoch) (rewards.Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	current, err := e.clock.CurrentEpoch()
	if err != nil {
		return rewards.Unclaimable, err
	}
	_, claimed := e.book.Record(p, ep)
	return rewards.StatusOf(current, ep, claimed), nil
}

// UnclaimedRewards returns the emissions of ep nobody claimed. Only expired
// epochs have a final unclaimed amount.
func (e *Engine) UnclaimedRewards(ep epochtime.Epoch) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	current, err := e.clock.CurrentEpoch()
	if err != nil {
		return nil, err
	}
	if current < 2 || ep > current-2 {
		return nil, fmt.Errorf("%w: epoch %d, current epoch %d", rewards.ErrEpochNotExpired, ep, current)
	}
	emitted := e.schedule.EmissionsAt(ep)
	claimed := e.book.TotalClaimed(ep)
	if claimed.Gt(emitted) {
		return new(uint256.Int), nil
	}
	return emitted.Sub(emitted, claimed), nil
}
