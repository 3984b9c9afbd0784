package bonding

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/metrics"
	"github.com/eigerco/trustbond/pkg/log"
)

// CreateLock escrows amount for caller until end.
func (e *Engine) CreateLock(ctx context.Context, caller common.Address, amount *uint256.Int, end uint64) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	return e.mutate("create_lock", func(now uint64) error {
		return e.ledger.CreateLock(caller, amount, end, now)
	})
}

// IncreaseAmount adds amount to the lock of caller.
func (e *Engine) IncreaseAmount(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	return e.mutate("increase_amount", func(now uint64) error {
		return e.ledger.IncreaseAmount(caller, amount, now)
	})
}

// IncreaseUnlockTime extends the lock of caller to end.
func (e *Engine) IncreaseUnlockTime(ctx context.Context, caller common.Address, end uint64) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	return e.mutate("increase_unlock_time", func(now uint64) error {
		return e.ledger.IncreaseUnlockTime(caller, end, now)
	})
}

// IncreaseAmountAndTime tops up and extends the lock of caller at once.
func (e *Engine) IncreaseAmountAndTime(ctx context.Context, caller common.Address, amount *uint256.Int, end uint64) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	return e.mutate("increase_amount_and_time", func(now uint64) error {
		return e.ledger.IncreaseAmountAndTime(caller, amount, end, now)
	})
}

// DepositFor tops up the lock of participant. Anyone may call it.
func (e *Engine) DepositFor(ctx context.Context, participant common.Address, amount *uint256.Int) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	return e.mutate("deposit_for", func(now uint64) error {
		return e.ledger.DepositFor(participant, amount, now)
	})
}

// Withdraw releases the expired lock of caller and returns the amount.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	if err := checkReentry(ctx); err != nil {
		return nil, err
	}
	var amount *uint256.Int
	err := e.mutate("withdraw", func(now uint64) error {
		var err error
		amount, err = e.ledger.Withdraw(caller, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// Checkpoint advances the global checkpoint by a bounded number of weeks.
// It reports the weeks advanced and whether the checkpoint caught up with
// the clock. Anyone may call it.
func (e *Engine) Checkpoint(ctx context.Context) (int, bool, error) {
	if err := checkReentry(ctx); err != nil {
		return 0, false, err
	}
	var (
		steps  int
		caught bool
	)
	err := e.mutate("checkpoint", func(now uint64) error {
		var err error
		steps, caught, err = e.ledger.Checkpoint(now)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	metrics.CheckpointSteps.Add(float64(steps))
	if steps > 0 {
		log.Escrow.Debug().Int("steps", steps).Bool("caughtUp", caught).Msg("checkpoint advanced")
	}
	return steps, caught, nil
}

// PendingCheckpointSteps reports how many weeks the global checkpoint lags.
func (e *Engine) PendingCheckpointSteps() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.PendingSteps(e.clock.Now())
}

// RecordActivity adds a signed activity delta for participant in the
// current epoch. Only the admin may report activity.
func (e *Engine) RecordActivity(ctx context.Context, caller, participant common.Address, delta *uint256.Int) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.mutate("record_activity", func(uint64) error {
		ep, err := e.clock.CurrentEpoch()
		if err != nil {
			return err
		}
		return e.tracker.Record(participant, ep, delta)
	})
}
