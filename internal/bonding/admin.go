package bonding

import (
	"context"
	"fmt"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/utilization"
	"github.com/eigerco/trustbond/pkg/log"
)

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// Admin returns the address holding the admin capability.
func (e *Engine) Admin() common.Address {
	return e.admin
}

// SetUtilizationFloors changes the floors for ratios evaluated from now on.
// Ratios of epochs already paid out are frozen and unaffected.
func (e *Engine) SetUtilizationFloors(ctx context.Context, caller common.Address, floors utilization.Floors) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.mutate("set_floors", func(uint64) error {
		if err := e.throttle.SetFloors(floors); err != nil {
			return err
		}
		e.floorsChanged = true
		log.Rewards.Info().Uint64("system", floors.SystemBps).Uint64("personal", floors.PersonalBps).Msg("utilization floors changed")
		return nil
	})
}

// SetNetActivityFeed replaces the source of net activity.
func (e *Engine) SetNetActivityFeed(ctx context.Context, caller common.Address, feed utilization.NetActivityFeed) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.mutate("set_feed", func(uint64) error {
		if err := e.throttle.SetFeed(feed); err != nil {
			return err
		}
		log.Rewards.Info().Str("feed", fmt.Sprintf("%T", feed)).Msg("net activity feed replaced")
		return nil
	})
}

// SetRewardCustody replaces the collaborator paying out claims.
func (e *Engine) SetRewardCustody(ctx context.Context, caller common.Address, custody rewards.RewardCustody) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.mutate("set_custody", func(uint64) error {
		if custody == nil {
			return rewards.ErrNilCustody
		}
		e.custody = custody
		log.Rewards.Info().Str("custody", fmt.Sprintf("%T", custody)).Msg("reward custody replaced")
		return nil
	})
}

// GlobalUnlock makes every lock withdrawable. It cannot be undone.
func (e *Engine) GlobalUnlock(ctx context.Context, caller common.Address) error {
	if err := checkReentry(ctx); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.mutate("global_unlock", func(uint64) error {
		e.ledger.SetGlobalUnlock()
		log.Escrow.Warn().Msg("escrow globally unlocked")
		return nil
	})
}
