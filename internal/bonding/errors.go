package bonding

import (
	"context"
	"errors"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/safemath"
	"github.com/eigerco/trustbond/internal/utilization"
)

var (
	ErrUnauthorized  = errors.New("caller lacks admin capability")
	ErrReentrantCall = errors.New("operation already in progress")
	ErrInconsistent  = errors.New("engine state could not be reloaded after a failed commit")
)

// Kind classifies engine errors for callers that present or route them.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindPrecondition is an invalid argument or a lock in the wrong state.
	KindPrecondition
	// KindTemporal means the operation is not allowed at this point in time.
	KindTemporal
	// KindConfiguration is an out of range or missing setting.
	KindConfiguration
	// KindResource means a collaborator lacks the funds to proceed.
	KindResource
	// KindAuthorization means the caller may not perform the operation.
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindTemporal:
		return "temporal"
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindAuthorization, []error{ErrUnauthorized}},
	{KindResource, []error{rewards.ErrInsufficientCustodyBalance}},
	{KindConfiguration, []error{
		utilization.ErrInvalidFloor,
		utilization.ErrNilFeed,
		rewards.ErrNilCustody,
		escrow.ErrInvalidParams,
	}},
	{KindTemporal, []error{
		epochtime.ErrBeforeStart,
		epochtime.ErrEpochNotReached,
		epochtime.ErrMinEpochReached,
		rewards.ErrNoPreviousEpoch,
		rewards.ErrAlreadyClaimed,
		rewards.ErrEpochNotExpired,
		escrow.ErrCheckpointLagging,
		escrow.ErrTimeRegression,
		utilization.ErrActivityHistoryExpired,
		utilization.ErrActivityOutOfOrder,
	}},
	{KindPrecondition, []error{
		common.ErrZeroAddress,
		common.ErrInvalidAddress,
		escrow.ErrZeroAmount,
		escrow.ErrLockExists,
		escrow.ErrNoLock,
		escrow.ErrLockExpired,
		escrow.ErrLockNotExpired,
		escrow.ErrUnlockTimeInPast,
		escrow.ErrUnlockTimeNotIncreasing,
		escrow.ErrLockTooShort,
		escrow.ErrLockTooLong,
		escrow.ErrGloballyUnlocked,
		escrow.ErrOverflow,
		rewards.ErrNoRewards,
		rewards.ErrReferenceConflict,
		safemath.ErrInvalidNumber,
		safemath.ErrOverflow,
		ErrReentrantCall,
	}},
}

// Classify determines the kind of an engine error.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

type guardKey struct{}

// guarded marks ctx as belonging to an engine operation in progress.
func guarded(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{}, struct{}{})
}

// checkReentry rejects calls made from inside a collaborator callback.
func checkReentry(ctx context.Context) error {
	if ctx.Value(guardKey{}) != nil {
		return ErrReentrantCall
	}
	return nil
}
