package rewards

import "errors"

var (
	ErrNoPreviousEpoch            = errors.New("no previous epoch to claim")
	ErrAlreadyClaimed             = errors.New("rewards already claimed for epoch")
	ErrNoRewards                  = errors.New("no eligible rewards")
	ErrEpochNotExpired            = errors.New("epoch claim window has not expired")
	ErrInsufficientCustodyBalance = errors.New("insufficient custody balance")
	ErrNilCustody                 = errors.New("reward custody is nil")
	ErrReferenceConflict          = errors.New("transfer reference reused with different terms")
)
