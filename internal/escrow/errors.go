package escrow

import "errors"

var (
	ErrZeroAmount              = errors.New("amount must be positive")
	ErrLockExists              = errors.New("lock already exists")
	ErrNoLock                  = errors.New("no existing lock")
	ErrLockExpired             = errors.New("lock expired")
	ErrLockNotExpired          = errors.New("lock has not expired")
	ErrUnlockTimeInPast        = errors.New("unlock time must be in the future")
	ErrUnlockTimeNotIncreasing = errors.New("unlock time must be later than the current lock end")
	ErrLockTooShort            = errors.New("lock duration below minimum")
	ErrLockTooLong             = errors.New("lock duration above maximum")
	ErrGloballyUnlocked        = errors.New("escrow is globally unlocked")
	ErrCheckpointLagging       = errors.New("global checkpoint lags behind, run checkpoint first")
	ErrTimeRegression          = errors.New("timestamp precedes the latest checkpoint")
	ErrInvalidParams           = errors.New("invalid escrow parameters")
	ErrOverflow                = errors.New("amount overflow")
)
