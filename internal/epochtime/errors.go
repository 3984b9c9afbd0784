package epochtime

import "errors"

var (
	// ErrBeforeStart is returned when converting a timestamp that precedes
	// the start of epoch 0.
	ErrBeforeStart = errors.New("timestamp is before the first epoch")

	// ErrMinEpochReached is returned when asking for the epoch before epoch 0.
	ErrMinEpochReached = errors.New("minimum epoch reached")

	// ErrEpochNotReached is returned when a query needs the end of an epoch
	// that has not finished yet.
	ErrEpochNotReached = errors.New("epoch not yet reached")

	ErrZeroEpochLength = errors.New("epoch length must be positive")
)
