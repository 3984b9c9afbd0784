package emissions

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/safemath"
)

var (
	ErrInvalidRetentionFactor = errors.New("retention factor must not exceed 10000 bps")
	ErrZeroCliffInterval      = errors.New("cliff interval must be positive")
	ErrZeroEpochLength        = errors.New("epoch length must be positive")
)

// Params are fixed after initialization.
type Params struct {
	StartTimestamp        uint64
	EpochLength           uint64
	BaseEmissionsPerEpoch uint256.Int
	// CliffIntervalEpochs is the number of epochs between reductions.
	CliffIntervalEpochs uint64
	// RetentionFactor is 10000 minus the per-cliff reduction, in bps.
	RetentionFactor uint64
}

func (p Params) Validate() error {
	if p.EpochLength == 0 {
		return ErrZeroEpochLength
	}
	if p.CliffIntervalEpochs == 0 {
		return ErrZeroCliffInterval
	}
	if p.RetentionFactor > safemath.BasisPoints {
		return fmt.Errorf("%w: %d", ErrInvalidRetentionFactor, p.RetentionFactor)
	}
	return nil
}
