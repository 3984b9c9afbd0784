package rewards

import (
	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/safemath"
)

// RawShare is the portion of emissions owed to balance out of total, scaled
// by the system utilization. Everything is multiplied before the single
// division.
func RawShare(balance, total, emissions *uint256.Int, systemBps uint64) (*uint256.Int, error) {
	if total.IsZero() || balance.IsZero() {
		return new(uint256.Int), nil
	}
	numerator, err := safemath.Mul(emissions, uint256.NewInt(systemBps))
	if err != nil {
		return nil, err
	}
	denominator, err := safemath.Mul(total, uint256.NewInt(safemath.BasisPoints))
	if err != nil {
		return nil, err
	}
	return safemath.MulDiv(balance, numerator, denominator)
}

// ApplyPersonalUtilization scales a raw share by the personal utilization.
func ApplyPersonalUtilization(raw *uint256.Int, personalBps uint64) (*uint256.Int, error) {
	return safemath.MulBps(raw, personalBps)
}
