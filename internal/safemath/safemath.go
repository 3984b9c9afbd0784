package safemath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator of every ratio expressed in bps.
const BasisPoints uint64 = 10_000

var (
	ErrOverflow       = errors.New("number overflow")
	ErrUnderflow      = errors.New("number underflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrInvalidNumber  = errors.New("invalid number")
)

func Add(a, b *uint256.Int) (*uint256.Int, error) {
	v, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	v, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return v, nil
}

// SubFloor returns a-b, or zero when b > a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	v, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// MulDiv computes floor(x*y/d) with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	v, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// MulBps computes floor(x*bps/10000).
func MulBps(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(x, uint256.NewInt(bps), uint256.NewInt(BasisPoints))
}

// ClampBps bounds v to [lo, hi].
func ClampBps(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Signed values are int256 in two's complement, as on the EVM.

func IsNegative(x *uint256.Int) bool {
	return x.Sign() < 0
}

func Abs(x *uint256.Int) *uint256.Int {
	if IsNegative(x) {
		return new(uint256.Int).Neg(x)
	}
	return x.Clone()
}

func FromInt64(v int64) *uint256.Int {
	if v < 0 {
		return new(uint256.Int).Neg(uint256.NewInt(uint64(-v)))
	}
	return uint256.NewInt(uint64(v))
}

// ParseSigned parses a decimal string with an optional sign.
func ParseSigned(s string) (*uint256.Int, error) {
	negative := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	magnitude, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if IsNegative(magnitude) {
		return nil, fmt.Errorf("%w: %q out of int256 range", ErrInvalidNumber, s)
	}
	if negative {
		return magnitude.Neg(magnitude), nil
	}
	return magnitude, nil
}

func FormatSigned(x *uint256.Int) string {
	if IsNegative(x) {
		return "-" + Abs(x).Dec()
	}
	return x.Dec()
}

// ParseAmount parses an unsigned decimal amount.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return v, nil
}
