package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/eigerco/trustbond/internal/crypto"
)

const AddressLength = 20

var (
	ErrZeroAddress    = errors.New("zero address")
	ErrInvalidAddress = errors.New("invalid address")
)

// Address identifies a participant or a reward recipient.
type Address [AddressLength]byte

var ZeroAddress Address

// ParseAddress parses a 0x-prefixed or bare 40 character hex string.
func ParseAddress(s string) (Address, error) {
	b, err := crypto.DecodeHex(s)
	if err != nil || len(b) != AddressLength {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// BytesToAddress uses the last 20 bytes of b.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) Bytes() []byte {
	return a[:]
}

// String returns the EIP-55 checksummed hex form.
func (a Address) String() string {
	lower := hex.EncodeToString(a[:])
	hash := crypto.KeccakData([]byte(lower))

	var sb strings.Builder
	sb.Grow(2 + len(lower))
	sb.WriteString("0x")
	for i, c := range []byte(lower) {
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
