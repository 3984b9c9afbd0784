package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"prefixed", "0x635bBD1367B66E7B16a21D6E5A63C812fFC00617", false},
		{"bare lower", "635bbd1367b66e7b16a21d6e5a63c812ffc00617", false},
		{"too short", "0x635bbd", true},
		{"not hex", "0xzz5bbd1367b66e7b16a21d6e5a63c812ffc00617", true},
		{"empty", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAddress(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAddress_StringChecksum(t *testing.T) {
	// EIP-55 reference vectors
	for _, s := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	} {
		a, err := ParseAddress(s)
		require.NoError(t, err)
		assert.Equal(t, s, a.String())
	}
}

func TestAddress_JSON(t *testing.T) {
	a := MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	b, err := json.Marshal(map[string]Address{"participant": a})
	require.NoError(t, err)
	assert.JSONEq(t, `{"participant":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`, string(b))

	var out map[string]Address
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, a, out["participant"])
}

func TestBytesToAddress(t *testing.T) {
	a := BytesToAddress([]byte{0x01, 0x02})
	assert.Equal(t, byte(0x01), a[18])
	assert.Equal(t, byte(0x02), a[19])
	assert.False(t, a.IsZero())
	assert.True(t, ZeroAddress.IsZero())
}
