package emissions

import (
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/trustbond/internal/epochtime"
)

func testParams() Params {
	return Params{
		StartTimestamp:        1704326400,
		EpochLength:           epochtime.Week,
		BaseEmissionsPerEpoch: *uint256.NewInt(1_000_000),
		CliffIntervalEpochs:   52,
		RetentionFactor:       9_500,
	}
}

// naiveEmissions is the reference loop the cache must reproduce.
func naiveEmissions(p Params, e uint64) *uint256.Int {
	v := p.BaseEmissionsPerEpoch.Clone()
	for i := uint64(0); i < e/p.CliffIntervalEpochs; i++ {
		v.Mul(v, uint256.NewInt(p.RetentionFactor))
		v.Div(v, uint256.NewInt(10_000))
	}
	return v
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr error
	}{
		{"valid", func(p *Params) {}, nil},
		{"retention above 100%", func(p *Params) { p.RetentionFactor = 10_001 }, ErrInvalidRetentionFactor},
		{"zero cliff interval", func(p *Params) { p.CliffIntervalEpochs = 0 }, ErrZeroCliffInterval},
		{"zero epoch length", func(p *Params) { p.EpochLength = 0 }, ErrZeroEpochLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			_, err = NewSchedule(p)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSchedule_Cliffs(t *testing.T) {
	s, err := NewSchedule(testParams())
	require.NoError(t, err)

	tests := []struct {
		from, to epochtime.Epoch
		want     uint64
	}{
		{0, 51, 1_000_000},
		{52, 103, 950_000},
		{104, 155, 902_500},
		{156, 156, 857_375},
	}
	for _, tc := range tests {
		for e := tc.from; e <= tc.to; e++ {
			require.Equal(t, tc.want, s.EmissionsAt(e).Uint64(), "epoch %d", e)
		}
	}
}

func TestSchedule_MatchesNaiveLoop(t *testing.T) {
	p := testParams()
	p.BaseEmissionsPerEpoch = *uint256.MustFromDecimal("1000000000000000000000000")
	p.RetentionFactor = 9_137
	p.CliffIntervalEpochs = 3

	s, err := NewSchedule(p)
	require.NoError(t, err)

	// Query out of order so the cache is resumed from different cliffs.
	epochs := []uint64{900, 3, 450, 0, 1500, 2, 899, 6000, 61, 9000}
	for _, e := range epochs {
		assert.Equal(t, naiveEmissions(p, e), s.EmissionsAt(epochtime.Epoch(e)), "epoch %d", e)
	}
}

func TestSchedule_NonIncreasing(t *testing.T) {
	s, err := NewSchedule(testParams())
	require.NoError(t, err)

	prev := s.EmissionsAt(0)
	for e := epochtime.Epoch(1); e < 52*60; e++ {
		cur := s.EmissionsAt(e)
		require.False(t, cur.Gt(prev), "emissions increased at epoch %d", e)
		prev = cur
	}
}

func TestSchedule_DecaysToZero(t *testing.T) {
	p := testParams()
	p.BaseEmissionsPerEpoch = *uint256.NewInt(10)
	p.RetentionFactor = 5_000
	p.CliffIntervalEpochs = 1

	s, err := NewSchedule(p)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), s.EmissionsAt(1).Uint64())
	assert.Equal(t, uint64(2), s.EmissionsAt(2).Uint64())
	assert.Equal(t, uint64(1), s.EmissionsAt(3).Uint64())
	assert.True(t, s.EmissionsAt(4).IsZero())
	assert.True(t, s.EmissionsAt(1<<40).IsZero())
}

func TestSchedule_EdgeRetentions(t *testing.T) {
	p := testParams()
	p.RetentionFactor = 10_000
	s, err := NewSchedule(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), s.EmissionsAt(1<<62).Uint64())

	p.RetentionFactor = 0
	s, err = NewSchedule(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), s.EmissionsAt(51).Uint64())
	assert.True(t, s.EmissionsAt(52).IsZero())
}

func TestSchedule_ReturnsCopies(t *testing.T) {
	s, err := NewSchedule(testParams())
	require.NoError(t, err)

	v := s.EmissionsAt(60)
	v.SetUint64(1)
	assert.Equal(t, uint64(950_000), s.EmissionsAt(60).Uint64())
}

func TestSchedule_ConcurrentQueries(t *testing.T) {
	p := testParams()
	p.CliffIntervalEpochs = 1
	p.RetentionFactor = 9_990
	s, err := NewSchedule(p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset uint64) {
			defer wg.Done()
			for e := offset; e < 2000; e += 8 {
				assert.Equal(t, naiveEmissions(p, e), s.EmissionsAt(epochtime.Epoch(e)))
			}
		}(uint64(w))
	}
	wg.Wait()
}

func TestSchedule_EmissionsBetween(t *testing.T) {
	s, err := NewSchedule(testParams())
	require.NoError(t, err)

	total, err := s.EmissionsBetween(50, 53)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*1_000_000+2*950_000), total.Uint64())
}
