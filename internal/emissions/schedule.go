package emissions

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/safemath"
)

// Schedule maps an epoch to its maximum emission. Every cliff multiplies the
// running value by RetentionFactor/10000 and truncates, so reductions
// compound discretely. Results for already computed cliffs are cached; the
// cache only shortcuts the loop and yields identical values.
type Schedule struct {
	params Params

	mtx          sync.RWMutex
	cache        map[uint64]uint256.Int
	cachedCliffs []uint64
	// zeroFrom is the first cliff count at which emissions reached zero, or 0
	// while unknown.
	zeroFrom uint64
}

func NewSchedule(params Params) (*Schedule, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	const prealloc = 8
	cache := make(map[uint64]uint256.Int, prealloc)
	cache[0] = params.BaseEmissionsPerEpoch
	return &Schedule{
		params:       params,
		cache:        cache,
		cachedCliffs: make([]uint64, 1, prealloc),
	}, nil
}

func (s *Schedule) Params() Params {
	return s.params
}

// CliffsAt returns how many reductions apply at epoch e.
func (s *Schedule) CliffsAt(e epochtime.Epoch) uint64 {
	return uint64(e) / s.params.CliffIntervalEpochs
}

// EmissionsAt returns the maximum emission for epoch e.
func (s *Schedule) EmissionsAt(e epochtime.Epoch) *uint256.Int {
	reqCliffs := s.CliffsAt(e)
	if reqCliffs == 0 || s.params.RetentionFactor == safemath.BasisPoints {
		return s.params.BaseEmissionsPerEpoch.Clone()
	}

	s.mtx.RLock()
	if v, ok := s.cache[reqCliffs]; ok {
		s.mtx.RUnlock()
		return v.Clone()
	}
	if s.zeroFrom != 0 && reqCliffs >= s.zeroFrom {
		s.mtx.RUnlock()
		return new(uint256.Int)
	}
	// Resume from the closest cached cliff below the request.
	idx := sort.Search(len(s.cachedCliffs), func(i int) bool {
		return s.cachedCliffs[i] >= reqCliffs
	})
	fromCliff := s.cachedCliffs[idx-1]
	value := s.cache[fromCliff]
	s.mtx.RUnlock()

	retention := uint256.NewInt(s.params.RetentionFactor)
	denominator := uint256.NewInt(safemath.BasisPoints)
	for c := fromCliff; c < reqCliffs; c++ {
		next, _ := new(uint256.Int).MulDivOverflow(&value, retention, denominator)
		value = *next
		if value.IsZero() {
			s.mtx.Lock()
			if s.zeroFrom == 0 || c+1 < s.zeroFrom {
				s.zeroFrom = c + 1
			}
			s.mtx.Unlock()
			return new(uint256.Int)
		}
	}

	s.mtx.Lock()
	if _, ok := s.cache[reqCliffs]; !ok {
		s.cache[reqCliffs] = value
		s.cachedCliffs = append(s.cachedCliffs, reqCliffs)
		sort.Slice(s.cachedCliffs, func(i, j int) bool { return s.cachedCliffs[i] < s.cachedCliffs[j] })
	}
	s.mtx.Unlock()
	return value.Clone()
}

// EmissionsBetween sums EmissionsAt over [from, to].
func (s *Schedule) EmissionsBetween(from, to epochtime.Epoch) (*uint256.Int, error) {
	total := new(uint256.Int)
	for e := from; e <= to; e++ {
		sum, err := safemath.Add(total, s.EmissionsAt(e))
		if err != nil {
			return nil, err
		}
		total = sum
	}
	return total, nil
}
