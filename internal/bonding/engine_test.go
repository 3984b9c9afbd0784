package bonding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/emissions"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/metrics"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/store"
	"github.com/eigerco/trustbond/internal/utilization"
	"github.com/eigerco/trustbond/pkg/db"
	"github.com/eigerco/trustbond/pkg/db/pebble"
)

const (
	start = uint64(1704326400)
	week  = epochtime.Week
)

var (
	admin = addr(0xad)
	alice = addr(0xa1)
	bob   = addr(0xb0)
)

func addr(b byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = b
	return a
}

func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func testParams() Params {
	return Params{
		Admin: admin,
		Emissions: emissions.Params{
			StartTimestamp:        start,
			EpochLength:           week,
			BaseEmissionsPerEpoch: *uint256.NewInt(1_000_000),
			CliffIntervalEpochs:   52,
			RetentionFactor:       9_000,
		},
		Escrow: escrow.DefaultParams(),
		Floors: utilization.Floors{SystemBps: 5_000, PersonalBps: 5_000},
	}
}

type fixture struct {
	engine   *Engine
	clock    *clockwork.FakeClock
	treasury *rewards.Treasury
}

func newFixture(t *testing.T, params Params, opts ...Option) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epochtime.Time(start + 3600))
	treasury, err := rewards.NewTreasury(nil)
	require.NoError(t, err)
	require.NoError(t, treasury.Fund(uint256.NewInt(1_000_000_000)))

	e, err := New(params, treasury, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return &fixture{engine: e, clock: clock, treasury: treasury}
}

// toEpoch moves the clock an hour into ep.
func (f *fixture) toEpoch(ep epochtime.Epoch) {
	target := epochtime.Time(start + uint64(ep)*week + 3600)
	f.clock.Advance(target.Sub(f.clock.Now()))
}

func (f *fixture) lockMax(t *testing.T, p common.Address, amount *uint256.Int) {
	t.Helper()
	end := f.engine.Clock().Now() + 104*week
	require.NoError(t, f.engine.CreateLock(context.Background(), p, amount, end))
}

func TestNew_Validation(t *testing.T) {
	treasury, err := rewards.NewTreasury(nil)
	require.NoError(t, err)

	params := testParams()
	params.Admin = common.Address{}
	_, err = New(params, treasury)
	assert.ErrorIs(t, err, common.ErrZeroAddress)

	_, err = New(testParams(), nil)
	assert.ErrorIs(t, err, rewards.ErrNilCustody)

	params = testParams()
	params.Floors = utilization.Floors{SystemBps: 100, PersonalBps: 5_000}
	_, err = New(params, treasury)
	assert.ErrorIs(t, err, utilization.ErrInvalidFloor)

	params = testParams()
	params.Emissions.RetentionFactor = 10_001
	_, err = New(params, treasury)
	assert.ErrorIs(t, err, emissions.ErrInvalidRetentionFactor)
}

func TestEngine_BeforeStart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epochtime.Time(start - 10))
	treasury, err := rewards.NewTreasury(nil)
	require.NoError(t, err)
	e, err := New(testParams(), treasury, WithClock(clock))
	require.NoError(t, err)

	err = e.CreateLock(context.Background(), alice, tokens(1), start+10*week)
	assert.ErrorIs(t, err, epochtime.ErrBeforeStart)
	assert.Equal(t, KindTemporal, Classify(err))
}

func TestEngine_ClaimInGenesisEpoch(t *testing.T) {
	f := newFixture(t, testParams())
	f.lockMax(t, alice, tokens(1000))

	_, err := f.engine.Claim(context.Background(), alice, alice)
	assert.ErrorIs(t, err, rewards.ErrNoPreviousEpoch)

	claimable, err := f.engine.ClaimableRewards(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, claimable.IsZero())
}

func TestEngine_SoleLockerClaimsFullEmissions(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.lockMax(t, alice, tokens(1000))

	f.toEpoch(1)
	preview, err := f.engine.ClaimableRewards(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), preview.Uint64())

	record, err := f.engine.Claim(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, epochtime.Epoch(0), record.Epoch)
	assert.Equal(t, uint64(1_000_000), record.Amount.Uint64())
	assert.Equal(t, bob, record.Recipient)
	assert.Equal(t, utilizationFull, record.SystemUtilizationBps)
	assert.Equal(t, utilizationFull, record.PersonalUtilizationBps)
	assert.Equal(t, uint64(999_000_000), f.treasury.Balance().Uint64())

	receipt, ok := f.treasury.Receipt(record.Reference)
	require.True(t, ok)
	assert.Equal(t, bob, receipt.Recipient)

	_, err = f.engine.Claim(ctx, alice, bob)
	assert.ErrorIs(t, err, rewards.ErrAlreadyClaimed)
	assert.Equal(t, KindTemporal, Classify(err))

	preview, err = f.engine.ClaimableRewards(ctx, alice)
	require.NoError(t, err)
	assert.True(t, preview.IsZero())
}

func TestEngine_ClaimWithoutBalance(t *testing.T) {
	f := newFixture(t, testParams())
	f.lockMax(t, alice, tokens(1000))
	f.toEpoch(1)

	_, err := f.engine.Claim(context.Background(), bob, bob)
	assert.ErrorIs(t, err, rewards.ErrNoRewards)
	_, ok := f.engine.ClaimRecord(bob, 0)
	assert.False(t, ok)
}

func TestEngine_SharesAreProportional(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.lockMax(t, alice, tokens(300))
	f.lockMax(t, bob, tokens(100))

	f.toEpoch(1)
	a, err := f.engine.Claim(ctx, alice, alice)
	require.NoError(t, err)
	b, err := f.engine.Claim(ctx, bob, bob)
	require.NoError(t, err)

	assert.Equal(t, uint64(750_000), a.Amount.Uint64())
	assert.Equal(t, uint64(250_000), b.Amount.Uint64())
}

func TestEngine_CustodyFailureLeavesNoRecord(t *testing.T) {
	custody := rewards.NewCustodyMock()
	custody.On("Transfer", mock.Anything, alice, mock.Anything, mock.Anything).
		Return(rewards.ErrInsufficientCustodyBalance).Once()

	clock := clockwork.NewFakeClockAt(epochtime.Time(start + 3600))
	e, err := New(testParams(), custody, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.CreateLock(ctx, alice, tokens(10), start+104*week))

	clock.Advance(time.Duration(week) * time.Second)
	_, err = e.Claim(ctx, alice, alice)
	assert.ErrorIs(t, err, rewards.ErrInsufficientCustodyBalance)
	assert.Equal(t, KindResource, Classify(err))

	_, ok := e.ClaimRecord(alice, 0)
	assert.False(t, ok)
	assert.True(t, e.book.TotalClaimed(0).IsZero())

	custody.On("Transfer", mock.Anything, alice, mock.Anything, mock.Anything).Return(nil).Once()
	record, err := e.Claim(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), record.Amount.Uint64())
	custody.AssertExpectations(t)
}

func TestEngine_ReentrantCallsAreRejected(t *testing.T) {
	custody := rewards.NewCustodyMock()
	clock := clockwork.NewFakeClockAt(epochtime.Time(start + 3600))
	e, err := New(testParams(), custody, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.CreateLock(ctx, alice, tokens(10), start+104*week))

	var inner []error
	custody.On("Transfer", mock.Anything, alice, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cbCtx := args.Get(0).(context.Context)
			_, err := e.Claim(cbCtx, alice, alice)
			inner = append(inner, err)
			inner = append(inner, e.IncreaseAmount(cbCtx, alice, tokens(1)))
			_, err = e.Withdraw(cbCtx, alice)
			inner = append(inner, err)
			_, _, err = e.Checkpoint(cbCtx)
			inner = append(inner, err)
		}).
		Return(nil).Once()

	clock.Advance(time.Duration(week) * time.Second)
	_, err = e.Claim(ctx, alice, alice)
	require.NoError(t, err)

	require.Len(t, inner, 4)
	for _, err := range inner {
		assert.ErrorIs(t, err, ErrReentrantCall)
	}
	lock, ok := e.LockOf(alice)
	require.True(t, ok)
	assert.True(t, lock.Amount.Eq(tokens(10)))
}

func TestEngine_AdminCapability(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()

	err := f.engine.SetUtilizationFloors(ctx, alice, utilization.DefaultFloors())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindAuthorization, Classify(err))
	assert.ErrorIs(t, f.engine.SetNetActivityFeed(ctx, alice, utilization.NewFeedMock()), ErrUnauthorized)
	assert.ErrorIs(t, f.engine.SetRewardCustody(ctx, alice, rewards.NewCustodyMock()), ErrUnauthorized)
	assert.ErrorIs(t, f.engine.GlobalUnlock(ctx, alice), ErrUnauthorized)
	assert.ErrorIs(t, f.engine.RecordActivity(ctx, alice, alice, uint256.NewInt(1)), ErrUnauthorized)

	assert.ErrorIs(t, f.engine.SetNetActivityFeed(ctx, admin, nil), utilization.ErrNilFeed)
	assert.ErrorIs(t, f.engine.SetRewardCustody(ctx, admin, nil), rewards.ErrNilCustody)

	err = f.engine.SetUtilizationFloors(ctx, admin, utilization.Floors{SystemBps: 3_999, PersonalBps: 5_000})
	assert.ErrorIs(t, err, utilization.ErrInvalidFloor)
	assert.Equal(t, KindConfiguration, Classify(err))
	assert.Equal(t, testParams().Floors, f.engine.Floors())

	floors := utilization.Floors{SystemBps: 9_000, PersonalBps: 2_500}
	require.NoError(t, f.engine.SetUtilizationFloors(ctx, admin, floors))
	assert.Equal(t, floors, f.engine.Floors())
}

func TestEngine_AdminReplacementsAreRecorded(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	feedOK := metrics.OperationsTotal.WithLabelValues("set_feed", metrics.StatusSuccess)
	custodyOK := metrics.OperationsTotal.WithLabelValues("set_custody", metrics.StatusSuccess)
	custodyFailed := metrics.OperationsTotal.WithLabelValues("set_custody", metrics.StatusError)
	feeds, custodies, failures := testutil.ToFloat64(feedOK), testutil.ToFloat64(custodyOK), testutil.ToFloat64(custodyFailed)

	require.NoError(t, f.engine.SetNetActivityFeed(ctx, admin, utilization.NewFeedMock()))
	require.NoError(t, f.engine.SetRewardCustody(ctx, admin, rewards.NewCustodyMock()))
	assert.ErrorIs(t, f.engine.SetRewardCustody(ctx, admin, nil), rewards.ErrNilCustody)

	assert.Equal(t, feeds+1, testutil.ToFloat64(feedOK))
	assert.Equal(t, custodies+1, testutil.ToFloat64(custodyOK))
	assert.Equal(t, failures+1, testutil.ToFloat64(custodyFailed))
}

func TestEngine_GlobalUnlock(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.lockMax(t, alice, tokens(5))

	_, err := f.engine.Withdraw(ctx, alice)
	assert.ErrorIs(t, err, escrow.ErrLockNotExpired)

	require.NoError(t, f.engine.GlobalUnlock(ctx, admin))
	assert.True(t, f.engine.GloballyUnlocked())

	err = f.engine.CreateLock(ctx, bob, tokens(1), f.engine.Clock().Now()+10*week)
	assert.ErrorIs(t, err, escrow.ErrGloballyUnlocked)

	amount, err := f.engine.Withdraw(ctx, alice)
	require.NoError(t, err)
	assert.True(t, amount.Eq(tokens(5)))
	assert.True(t, f.engine.LockedSupply().IsZero())
}

func TestEngine_CheckpointLag(t *testing.T) {
	params := testParams()
	params.Escrow.MaxCheckpointSteps = 4
	f := newFixture(t, params)
	ctx := context.Background()

	f.toEpoch(10)
	assert.Equal(t, 10, f.engine.PendingCheckpointSteps())

	err := f.engine.CreateLock(ctx, alice, tokens(1), f.engine.Clock().Now()+10*week)
	assert.ErrorIs(t, err, escrow.ErrCheckpointLagging)
	assert.Equal(t, KindTemporal, Classify(err))

	steps, caught, err := f.engine.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, steps)
	assert.False(t, caught)

	steps, caught, err = f.engine.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, steps)
	assert.False(t, caught)

	require.NoError(t, f.engine.CreateLock(ctx, alice, tokens(1), f.engine.Clock().Now()+10*week))
	assert.Equal(t, 0, f.engine.PendingCheckpointSteps())
}

func TestEngine_UtilizationFreezesAtFirstClaim(t *testing.T) {
	feed := utilization.NewFeedMock()
	feed.On("SystemNetActivity", mock.Anything, epochtime.Epoch(2)).Return(new(uint256.Int), nil).Once()
	feed.On("PersonalNetActivity", mock.Anything, alice, epochtime.Epoch(2)).Return(new(uint256.Int), nil).Once()

	f := newFixture(t, testParams(), WithFeed(feed))
	ctx := context.Background()
	f.lockMax(t, alice, tokens(1000))

	for ep := epochtime.Epoch(1); ep <= 2; ep++ {
		f.toEpoch(ep)
		record, err := f.engine.Claim(ctx, alice, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), record.Amount.Uint64())
	}

	f.toEpoch(3)
	record, err := f.engine.Claim(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), record.SystemUtilizationBps)
	assert.Equal(t, uint64(5_000), record.PersonalUtilizationBps)
	assert.Equal(t, uint64(250_000), record.Amount.Uint64())

	require.NoError(t, f.engine.SetUtilizationFloors(ctx, admin, utilization.Floors{SystemBps: 8_000, PersonalBps: 8_000}))

	sys, err := f.engine.SystemUtilization(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), sys)
	personal, err := f.engine.PersonalUtilization(ctx, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), personal)
	feed.AssertExpectations(t)
}

func TestEngine_RecordedActivityThrottles(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.lockMax(t, alice, tokens(1000))

	f.toEpoch(1)
	_, err := f.engine.Claim(ctx, alice, alice)
	require.NoError(t, err)

	f.toEpoch(2)
	_, err = f.engine.Claim(ctx, alice, alice)
	require.NoError(t, err)
	require.NoError(t, f.engine.RecordActivity(ctx, admin, alice, uint256.NewInt(750_000)))

	f.toEpoch(3)
	sys, err := f.engine.SystemUtilization(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_500), sys)
	personal, err := f.engine.PersonalUtilization(ctx, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_500), personal)

	claimable, err := f.engine.ClaimableRewards(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(562_500), claimable.Uint64())
}

func TestEngine_StatusAndUnclaimed(t *testing.T) {
	f := newFixture(t, testParams())
	ctx := context.Background()
	f.lockMax(t, alice, tokens(100))
	f.lockMax(t, bob, tokens(100))

	f.toEpoch(1)
	_, err := f.engine.Claim(ctx, alice, alice)
	require.NoError(t, err)

	status := func(p common.Address, ep epochtime.Epoch) rewards.Status {
		s, err := f.engine.ClaimStatus(p, ep)
		require.NoError(t, err)
		return s
	}
	assert.Equal(t, rewards.Claimed, status(alice, 0))
	assert.Equal(t, rewards.Claimable, status(bob, 0))
	assert.Equal(t, rewards.Unclaimable, status(bob, 1))

	_, err = f.engine.UnclaimedRewards(0)
	assert.ErrorIs(t, err, rewards.ErrEpochNotExpired)

	f.toEpoch(2)
	assert.Equal(t, rewards.Expired, status(bob, 0))
	unclaimed, err := f.engine.UnclaimedRewards(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), unclaimed.Uint64())
}

func TestEngine_EpochQueries(t *testing.T) {
	f := newFixture(t, testParams())
	f.lockMax(t, alice, tokens(100))

	_, err := f.engine.TotalAt(0)
	assert.ErrorIs(t, err, epochtime.ErrEpochNotReached)

	f.toEpoch(1)
	total, err := f.engine.TotalAt(0)
	require.NoError(t, err)
	balance, err := f.engine.BalanceAt(alice, 0)
	require.NoError(t, err)
	assert.True(t, total.Eq(balance))
	assert.False(t, total.IsZero())

	// served from the cache on the second call
	again, err := f.engine.TotalAt(0)
	require.NoError(t, err)
	assert.True(t, total.Eq(again))
	assert.Equal(t, 1, f.engine.totals.Len())

	assert.True(t, f.engine.BalanceNow(alice).Lt(balance))
	cur, err := f.engine.CurrentEpoch()
	require.NoError(t, err)
	assert.Equal(t, epochtime.Epoch(1), cur)
}

func TestEngine_FarFutureEpochs(t *testing.T) {
	f := newFixture(t, testParams())
	f.lockMax(t, alice, tokens(100))
	f.toEpoch(3)

	for _, ep := range []epochtime.Epoch{math.MaxUint64, math.MaxUint64 - 1, math.MaxUint64 / epochtime.Epoch(week)} {
		_, err := f.engine.TotalAt(ep)
		assert.ErrorIs(t, err, epochtime.ErrEpochNotReached, "epoch %d", ep)
		_, err = f.engine.BalanceAt(alice, ep)
		assert.ErrorIs(t, err, epochtime.ErrEpochNotReached, "epoch %d", ep)
		_, err = f.engine.UnclaimedRewards(ep)
		assert.ErrorIs(t, err, rewards.ErrEpochNotExpired, "epoch %d", ep)
	}
	assert.Zero(t, f.engine.totals.Len())

	_, err := f.engine.UnclaimedRewards(2)
	assert.ErrorIs(t, err, rewards.ErrEpochNotExpired)
	unclaimed, err := f.engine.UnclaimedRewards(1)
	require.NoError(t, err)
	assert.False(t, unclaimed.IsZero())
}

func TestEngine_UserInfoAndAPY(t *testing.T) {
	params := testParams()
	params.Emissions.BaseEmissionsPerEpoch = *tokens(1)
	f := newFixture(t, params)
	ctx := context.Background()
	f.lockMax(t, alice, tokens(52))

	info, err := f.engine.UserInfo(ctx, alice)
	require.NoError(t, err)
	assert.True(t, info.EligibleRewards.IsZero())
	assert.True(t, info.LockedAmount.Eq(tokens(52)))
	assert.Equal(t, start+104*week, info.LockEnd)

	f.toEpoch(1)
	info, err = f.engine.UserInfo(ctx, alice)
	require.NoError(t, err)
	assert.True(t, info.EligibleRewards.Eq(tokens(1)))
	assert.True(t, info.MaxRewards.Eq(tokens(1)))
	assert.Equal(t, utilizationFull, info.PersonalUtilizationBps)

	apy, err := f.engine.UserAPY(ctx, alice)
	require.NoError(t, err)
	// one token a week over 52 locked, 52 weeks a year
	assert.Equal(t, uint64(10_000), apy.CurrentBps.Uint64())
	assert.Equal(t, uint64(10_000), apy.MaxBps.Uint64())

	apy, err = f.engine.UserAPY(ctx, bob)
	require.NoError(t, err)
	assert.True(t, apy.CurrentBps.IsZero())
}

func TestEngine_PersistsAndRestores(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	s := store.New(kv)

	f := newFixture(t, testParams(), WithStore(s))
	ctx := context.Background()
	f.lockMax(t, alice, tokens(300))
	f.lockMax(t, bob, tokens(100))
	f.toEpoch(1)
	claimed, err := f.engine.Claim(ctx, alice, alice)
	require.NoError(t, err)
	require.NoError(t, f.engine.RecordActivity(ctx, admin, bob, uint256.NewInt(42)))
	floors := utilization.Floors{SystemBps: 6_000, PersonalBps: 3_000}
	require.NoError(t, f.engine.SetUtilizationFloors(ctx, admin, floors))

	restored, err := New(testParams(), f.treasury, WithStore(s), WithClock(f.clock))
	require.NoError(t, err)

	assert.Equal(t, f.engine.ledger.Height(), restored.ledger.Height())
	assert.True(t, restored.LockedSupply().Eq(tokens(400)))
	lock, ok := restored.LockOf(bob)
	require.True(t, ok)
	assert.True(t, lock.Amount.Eq(tokens(100)))
	record, ok := restored.ClaimRecord(alice, 0)
	require.True(t, ok)
	assert.Equal(t, claimed, record)
	assert.Equal(t, floors, restored.Floors())
	assert.Equal(t, 1, len(restored.tracker.Participant(bob).Entries))

	_, err = restored.Claim(ctx, alice, alice)
	assert.ErrorIs(t, err, rewards.ErrAlreadyClaimed)

	params := testParams()
	params.Emissions.EpochLength = 2 * week
	_, err = New(params, f.treasury, WithStore(s), WithClock(f.clock))
	assert.ErrorIs(t, err, store.ErrGenesisMismatch)
}

// flakyKV fails batch commits while failing is set.
type flakyKV struct {
	db.KVStore
	failing atomic.Bool
}

func (f *flakyKV) NewBatch() db.Batch {
	return &flakyBatch{Batch: f.KVStore.NewBatch(), kv: f}
}

type flakyBatch struct {
	db.Batch
	kv *flakyKV
}

var errDiskFull = errors.New("disk full")

func (b *flakyBatch) Commit() error {
	if b.kv.failing.Load() {
		_ = b.Batch.Close()
		return errDiskFull
	}
	return b.Batch.Commit()
}

func TestEngine_FailedCommitRollsBack(t *testing.T) {
	inner, err := pebble.NewKVStore()
	require.NoError(t, err)
	kv := &flakyKV{KVStore: inner}
	s := store.New(kv)
	t.Cleanup(func() { _ = s.Close() })

	f := newFixture(t, testParams(), WithStore(s))
	ctx := context.Background()
	f.lockMax(t, alice, tokens(100))
	height := f.engine.ledger.Height()

	kv.failing.Store(true)
	err = f.engine.CreateLock(ctx, bob, tokens(50), f.engine.Clock().Now()+10*week)
	assert.ErrorIs(t, err, errDiskFull)
	_, ok := f.engine.LockOf(bob)
	assert.False(t, ok)
	assert.Equal(t, height, f.engine.ledger.Height())
	assert.True(t, f.engine.LockedSupply().Eq(tokens(100)))

	kv.failing.Store(false)
	require.NoError(t, f.engine.CreateLock(ctx, bob, tokens(50), f.engine.Clock().Now()+10*week))
	assert.True(t, f.engine.LockedSupply().Eq(tokens(150)))
}

func TestEngine_FailedClaimCommitLeavesTreasuryUntouched(t *testing.T) {
	inner, err := pebble.NewKVStore()
	require.NoError(t, err)
	kv := &flakyKV{KVStore: inner}
	s := store.New(kv)
	t.Cleanup(func() { _ = s.Close() })

	f := newFixture(t, testParams(), WithStore(s))
	ctx := context.Background()
	f.lockMax(t, alice, tokens(100))
	f.toEpoch(1)
	ref := rewards.NewReference(alice, 0, uint256.NewInt(1_000_000), bob)

	kv.failing.Store(true)
	_, err = f.engine.Claim(ctx, alice, bob)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, uint64(1_000_000_000), f.treasury.Balance().Uint64())
	_, ok := f.treasury.Receipt(ref)
	assert.False(t, ok)
	_, ok = f.engine.ClaimRecord(alice, 0)
	assert.False(t, ok)

	kv.failing.Store(false)
	record, err := f.engine.Claim(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, ref, record.Reference)
	assert.Equal(t, uint64(999_000_000), f.treasury.Balance().Uint64())
	_, ok = f.treasury.Receipt(ref)
	assert.True(t, ok)
}

func TestEngine_ClaimDebitsSharedTreasuryWithRecord(t *testing.T) {
	inner, err := pebble.NewKVStore()
	require.NoError(t, err)
	kv := &flakyKV{KVStore: inner}
	s := store.New(kv)
	t.Cleanup(func() { _ = s.Close() })

	treasury, err := rewards.NewTreasury(s)
	require.NoError(t, err)
	require.NoError(t, treasury.Fund(uint256.NewInt(1_000_000_000)))
	clock := clockwork.NewFakeClockAt(epochtime.Time(start + 3600))
	e, err := New(testParams(), treasury, WithClock(clock), WithStore(s))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.CreateLock(ctx, alice, tokens(100), start+104*week))
	clock.Advance(time.Duration(week) * time.Second)

	kv.failing.Store(true)
	_, err = e.Claim(ctx, alice, bob)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, uint64(1_000_000_000), treasury.Balance().Uint64())
	persisted, err := rewards.NewTreasury(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), persisted.Balance().Uint64())

	kv.failing.Store(false)
	record, err := e.Claim(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(999_000_000), treasury.Balance().Uint64())

	persisted, err = rewards.NewTreasury(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(999_000_000), persisted.Balance().Uint64())
	receipt, ok := persisted.Receipt(record.Reference)
	require.True(t, ok)
	assert.Equal(t, bob, receipt.Recipient)

	restored, err := New(testParams(), persisted, WithClock(clock), WithStore(s))
	require.NoError(t, err)
	stored, ok := restored.ClaimRecord(alice, 0)
	require.True(t, ok)
	assert.Equal(t, record, stored)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{escrow.ErrZeroAmount, KindPrecondition},
		{escrow.ErrLockTooLong, KindPrecondition},
		{ErrReentrantCall, KindPrecondition},
		{rewards.ErrEpochNotExpired, KindTemporal},
		{epochtime.ErrEpochNotReached, KindTemporal},
		{utilization.ErrInvalidFloor, KindConfiguration},
		{rewards.ErrInsufficientCustodyBalance, KindResource},
		{ErrUnauthorized, KindAuthorization},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.kind, Classify(tc.err))
		})
	}
}
