package bonding

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/emissions"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/metrics"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/store"
	"github.com/eigerco/trustbond/internal/utilization"
	"github.com/eigerco/trustbond/pkg/log"
)

const DefaultTotalCacheSize = 1024

type Params struct {
	// Admin holds the capability for the administrative setters.
	Admin     common.Address
	Emissions emissions.Params
	Escrow    escrow.Params
	// Floors apply until floors are changed at runtime, after which the
	// persisted floors win.
	Floors utilization.Floors
	// TotalCacheSize bounds the cache of settled epoch totals.
	TotalCacheSize int
}

type options struct {
	clock clockwork.Clock
	store *store.Store
	feed  utilization.NetActivityFeed
}

type Option func(*options)

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStore persists every operation. Without it the engine is in-memory.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithFeed replaces the built-in activity tracker as the source of net
// activity. Activity recorded through the engine is still tracked.
func WithFeed(f utilization.NetActivityFeed) Option {
	return func(o *options) { o.feed = f }
}

// Engine is the single serialization point of the system. Mutations hold
// the write lock for their full duration, queries the read lock.
type Engine struct {
	mu sync.RWMutex

	admin        common.Address
	configFloors utilization.Floors
	clock        *epochtime.Clock
	schedule     *emissions.Schedule
	ledger       *escrow.Ledger
	tracker      *utilization.Tracker
	throttle     *utilization.Throttle
	book         *rewards.Book
	custody      rewards.RewardCustody
	store        *store.Store

	// totals caches TotalAt for epochs that ended strictly before now.
	totals *lru.Cache
	// floorsChanged marks floors set at runtime and not yet persisted.
	floorsChanged bool
	// staged is the treasury debit of the claim being committed.
	staged *rewards.StagedTransfer
	// fault is set when a failed commit could not be rolled back.
	fault error
}

func New(params Params, custody rewards.RewardCustody, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if params.Admin.IsZero() {
		return nil, fmt.Errorf("admin: %w", common.ErrZeroAddress)
	}
	if custody == nil {
		return nil, rewards.ErrNilCustody
	}

	schedule, err := emissions.NewSchedule(params.Emissions)
	if err != nil {
		return nil, fmt.Errorf("emissions: %w", err)
	}
	clock, err := epochtime.NewClock(params.Emissions.StartTimestamp, params.Emissions.EpochLength, o.clock)
	if err != nil {
		return nil, err
	}
	ledger, err := escrow.NewLedger(params.Escrow, clock.Start())
	if err != nil {
		return nil, err
	}
	tracker := utilization.NewTracker()
	feed := o.feed
	if feed == nil {
		feed = tracker
	}
	throttle, err := utilization.NewThrottle(params.Floors, feed)
	if err != nil {
		return nil, err
	}
	size := params.TotalCacheSize
	if size <= 0 {
		size = DefaultTotalCacheSize
	}
	totals, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		admin:        params.Admin,
		configFloors: params.Floors,
		clock:        clock,
		schedule:     schedule,
		ledger:       ledger,
		tracker:      tracker,
		throttle:     throttle,
		book:         rewards.NewBook(),
		custody:      custody,
		store:        o.store,
		totals:       totals,
	}
	if e.store == nil {
		e.discardPending()
		return e, nil
	}

	if err := e.store.EnsureGenesis(clock.Start(), clock.Length()); err != nil {
		return nil, err
	}
	st, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	if st.Empty() {
		if err := e.persist(); err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		log.Root.Info().Uint64("start", clock.Start()).Uint64("epochLength", clock.Length()).Msg("store initialized")
		return e, nil
	}
	if err := e.restore(st); err != nil {
		return nil, err
	}
	log.Root.Info().Uint64("height", e.ledger.Height()).Int("claims", len(st.Claims)).Msg("state restored")
	return e, nil
}

// Clock returns the epoch clock of the engine.
func (e *Engine) Clock() *epochtime.Clock {
	return e.clock
}

// Schedule returns the emissions schedule of the engine.
func (e *Engine) Schedule() *emissions.Schedule {
	return e.schedule
}

func (e *Engine) restore(st store.State) error {
	if err := e.ledger.Restore(st.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := e.book.Restore(st.Claims); err != nil {
		return fmt.Errorf("restore claims: %w", err)
	}
	e.tracker.Restore(st.SystemActivity, st.ParticipantActivity)
	floors := e.configFloors
	if st.Floors != nil {
		floors = *st.Floors
	}
	if err := e.throttle.SetFloors(floors); err != nil {
		return fmt.Errorf("restore floors: %w", err)
	}
	e.totals.Purge()
	return nil
}

func (e *Engine) discardPending() {
	e.ledger.Drain()
	e.book.Drain()
	e.tracker.Drain()
	e.floorsChanged = false
}

// persist writes every pending change in one batch. Must hold the write lock.
func (e *Engine) persist() error {
	if e.store == nil {
		e.discardPending()
		return nil
	}
	start := time.Now()
	defer metrics.RecordPersist(start)

	b, err := e.store.NewBatch()
	if err != nil {
		e.discardPending()
		return err
	}
	defer b.Close()

	b.PutLedger(e.ledger.Drain())
	b.PutClaims(e.book.Drain())
	b.PutActivity(e.tracker.Drain())
	if e.floorsChanged {
		b.PutFloors(e.throttle.Floors())
		e.floorsChanged = false
	}
	if e.staged != nil && e.staged.Persisted() {
		b.PutTreasury(&e.staged.Balance, &e.staged.Ref, &e.staged.Receipt)
	}
	return b.Commit()
}

// commit persists the pending changes of op. On failure the in-memory state
// is reloaded from the store so that nothing of op remains.
func (e *Engine) commit(op string) error {
	err := e.persist()
	e.settleStaged(err == nil)
	if err == nil {
		return nil
	}
	log.Store.Error().Err(err).Str("operation", op).Msg("commit failed, reloading state")
	st, loadErr := e.store.Load()
	if loadErr == nil {
		loadErr = e.restore(st)
	}
	if loadErr != nil {
		e.fault = fmt.Errorf("%w: %v", ErrInconsistent, loadErr)
		log.Store.Error().Err(loadErr).Msg("reload failed, engine halted")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// settleStaged applies or drops the staged treasury debit.
func (e *Engine) settleStaged(committed bool) {
	if e.staged == nil {
		return
	}
	if committed {
		e.staged.Apply()
	} else {
		e.staged.Abort()
	}
	e.staged = nil
}

// treasuryStore is the engine store as seen by a treasury.
func (e *Engine) treasuryStore() rewards.TreasuryStore {
	if e.store == nil {
		return nil
	}
	return e.store
}

// mutate runs fn under the write lock and commits its effects. fn must leave
// the state untouched when it fails.
func (e *Engine) mutate(op string, fn func(now uint64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.mutateLocked(op, fn)
	metrics.RecordOperation(op, err)
	return err
}

func (e *Engine) mutateLocked(op string, fn func(now uint64) error) error {
	if e.fault != nil {
		return e.fault
	}
	now := e.clock.Now()
	if now < e.clock.Start() {
		return fmt.Errorf("%w: now %d, start %d", epochtime.ErrBeforeStart, now, e.clock.Start())
	}
	if err := fn(now); err != nil {
		log.Escrow.Warn().Err(err).Str("operation", op).Msg("operation rejected")
		return err
	}
	if err := e.commit(op); err != nil {
		return err
	}
	log.Escrow.Debug().Str("operation", op).Uint64("height", e.ledger.Height()).Msg("operation committed")
	return nil
}

// totalAt returns the total balance at the end of ep. Must hold a lock.
func (e *Engine) totalAt(ep epochtime.Epoch) *uint256.Int {
	end := e.clock.EpochEnd(ep)
	if v, ok := e.totals.Get(ep); ok {
		return v.(*uint256.Int).Clone()
	}
	total := e.ledger.TotalAtTime(end)
	if end < e.clock.Now() {
		e.totals.Add(ep, total.Clone())
	}
	return total
}
