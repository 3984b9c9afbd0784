package store

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/utilization"
	"github.com/eigerco/trustbond/pkg/db"
	"github.com/eigerco/trustbond/pkg/db/pebble"
	"github.com/eigerco/trustbond/pkg/log"
	"github.com/eigerco/trustbond/pkg/serialization/codec/jam"
)

var (
	metaGenesis  = []byte("genesis")
	metaUnlocked = []byte("unlocked")
	metaFloors   = []byte("floors")
)

// Store persists the engine state in a key-value store.
type Store struct {
	db     db.KVStore
	closed atomic.Bool
}

// New creates a Store using KVStore
func New(kv db.KVStore) *Store {
	return &Store{db: kv}
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// EnsureGenesis records the epoch clock parameters on first use and rejects
// a different clock afterwards.
func (s *Store) EnsureGenesis(start, epochLength uint64) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	key := makeKey(prefixMeta, metaGenesis)
	b, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		value, err := jam.Marshal(genesisRecord{Start: start, EpochLength: epochLength})
		if err != nil {
			return fmt.Errorf("encode genesis: %w", err)
		}
		return s.db.Put(key, value)
	}
	if err != nil {
		return fmt.Errorf("get genesis: %w", err)
	}
	stored, err := decodeRecord[genesisRecord](b)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if stored.Start != start || stored.EpochLength != epochLength {
		return fmt.Errorf("%w: stored start %d length %d, configured start %d length %d",
			ErrGenesisMismatch, stored.Start, stored.EpochLength, start, epochLength)
	}
	return nil
}

// Batch collects the writes of one engine operation.
type Batch struct {
	batch db.Batch
	err   error
}

func (s *Store) NewBatch() (*Batch, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	return &Batch{batch: s.db.NewBatch()}, nil
}

func (b *Batch) put(key, value []byte) {
	if b.err == nil {
		b.err = b.batch.Put(key, value)
	}
}

func (b *Batch) delete(key []byte) {
	if b.err == nil {
		b.err = b.batch.Delete(key)
	}
}

// PutLedger queues a ledger changeset.
func (b *Batch) PutLedger(cs escrow.Changeset) {
	for p, lock := range cs.Locks {
		if lock.IsZero() {
			b.delete(makeKey(prefixLock, p[:]))
			continue
		}
		b.putRecord(makeKey(prefixLock, p[:]), lock)
	}
	for _, up := range cs.UserPoints {
		b.putRecord(makeKey(prefixUserPoint, up.Participant[:], u64(up.Index)), up.Point)
	}
	for _, gp := range cs.GlobalPoints {
		b.putRecord(makeKey(prefixGlobalPoint, u64(gp.Index)), gp.Point)
	}
	for ts, d := range cs.SlopeChanges {
		if d.IsZero() {
			b.delete(makeKey(prefixSlopeChange, u64(ts)))
			continue
		}
		b.putRecord(makeKey(prefixSlopeChange, u64(ts)), d)
	}
	if cs.Unlocked {
		b.put(makeKey(prefixMeta, metaUnlocked), []byte{1})
	}
}

// PutClaims queues claim book changes.
func (b *Batch) PutClaims(c rewards.BookChanges) {
	for _, r := range c.Records {
		b.putRecord(makeKey(prefixClaim, u64(uint64(r.Epoch)), r.Participant[:]), r)
	}
	for e, total := range c.Totals {
		b.putRecord(makeKey(prefixEpochTotal, u64(uint64(e))), total)
	}
	for e, bps := range c.SystemBps {
		b.putRecord(makeKey(prefixEpochSystemUtilization, u64(uint64(e))), bps)
	}
}

// PutActivity queues activity tracker changes.
func (b *Batch) PutActivity(c utilization.TrackerChanges) {
	for _, entry := range c.System {
		b.putRecord(makeKey(prefixSystemActivity, u64(uint64(entry.Epoch))), entry.Cumulative)
	}
	for p, w := range c.Participants {
		b.putRecord(makeKey(prefixParticipantActivity, p[:]), w)
	}
}

// PutFloors queues the utilization floors in effect.
func (b *Batch) PutFloors(f utilization.Floors) {
	b.putRecord(makeKey(prefixMeta, metaFloors), f)
}

// Len is the number of queued writes.
func (b *Batch) Len() int {
	return b.batch.Len()
}

func (b *Batch) Commit() error {
	if b.err != nil {
		return fmt.Errorf("queue write: %w", b.err)
	}
	if b.batch.Len() == 0 {
		return b.batch.Close()
	}
	if err := b.batch.Commit(); err != nil {
		return fmt.Errorf(ErrFailedBatchCommit, err)
	}
	return nil
}

func (b *Batch) Close() error {
	return b.batch.Close()
}

// State is everything Load reads back.
type State struct {
	Ledger              escrow.Snapshot
	Claims              []rewards.ClaimRecord
	SystemActivity      []utilization.Entry
	ParticipantActivity map[common.Address]utilization.Window
	// Floors is nil until floors have been persisted.
	Floors *utilization.Floors
}

// Empty reports whether nothing has been persisted yet.
func (st State) Empty() bool {
	return len(st.Ledger.GlobalPoints) == 0
}

// Load reads the full engine state.
func (s *Store) Load() (State, error) {
	if s.closed.Load() {
		return State{}, ErrStoreClosed
	}
	st := State{
		Ledger: escrow.Snapshot{
			Locks:        make(map[common.Address]escrow.Lock),
			UserPoints:   make(map[common.Address][]escrow.Point),
			SlopeChanges: make(map[uint64]uint256.Int),
		},
		ParticipantActivity: make(map[common.Address]utilization.Window),
	}

	err := s.scan(prefixLock, func(key, value []byte) error {
		lock, err := decodeRecord[escrow.Lock](value)
		if err != nil {
			return err
		}
		st.Ledger.Locks[common.BytesToAddress(key)] = lock
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load locks: %w", err)
	}

	err = s.scan(prefixUserPoint, func(key, value []byte) error {
		if len(key) != common.AddressLength+8 {
			return fmt.Errorf("%w: user point key of %d bytes", ErrCorrupt, len(key))
		}
		p := common.BytesToAddress(key[:common.AddressLength])
		pt, err := decodeRecord[escrow.Point](value)
		if err != nil {
			return err
		}
		if idx := bigEndian(key[common.AddressLength:]); idx != uint64(len(st.Ledger.UserPoints[p])) {
			return fmt.Errorf("%w: user point %d of %s out of sequence", ErrCorrupt, idx, p)
		}
		st.Ledger.UserPoints[p] = append(st.Ledger.UserPoints[p], pt)
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load user points: %w", err)
	}

	err = s.scan(prefixGlobalPoint, func(key, value []byte) error {
		pt, err := decodeRecord[escrow.Point](value)
		if err != nil {
			return err
		}
		if idx := bigEndian(key); idx != uint64(len(st.Ledger.GlobalPoints)) {
			return fmt.Errorf("%w: global point %d out of sequence", ErrCorrupt, idx)
		}
		st.Ledger.GlobalPoints = append(st.Ledger.GlobalPoints, pt)
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load global points: %w", err)
	}

	err = s.scan(prefixSlopeChange, func(key, value []byte) error {
		d, err := decodeRecord[uint256.Int](value)
		if err != nil {
			return err
		}
		st.Ledger.SlopeChanges[bigEndian(key)] = d
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load slope changes: %w", err)
	}

	if _, err := s.db.Get(makeKey(prefixMeta, metaUnlocked)); err == nil {
		st.Ledger.Unlocked = true
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return State{}, fmt.Errorf("load unlock flag: %w", err)
	}

	if b, err := s.db.Get(makeKey(prefixMeta, metaFloors)); err == nil {
		f, err := decodeRecord[utilization.Floors](b)
		if err != nil {
			return State{}, fmt.Errorf("load floors: %w", err)
		}
		st.Floors = &f
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return State{}, fmt.Errorf("load floors: %w", err)
	}

	if st.Claims, err = s.loadClaims(); err != nil {
		return State{}, err
	}

	err = s.scan(prefixSystemActivity, func(key, value []byte) error {
		cum, err := decodeRecord[uint256.Int](value)
		if err != nil {
			return err
		}
		st.SystemActivity = append(st.SystemActivity, utilization.Entry{Epoch: epochtime.Epoch(bigEndian(key)), Cumulative: cum})
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load system activity: %w", err)
	}

	err = s.scan(prefixParticipantActivity, func(key, value []byte) error {
		w, err := decodeWindow(value)
		if err != nil {
			return err
		}
		st.ParticipantActivity[common.BytesToAddress(key)] = w
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load participant activity: %w", err)
	}

	log.Store.Debug().
		Int("locks", len(st.Ledger.Locks)).
		Int("globalPoints", len(st.Ledger.GlobalPoints)).
		Int("claims", len(st.Claims)).
		Msg("state loaded")
	return st, nil
}

// loadClaims reads every claim record and checks it against the stored
// epoch totals and frozen system ratios.
func (s *Store) loadClaims() ([]rewards.ClaimRecord, error) {
	var claims []rewards.ClaimRecord
	totals := make(map[epochtime.Epoch]*uint256.Int)
	ratios := make(map[epochtime.Epoch]uint64)
	err := s.scan(prefixClaim, func(_, value []byte) error {
		r, err := decodeRecord[rewards.ClaimRecord](value)
		if err != nil {
			return err
		}
		claims = append(claims, r)
		ratios[r.Epoch] = r.SystemUtilizationBps
		if totals[r.Epoch] == nil {
			totals[r.Epoch] = new(uint256.Int)
		}
		totals[r.Epoch].Add(totals[r.Epoch], &r.Amount)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}

	stored := 0
	err = s.scan(prefixEpochTotal, func(key, value []byte) error {
		e := epochtime.Epoch(bigEndian(key))
		total, err := decodeRecord[uint256.Int](value)
		if err != nil {
			return err
		}
		if sum := totals[e]; sum == nil || !sum.Eq(&total) {
			return fmt.Errorf("%w: claimed total of epoch %d", ErrCorrupt, e)
		}
		stored++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load epoch totals: %w", err)
	}
	if stored != len(totals) {
		return nil, fmt.Errorf("%w: %d epoch totals for %d claimed epochs", ErrCorrupt, stored, len(totals))
	}

	err = s.scan(prefixEpochSystemUtilization, func(key, value []byte) error {
		e := epochtime.Epoch(bigEndian(key))
		frozen, err := decodeRecord[uint64](value)
		if err != nil {
			return err
		}
		if bps, ok := ratios[e]; !ok || bps != frozen {
			return fmt.Errorf("%w: system utilization of epoch %d", ErrCorrupt, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load epoch utilization: %w", err)
	}
	return claims, nil
}

// scan calls fn for every record under prefix, in key order, with the
// prefix stripped from the key.
func (s *Store) scan(prefix byte, fn func(key, value []byte) error) error {
	start := []byte{prefix}
	iter, err := s.db.NewIterator(start, db.PrefixEnd(start))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.Next() {
		value, err := iter.Value()
		if err != nil {
			return err
		}
		if err := fn(iter.Key()[1:], value); err != nil {
			return err
		}
	}
	return nil
}
