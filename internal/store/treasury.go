package store

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/pkg/db/pebble"
)

var treasuryBalanceKey = makeKey(prefixTreasuryBalance)

// PutTreasury writes the treasury balance and, when given, a payout receipt
// in one batch.
func (s *Store) PutTreasury(balance *uint256.Int, ref *rewards.Reference, receipt *rewards.Receipt) error {
	b, err := s.NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()

	b.PutTreasury(balance, ref, receipt)
	return b.Commit()
}

// PutTreasury queues the treasury balance and, when given, a payout receipt.
func (b *Batch) PutTreasury(balance *uint256.Int, ref *rewards.Reference, receipt *rewards.Receipt) {
	b.putRecord(treasuryBalanceKey, *balance)
	if ref != nil && receipt != nil {
		b.putRecord(makeKey(prefixTreasuryReceipt, ref[:]), *receipt)
	}
}

func (s *Store) LoadTreasury() (*uint256.Int, map[rewards.Reference]rewards.Receipt, error) {
	if s.closed.Load() {
		return nil, nil, ErrStoreClosed
	}
	balance := new(uint256.Int)
	b, err := s.db.Get(treasuryBalanceKey)
	switch {
	case err == nil:
		v, err := decodeRecord[uint256.Int](b)
		if err != nil {
			return nil, nil, fmt.Errorf("treasury balance: %w", err)
		}
		balance = &v
	case !errors.Is(err, pebble.ErrNotFound):
		return nil, nil, fmt.Errorf("get treasury balance: %w", err)
	}

	receipts := make(map[rewards.Reference]rewards.Receipt)
	err = s.scan(prefixTreasuryReceipt, func(key, value []byte) error {
		var ref rewards.Reference
		if len(key) != len(ref) {
			return fmt.Errorf("%w: receipt key of %d bytes", ErrCorrupt, len(key))
		}
		copy(ref[:], key)
		r, err := decodeRecord[rewards.Receipt](value)
		if err != nil {
			return err
		}
		receipts[ref] = r
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load receipts: %w", err)
	}
	return balance, receipts, nil
}
