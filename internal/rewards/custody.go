package rewards

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/crypto"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/safemath"
)

// Reference identifies a reward transfer. Custodies use it to make retries
// of the same claim idempotent.
type Reference = crypto.Hash

// NewReference derives the transfer reference of a claim.
func NewReference(p common.Address, e epochtime.Epoch, amount *uint256.Int, recipient common.Address) Reference {
	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], uint64(e))
	value := amount.Bytes32()
	return crypto.HashData(p.Bytes(), epoch[:], value[:], recipient.Bytes())
}

// RewardCustody moves reward funds. Transfer either fully succeeds or
// fails without moving anything.
type RewardCustody interface {
	Transfer(ctx context.Context, recipient common.Address, amount *uint256.Int, ref Reference) error
}

// Receipt is a completed treasury payout.
type Receipt struct {
	Recipient common.Address
	Amount    uint256.Int
}

// TreasuryStore persists the treasury balance together with a receipt.
type TreasuryStore interface {
	PutTreasury(balance *uint256.Int, ref *Reference, receipt *Receipt) error
	LoadTreasury() (*uint256.Int, map[Reference]Receipt, error)
}

// Treasury is a funded RewardCustody that pays each reference at most once.
type Treasury struct {
	mu       sync.Mutex
	balance  uint256.Int
	receipts map[Reference]Receipt
	store    TreasuryStore
}

// NewTreasury loads the treasury from store. A nil store keeps it in memory.
func NewTreasury(store TreasuryStore) (*Treasury, error) {
	t := &Treasury{receipts: make(map[Reference]Receipt), store: store}
	if store == nil {
		return t, nil
	}
	balance, receipts, err := store.LoadTreasury()
	if err != nil {
		return nil, fmt.Errorf("loading treasury: %w", err)
	}
	if balance != nil {
		t.balance = *balance
	}
	for ref, r := range receipts {
		t.receipts[ref] = r
	}
	return t, nil
}

// Fund adds amount to the payable balance.
func (t *Treasury) Fund(amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	balance, err := safemath.Add(&t.balance, amount)
	if err != nil {
		return err
	}
	if t.store != nil {
		if err := t.store.PutTreasury(balance, nil, nil); err != nil {
			return err
		}
	}
	t.balance = *balance
	return nil
}

func (t *Treasury) Balance() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance.Clone()
}

// Pristine reports whether the treasury was never funded nor paid out.
func (t *Treasury) Pristine() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance.IsZero() && len(t.receipts) == 0
}

func (t *Treasury) Receipt(ref Reference) (Receipt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.receipts[ref]
	return r, ok
}

// Transfer pays amount to recipient once per ref, persisting the debit and
// the receipt before they take effect.
func (t *Treasury) Transfer(ctx context.Context, recipient common.Address, amount *uint256.Int, ref Reference) error {
	staged, err := t.Stage(ctx, recipient, amount, ref)
	if err != nil {
		return err
	}
	if t.store != nil && !staged.Noop {
		if err := t.store.PutTreasury(&staged.Balance, &staged.Ref, &staged.Receipt); err != nil {
			staged.Abort()
			return err
		}
	}
	staged.Apply()
	return nil
}

// Stager is a RewardCustody whose transfers can be staged, written by the
// caller together with the claim that caused them, and applied afterwards.
type Stager interface {
	RewardCustody
	// SharesStore reports whether staged writes belong in s.
	SharesStore(s TreasuryStore) bool
	Stage(ctx context.Context, recipient common.Address, amount *uint256.Int, ref Reference) (*StagedTransfer, error)
}

// StagedTransfer is a checked transfer not yet applied. The treasury stays
// locked until Apply or Abort is called.
type StagedTransfer struct {
	t *Treasury
	// Balance is the treasury balance once applied.
	Balance uint256.Int
	Ref     Reference
	Receipt Receipt
	// Noop is set when Ref was already paid on the same terms.
	Noop bool
	done bool
}

// Stage checks a transfer and locks the treasury until the returned
// transfer is applied or aborted.
func (t *Treasury) Stage(ctx context.Context, recipient common.Address, amount *uint256.Int, ref Reference) (*StagedTransfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if recipient.IsZero() {
		return nil, common.ErrZeroAddress
	}
	t.mu.Lock()

	staged := &StagedTransfer{t: t, Ref: ref, Receipt: Receipt{Recipient: recipient, Amount: *amount.Clone()}}
	if r, ok := t.receipts[ref]; ok {
		if r.Recipient == recipient && r.Amount.Eq(amount) {
			staged.Balance = t.balance
			staged.Noop = true
			return staged, nil
		}
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrReferenceConflict, ref)
	}
	if t.balance.Lt(amount) {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientCustodyBalance, t.balance.Dec(), amount.Dec())
	}
	staged.Balance.Sub(&t.balance, amount)
	return staged, nil
}

// SharesStore reports whether the treasury persists to s, or nowhere.
func (t *Treasury) SharesStore(s TreasuryStore) bool {
	return t.store == nil || t.store == s
}

// Persisted reports whether the staged writes must be stored.
func (s *StagedTransfer) Persisted() bool {
	return s.t.store != nil && !s.Noop
}

// Apply makes the transfer effective and releases the treasury.
func (s *StagedTransfer) Apply() {
	if s.done {
		return
	}
	s.done = true
	if !s.Noop {
		s.t.balance = s.Balance
		s.t.receipts[s.Ref] = s.Receipt
	}
	s.t.mu.Unlock()
}

// Abort drops the transfer and releases the treasury.
func (s *StagedTransfer) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.t.mu.Unlock()
}
