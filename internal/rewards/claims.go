package rewards

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/safemath"
)

// ClaimRecord is a paid claim. It is never modified once written.
type ClaimRecord struct {
	Participant            common.Address
	Epoch                  epochtime.Epoch
	Recipient              common.Address
	Amount                 uint256.Int
	SystemUtilizationBps   uint64
	PersonalUtilizationBps uint64
	Reference              Reference
	ClaimedAt              uint64
}

type claimKey struct {
	participant common.Address
	epoch       epochtime.Epoch
}

// BookChanges lists what was written since the previous Drain.
type BookChanges struct {
	Records   []ClaimRecord
	Totals    map[epochtime.Epoch]uint256.Int
	SystemBps map[epochtime.Epoch]uint64
}

// Book is the claim table together with the per-epoch claimed totals and the
// system utilization each epoch was paid out at. Not safe for concurrent use.
type Book struct {
	records   map[claimKey]ClaimRecord
	totals    map[epochtime.Epoch]uint256.Int
	systemBps map[epochtime.Epoch]uint64
	pending   BookChanges
}

func NewBook() *Book {
	b := &Book{
		records:   make(map[claimKey]ClaimRecord),
		totals:    make(map[epochtime.Epoch]uint256.Int),
		systemBps: make(map[epochtime.Epoch]uint64),
	}
	b.resetPending()
	return b
}

func (b *Book) resetPending() {
	b.pending = BookChanges{
		Totals:    make(map[epochtime.Epoch]uint256.Int),
		SystemBps: make(map[epochtime.Epoch]uint64),
	}
}

// Add writes r. The first claim of an epoch freezes its system utilization.
func (b *Book) Add(r ClaimRecord) error {
	key := claimKey{r.Participant, r.Epoch}
	if _, ok := b.records[key]; ok {
		return fmt.Errorf("%w: %s in epoch %d", ErrAlreadyClaimed, r.Participant, r.Epoch)
	}
	if r.Amount.IsZero() {
		return ErrNoRewards
	}
	cur := b.totals[r.Epoch]
	total, err := safemath.Add(&cur, &r.Amount)
	if err != nil {
		return err
	}

	b.records[key] = r
	b.totals[r.Epoch] = *total
	b.pending.Records = append(b.pending.Records, r)
	b.pending.Totals[r.Epoch] = *total
	if _, ok := b.systemBps[r.Epoch]; !ok {
		b.systemBps[r.Epoch] = r.SystemUtilizationBps
		b.pending.SystemBps[r.Epoch] = r.SystemUtilizationBps
	}
	return nil
}

// Record returns the claim of p for e, if any.
func (b *Book) Record(p common.Address, e epochtime.Epoch) (ClaimRecord, bool) {
	r, ok := b.records[claimKey{p, e}]
	return r, ok
}

// Claimed returns what p claimed for e, zero when nothing.
func (b *Book) Claimed(p common.Address, e epochtime.Epoch) *uint256.Int {
	r := b.records[claimKey{p, e}]
	return r.Amount.Clone()
}

// TotalClaimed returns the sum of all claims for e.
func (b *Book) TotalClaimed(e epochtime.Epoch) *uint256.Int {
	t := b.totals[e]
	return t.Clone()
}

// FrozenSystemUtilization returns the system ratio e was first paid at.
func (b *Book) FrozenSystemUtilization(e epochtime.Epoch) (uint64, bool) {
	bps, ok := b.systemBps[e]
	return bps, ok
}

// Drain returns the changes since the previous Drain.
func (b *Book) Drain() BookChanges {
	c := b.pending
	b.resetPending()
	return c
}

// Restore replaces the book with persisted records. Totals and frozen ratios
// are rebuilt from the records.
func (b *Book) Restore(records []ClaimRecord) error {
	fresh := NewBook()
	for _, r := range records {
		if err := fresh.Add(r); err != nil {
			return fmt.Errorf("restoring claim of %s in epoch %d: %w", r.Participant, r.Epoch, err)
		}
	}
	b.records, b.totals, b.systemBps = fresh.records, fresh.totals, fresh.systemBps
	b.resetPending()
	return nil
}
