package utilization

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
)

// ParticipantWindow is how many active epochs of cumulative activity are
// retained per participant.
const ParticipantWindow = 3

// Entry is the cumulative activity at the end of an active epoch.
type Entry struct {
	Epoch      epochtime.Epoch
	Cumulative uint256.Int
}

// Window is the retained activity history of a participant. Truncated is set
// once older entries have been dropped.
type Window struct {
	Entries   []Entry
	Truncated bool
}

// cumulativeAt returns the cumulative activity at the end of e.
func (w Window) cumulativeAt(e epochtime.Epoch) (*uint256.Int, error) {
	i := sort.Search(len(w.Entries), func(i int) bool {
		return w.Entries[i].Epoch > e
	}) - 1
	if i >= 0 {
		return w.Entries[i].Cumulative.Clone(), nil
	}
	if w.Truncated {
		return nil, fmt.Errorf("%w: epoch %d", ErrActivityHistoryExpired, e)
	}
	return new(uint256.Int), nil
}

func (w Window) net(e epochtime.Epoch) (*uint256.Int, error) {
	cur, err := w.cumulativeAt(e)
	if err != nil {
		return nil, err
	}
	if e == 0 {
		return cur, nil
	}
	prev, err := w.cumulativeAt(e - 1)
	if err != nil {
		return nil, err
	}
	return cur.Sub(cur, prev), nil
}

// TrackerChanges lists what was recorded since the previous Drain.
type TrackerChanges struct {
	System       []Entry
	Participants map[common.Address]Window
}

// Tracker accumulates signed activity deltas and serves them as a
// NetActivityFeed. System activity is kept for every epoch, participant
// activity only for the last ParticipantWindow active epochs.
type Tracker struct {
	mu           sync.RWMutex
	system       Window
	participants map[common.Address]Window
	pending      TrackerChanges
}

func NewTracker() *Tracker {
	t := &Tracker{participants: make(map[common.Address]Window)}
	t.resetPending()
	return t
}

func (t *Tracker) resetPending() {
	t.pending = TrackerChanges{Participants: make(map[common.Address]Window)}
}

// Record adds delta, an int256 in two's complement, to the activity of p in e.
// Epochs must be recorded in non-decreasing order.
func (t *Tracker) Record(p common.Address, e epochtime.Epoch, delta *uint256.Int) error {
	if p.IsZero() {
		return common.ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.system.Entries); n > 0 && t.system.Entries[n-1].Epoch > e {
		return fmt.Errorf("%w: %d after %d", ErrActivityOutOfOrder, e, t.system.Entries[n-1].Epoch)
	}

	t.system = accumulate(t.system, e, delta, 0)
	t.pending.System = append(t.pending.System, t.system.Entries[len(t.system.Entries)-1])

	w := accumulate(t.participants[p], e, delta, ParticipantWindow)
	t.participants[p] = w
	t.pending.Participants[p] = w
	return nil
}

// accumulate adds delta to the entry of e, keeping at most limit entries when
// limit is positive.
func accumulate(w Window, e epochtime.Epoch, delta *uint256.Int, limit int) Window {
	entries := append([]Entry(nil), w.Entries...)
	n := len(entries)
	switch {
	case n > 0 && entries[n-1].Epoch == e:
		entries[n-1].Cumulative.Add(&entries[n-1].Cumulative, delta)
	case n > 0:
		next := Entry{Epoch: e}
		next.Cumulative.Add(&entries[n-1].Cumulative, delta)
		entries = append(entries, next)
	default:
		entries = append(entries, Entry{Epoch: e, Cumulative: *delta.Clone()})
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
		w.Truncated = true
	}
	w.Entries = entries
	return w
}

func (t *Tracker) SystemNetActivity(_ context.Context, e epochtime.Epoch) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.system.net(e)
}

func (t *Tracker) PersonalNetActivity(_ context.Context, p common.Address, e epochtime.Epoch) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.participants[p].net(e)
}

// Participant returns a copy of the retained window of p.
func (t *Tracker) Participant(p common.Address) Window {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w := t.participants[p]
	return Window{Entries: append([]Entry(nil), w.Entries...), Truncated: w.Truncated}
}

// Drain returns the entries written since the previous Drain.
func (t *Tracker) Drain() TrackerChanges {
	t.mu.Lock()
	defer t.mu.Unlock()
	changes := t.pending
	t.resetPending()
	return changes
}

// Restore replaces the tracker contents.
func (t *Tracker) Restore(system []Entry, participants map[common.Address]Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.system = Window{Entries: append([]Entry(nil), system...)}
	t.participants = make(map[common.Address]Window, len(participants))
	for p, w := range participants {
		t.participants[p] = w
	}
	t.resetPending()
}
