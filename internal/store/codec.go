package store

import (
	"fmt"

	"github.com/eigerco/trustbond/internal/utilization"
	"github.com/eigerco/trustbond/pkg/serialization/codec/jam"
)

// Values are jam encoded. Keys keep big-endian integers so they sort.

type genesisRecord struct {
	Start       uint64
	EpochLength uint64
}

// putRecord queues v under key. v must not be a pointer, jam would prefix it
// with a presence byte.
func (b *Batch) putRecord(key []byte, v any) {
	if b.err != nil {
		return
	}
	value, err := jam.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode %s record: %w", PrefixToString(key[0]), err)
		return
	}
	b.put(key, value)
}

func decodeRecord[T any](b []byte) (T, error) {
	var v T
	if err := jam.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return v, nil
}

func decodeWindow(b []byte) (utilization.Window, error) {
	w, err := decodeRecord[utilization.Window](b)
	if err != nil {
		return w, err
	}
	if len(w.Entries) > utilization.ParticipantWindow {
		return utilization.Window{}, fmt.Errorf("%w: window of %d entries", ErrCorrupt, len(w.Entries))
	}
	return w, nil
}
