package rewards

import "github.com/eigerco/trustbond/internal/epochtime"

// Status is the claim state of a participant for an epoch.
type Status uint8

const (
	Unclaimable Status = iota
	Claimable
	Claimed
	Expired
)

func (s Status) String() string {
	switch s {
	case Unclaimable:
		return "unclaimable"
	case Claimable:
		return "claimable"
	case Claimed:
		return "claimed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusOf derives the state of epoch e at epoch current. Only the epoch
// right before current can be claimed; older unclaimed epochs are expired.
func StatusOf(current, e epochtime.Epoch, claimed bool) Status {
	switch {
	case claimed:
		return Claimed
	case e >= current:
		return Unclaimable
	case e+1 == current:
		return Claimable
	default:
		return Expired
	}
}
