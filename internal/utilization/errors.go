package utilization

import "errors"

var (
	ErrInvalidFloor           = errors.New("utilization floor out of range")
	ErrNilFeed                = errors.New("net activity feed is nil")
	ErrActivityHistoryExpired = errors.New("participant activity history expired")
	ErrActivityOutOfOrder     = errors.New("activity recorded for an earlier epoch")
)
