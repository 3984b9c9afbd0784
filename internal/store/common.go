package store

import (
	"encoding/binary"
	"errors"
)

const (
	ErrFailedBatchCommit = "failed to commit batch: %w"
)

var (
	ErrStoreClosed     = errors.New("store is closed")
	ErrCorrupt         = errors.New("corrupt record")
	ErrGenesisMismatch = errors.New("stored genesis differs from configuration")
)

// Prefix constants for all record types
const (
	prefixMeta byte = iota + 1
	prefixLock
	prefixUserPoint
	prefixGlobalPoint
	prefixSlopeChange
	prefixClaim
	prefixEpochTotal
	prefixEpochSystemUtilization
	prefixSystemActivity
	prefixParticipantActivity
	prefixTreasuryBalance
	prefixTreasuryReceipt
)

// PrefixToString converts a prefix byte to a string
func PrefixToString(p byte) string {
	switch p {
	case prefixMeta:
		return "meta"
	case prefixLock:
		return "lock"
	case prefixUserPoint:
		return "userPoint"
	case prefixGlobalPoint:
		return "globalPoint"
	case prefixSlopeChange:
		return "slopeChange"
	case prefixClaim:
		return "claim"
	case prefixEpochTotal:
		return "epochTotal"
	case prefixEpochSystemUtilization:
		return "epochSystemUtilization"
	case prefixSystemActivity:
		return "systemActivity"
	case prefixParticipantActivity:
		return "participantActivity"
	case prefixTreasuryBalance:
		return "treasuryBalance"
	case prefixTreasuryReceipt:
		return "treasuryReceipt"
	default:
		return "unknown"
	}
}

// makeKey concatenates a prefix with key parts
func makeKey(prefix byte, parts ...[]byte) []byte {
	size := 1
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 1, size)
	key[0] = prefix
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// u64 encodes v big-endian so keys sort numerically.
func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// bigEndian reads a key integer written by u64. Short keys read as zero.
func bigEndian(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
