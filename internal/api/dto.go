package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/holiman/uint256"

	"github.com/eigerco/trustbond/internal/bonding"
	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/safemath"
)

// maxBodySize bounds request bodies; every request fits in a few hundred bytes.
const maxBodySize = 1 << 16

// Amount is a token amount carried as a decimal string.
type Amount uint256.Int

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.Int().Dec()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	v, err := safemath.ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = Amount(*v)
	return nil
}

func (a Amount) Int() *uint256.Int {
	v := uint256.Int(a)
	return &v
}

func amountOf(v *uint256.Int) Amount {
	if v == nil {
		return Amount{}
	}
	return Amount(*v)
}

// SignedAmount is an int256 carried as a decimal string with an optional sign.
type SignedAmount uint256.Int

func (a SignedAmount) MarshalText() ([]byte, error) {
	return []byte(safemath.FormatSigned(a.Int())), nil
}

func (a *SignedAmount) UnmarshalText(text []byte) error {
	v, err := safemath.ParseSigned(string(text))
	if err != nil {
		return err
	}
	*a = SignedAmount(*v)
	return nil
}

func (a SignedAmount) Int() *uint256.Int {
	v := uint256.Int(a)
	return &v
}

type createLockRequest struct {
	Caller     common.Address `json:"caller"`
	Amount     Amount         `json:"amount"`
	UnlockTime uint64         `json:"unlockTime"`
}

type increaseAmountRequest struct {
	Caller common.Address `json:"caller"`
	Amount Amount         `json:"amount"`
}

type increaseUnlockTimeRequest struct {
	Caller     common.Address `json:"caller"`
	UnlockTime uint64         `json:"unlockTime"`
}

type depositForRequest struct {
	Participant common.Address `json:"participant"`
	Amount      Amount         `json:"amount"`
}

type callerRequest struct {
	Caller common.Address `json:"caller"`
}

type claimRequest struct {
	Caller    common.Address `json:"caller"`
	Recipient common.Address `json:"recipient"`
}

type activityRequest struct {
	Participant common.Address `json:"participant"`
	Delta       SignedAmount   `json:"delta"`
}

type floorsRequest struct {
	SystemBps   uint64 `json:"systemBps"`
	PersonalBps uint64 `json:"personalBps"`
}

type epochResponse struct {
	Epoch     uint64 `json:"epoch"`
	Start     uint64 `json:"start"`
	End       uint64 `json:"end"`
	Emissions Amount `json:"emissions"`
}

type currentEpochResponse struct {
	epochResponse
	PendingCheckpointSteps int `json:"pendingCheckpointSteps"`
}

type amountResponse struct {
	Epoch  *uint64 `json:"epoch,omitempty"`
	Amount Amount  `json:"amount"`
}

type utilizationResponse struct {
	Epoch          uint64 `json:"epoch"`
	UtilizationBps uint64 `json:"utilizationBps"`
}

type lockResponse struct {
	Amount Amount `json:"amount"`
	End    uint64 `json:"end"`
}

type userInfoResponse struct {
	Address                common.Address `json:"address"`
	PersonalUtilizationBps uint64         `json:"personalUtilizationBps"`
	EligibleRewards        Amount         `json:"eligibleRewards"`
	MaxRewards             Amount         `json:"maxRewards"`
	LockedAmount           Amount         `json:"lockedAmount"`
	LockEnd                uint64         `json:"lockEnd"`
	BondedBalance          Amount         `json:"bondedBalance"`
}

func userInfoOf(p common.Address, info bonding.UserInfo) userInfoResponse {
	return userInfoResponse{
		Address:                p,
		PersonalUtilizationBps: info.PersonalUtilizationBps,
		EligibleRewards:        amountOf(info.EligibleRewards),
		MaxRewards:             amountOf(info.MaxRewards),
		LockedAmount:           amountOf(info.LockedAmount),
		LockEnd:                info.LockEnd,
		BondedBalance:          amountOf(info.BondedBalance),
	}
}

type apyResponse struct {
	CurrentBps Amount `json:"currentBps"`
	MaxBps     Amount `json:"maxBps"`
}

type claimRecordResponse struct {
	Participant            common.Address `json:"participant"`
	Epoch                  uint64         `json:"epoch"`
	Recipient              common.Address `json:"recipient"`
	Amount                 Amount         `json:"amount"`
	SystemUtilizationBps   uint64         `json:"systemUtilizationBps"`
	PersonalUtilizationBps uint64         `json:"personalUtilizationBps"`
	Reference              string         `json:"reference"`
	ClaimedAt              uint64         `json:"claimedAt"`
}

func claimRecordOf(r rewards.ClaimRecord) claimRecordResponse {
	return claimRecordResponse{
		Participant:            r.Participant,
		Epoch:                  uint64(r.Epoch),
		Recipient:              r.Recipient,
		Amount:                 amountOf(&r.Amount),
		SystemUtilizationBps:   r.SystemUtilizationBps,
		PersonalUtilizationBps: r.PersonalUtilizationBps,
		Reference:              r.Reference.String(),
		ClaimedAt:              r.ClaimedAt,
	}
}

type claimStatusResponse struct {
	Epoch  uint64               `json:"epoch"`
	Status rewards.Status       `json:"status"`
	Claim  *claimRecordResponse `json:"claim,omitempty"`
}

type checkpointResponse struct {
	Steps    int  `json:"steps"`
	CaughtUp bool `json:"caughtUp"`
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
