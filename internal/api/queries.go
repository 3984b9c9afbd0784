package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/epochtime"
)

func epochParam(r *http.Request) (epochtime.Epoch, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch %q", chi.URLParam(r, "epoch"))
	}
	return epochtime.Epoch(v), nil
}

func addressParam(r *http.Request) (common.Address, error) {
	return common.ParseAddress(chi.URLParam(r, "address"))
}

func (s *Server) epochOf(ep epochtime.Epoch) epochResponse {
	clock := s.engine.Clock()
	return epochResponse{
		Epoch:     uint64(ep),
		Start:     clock.EpochStart(ep),
		End:       clock.EpochEnd(ep),
		Emissions: amountOf(s.engine.EmissionsAt(ep)),
	}
}

func (s *Server) handleCurrentEpoch(w http.ResponseWriter, r *http.Request) {
	ep, err := s.engine.CurrentEpoch()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentEpochResponse{
		epochResponse:          s.epochOf(ep),
		PendingCheckpointSteps: s.engine.PendingCheckpointSteps(),
	})
}

func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.epochOf(ep))
}

func (s *Server) handleEmissions(w http.ResponseWriter, r *http.Request) {
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	e := uint64(ep)
	writeJSON(w, http.StatusOK, amountResponse{Epoch: &e, Amount: amountOf(s.engine.EmissionsAt(ep))})
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	total, err := s.engine.TotalAt(ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e := uint64(ep)
	writeJSON(w, http.StatusOK, amountResponse{Epoch: &e, Amount: amountOf(total)})
}

func (s *Server) handleSystemUtilization(w http.ResponseWriter, r *http.Request) {
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	bps, err := s.engine.SystemUtilization(r.Context(), ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, utilizationResponse{Epoch: uint64(ep), UtilizationBps: bps})
}

func (s *Server) handleUnclaimed(w http.ResponseWriter, r *http.Request) {
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	unclaimed, err := s.engine.UnclaimedRewards(ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e := uint64(ep)
	writeJSON(w, http.StatusOK, amountResponse{Epoch: &e, Amount: amountOf(unclaimed)})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	info, err := s.engine.UserInfo(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userInfoOf(p, info))
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	lock, ok := s.engine.LockOf(p)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "no lock"})
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Amount: amountOf(&lock.Amount), End: lock.End})
}

// handleBalance returns the balance at the end of ?epoch=, or now without it.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	q := r.URL.Query().Get("epoch")
	if q == "" {
		writeJSON(w, http.StatusOK, amountResponse{Amount: amountOf(s.engine.BalanceNow(p))})
		return
	}
	e, err := strconv.ParseUint(q, 10, 64)
	if err != nil {
		badRequest(w, fmt.Errorf("invalid epoch %q", q))
		return
	}
	balance, err := s.engine.BalanceAt(p, epochtime.Epoch(e))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Epoch: &e, Amount: amountOf(balance)})
}

func (s *Server) handleAPY(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	apy, err := s.engine.UserAPY(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apyResponse{CurrentBps: amountOf(apy.CurrentBps), MaxBps: amountOf(apy.MaxBps)})
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	claimable, err := s.engine.ClaimableRewards(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountOf(claimable)})
}

func (s *Server) handlePersonalUtilization(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	bps, err := s.engine.PersonalUtilization(r.Context(), p, ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, utilizationResponse{Epoch: uint64(ep), UtilizationBps: bps})
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	p, err := addressParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ep, err := epochParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	status, err := s.engine.ClaimStatus(p, ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := claimStatusResponse{Epoch: uint64(ep), Status: status}
	if record, ok := s.engine.ClaimRecord(p, ep); ok {
		c := claimRecordOf(record)
		resp.Claim = &c
	}
	writeJSON(w, http.StatusOK, resp)
}
