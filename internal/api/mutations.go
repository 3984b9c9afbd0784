package api

import (
	"net/http"

	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/utilization"
)

func (s *Server) handleCreateLock(w http.ResponseWriter, r *http.Request) {
	var req createLockRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.CreateLock(r.Context(), req.Caller, req.Amount.Int(), req.UnlockTime); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeLock(w, req.Caller, http.StatusCreated)
}

func (s *Server) handleIncreaseAmount(w http.ResponseWriter, r *http.Request) {
	var req increaseAmountRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.IncreaseAmount(r.Context(), req.Caller, req.Amount.Int()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeLock(w, req.Caller, http.StatusOK)
}

func (s *Server) handleIncreaseUnlockTime(w http.ResponseWriter, r *http.Request) {
	var req increaseUnlockTimeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.IncreaseUnlockTime(r.Context(), req.Caller, req.UnlockTime); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeLock(w, req.Caller, http.StatusOK)
}

func (s *Server) handleIncreaseAmountAndTime(w http.ResponseWriter, r *http.Request) {
	var req createLockRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.IncreaseAmountAndTime(r.Context(), req.Caller, req.Amount.Int(), req.UnlockTime); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeLock(w, req.Caller, http.StatusOK)
}

func (s *Server) handleDepositFor(w http.ResponseWriter, r *http.Request) {
	var req depositForRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.DepositFor(r.Context(), req.Participant, req.Amount.Int()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeLock(w, req.Participant, http.StatusOK)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	amount, err := s.engine.Withdraw(r.Context(), req.Caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountOf(amount)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Recipient.IsZero() {
		req.Recipient = req.Caller
	}
	record, err := s.engine.Claim(r.Context(), req.Caller, req.Recipient)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimRecordOf(record))
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	steps, caught, err := s.engine.Checkpoint(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkpointResponse{Steps: steps, CaughtUp: caught})
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.RecordActivity(r.Context(), s.engine.Admin(), req.Participant, req.Delta.Int()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFloors(w http.ResponseWriter, r *http.Request) {
	var req floorsRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	floors := utilization.Floors{SystemBps: req.SystemBps, PersonalBps: req.PersonalBps}
	if err := s.engine.SetUtilizationFloors(r.Context(), s.engine.Admin(), floors); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, floorsRequest(s.engine.Floors()))
}

func (s *Server) handleGlobalUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.GlobalUnlock(r.Context(), s.engine.Admin()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLock(w http.ResponseWriter, p common.Address, status int) {
	lock, _ := s.engine.LockOf(p)
	writeJSON(w, status, lockResponse{Amount: amountOf(&lock.Amount), End: lock.End})
}
