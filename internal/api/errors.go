package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eigerco/trustbond/internal/bonding"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/pkg/log"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errBadToken     = errors.New("invalid bearer token")
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusOf maps an engine error to an HTTP status by its kind.
func statusOf(err error) int {
	switch bonding.Classify(err) {
	case bonding.KindPrecondition:
		if errors.Is(err, escrow.ErrLockExists) || errors.Is(err, rewards.ErrReferenceConflict) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case bonding.KindTemporal:
		if errors.Is(err, epochtime.ErrEpochNotReached) || errors.Is(err, epochtime.ErrBeforeStart) {
			return http.StatusTooEarly
		}
		return http.StatusConflict
	case bonding.KindConfiguration:
		return http.StatusUnprocessableEntity
	case bonding.KindResource:
		return http.StatusPaymentRequired
	case bonding.KindAuthorization:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.API.Debug().Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.API.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Error:   bonding.Classify(err).String(),
		Message: err.Error(),
	})
}

// badRequest reports malformed input that never reached the engine.
func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="trustbond"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: err.Error()})
}
