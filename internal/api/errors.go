package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ccoin/zams/internal/planner"
	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/internal/zerrors"
)

var errMissingPubKeyVariant = errors.New("api: pub key request must set address or fvk")
var errInvalidMinConfirmations = errors.New("api: min_confirmations must be a non-negative integer")

// errorResponse is the JSON body written for any non-2xx response,
// per spec.md §7's "typed failures upward... string reason" policy.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to an HTTP status and a structured JSON reason.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errMissingPubKeyVariant),
		errors.Is(err, errInvalidMinConfirmations),
		errors.Is(err, zerrors.ErrInvalidAddress),
		errors.Is(err, zerrors.ErrInvalidAccount),
		errors.Is(err, zerrors.ErrInvalidDiversifier),
		errors.Is(err, zerrors.ErrIncorrectHrp),
		errors.Is(err, zerrors.ErrInvalidNote),
		errors.Is(err, planner.ErrInvalidAmount),
		errors.Is(err, planner.ErrChangeAccountNotShielded):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrPaymentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, zerrors.ErrOutOfDiversifiers), errors.Is(err, store.ErrReservationFailed):
		status = http.StatusConflict
	case isInsufficientFunds(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, zerrors.ErrTransport):
		status = http.StatusBadGateway
	}
	var rejected *zerrors.NodeRejected
	if errors.As(err, &rejected) {
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func isInsufficientFunds(err error) bool {
	var insufficient *zerrors.InsufficientFunds
	return errors.As(err, &insufficient)
}
