package gateway

import (
	"errors"

	"github.com/chess-vn/slduel/internal/duel"
)

const (
	ErrStatusNotFound       string = "NOT_FOUND"
	ErrStatusInvalidState   string = "INVALID_STATE"
	ErrStatusOutOfOrder     string = "OUT_OF_ORDER"
	ErrStatusNotParticipant string = "NOT_PARTICIPANT"
	ErrStatusTransient      string = "TRANSIENT"
	ErrStatusInvalidPayload string = "INVALID_PAYLOAD"
	ErrStatusUnauthorized   string = "UNAUTHORIZED"
	ErrStatusInternal       string = "INTERNAL"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnauthorized   = errors.New("unauthorized")
)

// wireStatus maps an error onto the code sent to clients.
func wireStatus(err error) string {
	switch {
	case errors.Is(err, duel.ErrNotFound):
		return ErrStatusNotFound
	case errors.Is(err, duel.ErrOutOfOrder):
		return ErrStatusOutOfOrder
	case errors.Is(err, duel.ErrInvalidState):
		return ErrStatusInvalidState
	case errors.Is(err, duel.ErrNotParticipant):
		return ErrStatusNotParticipant
	case errors.Is(err, duel.ErrTransient):
		return ErrStatusTransient
	case errors.Is(err, duel.ErrInvalidArgument), errors.Is(err, ErrInvalidPayload):
		return ErrStatusInvalidPayload
	case errors.Is(err, ErrUnauthorized):
		return ErrStatusUnauthorized
	default:
		return ErrStatusInternal
	}
}
