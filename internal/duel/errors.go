package duel

import (
	"context"
	"errors"
	"fmt"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/internal/store"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid match state")
	ErrOutOfOrder      = errors.New("answer out of order")
	ErrNotParticipant  = errors.New("not a match participant")
	ErrTransient       = errors.New("temporarily unavailable")
	ErrInvalidArgument = errors.New("invalid argument")

	ErrMatchNotFound = fmt.Errorf("match %w", ErrNotFound)
	ErrQuizNotFound  = fmt.Errorf("quiz %w", ErrNotFound)
)

// classify maps store, quiz and entity errors onto the coordinator taxonomy.
// The original error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case errors.Is(err, store.ErrMatchNotFound):
		kind = ErrMatchNotFound
	case errors.Is(err, quiz.ErrQuizNotFound):
		kind = ErrQuizNotFound
	case errors.Is(err, entities.ErrNotParticipant):
		kind = ErrNotParticipant
	case errors.Is(err, entities.ErrAnswerOutOfOrder),
		errors.Is(err, entities.ErrQuestionOutOfRange):
		kind = ErrOutOfOrder
	case errors.Is(err, entities.ErrMissingConnectionId):
		kind = ErrInvalidArgument
	case errors.Is(err, store.ErrConditionFailed),
		errors.Is(err, quiz.ErrEmptyQuiz):
		kind = ErrInvalidState
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrMatchExists),
		errors.Is(err, quiz.ErrQuizUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		kind = ErrTransient
	default:
		return err
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
