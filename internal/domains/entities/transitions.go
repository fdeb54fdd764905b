package entities

import (
	"errors"
	"time"
)

var (
	ErrWrongStatus         = errors.New("match status does not allow this operation")
	ErrAlreadyPaired       = errors.New("match already has an opponent")
	ErrSelfPairing         = errors.New("player cannot be paired with itself")
	ErrNotParticipant      = errors.New("user is not a participant of this match")
	ErrPlayerInactive      = errors.New("player is no longer active")
	ErrAnswerOutOfOrder    = errors.New("answer is not for the next expected question")
	ErrQuestionOutOfRange  = errors.New("question index out of range")
	ErrPlayersNotReady     = errors.New("both players must be ready")
	ErrPlayersNotFinished  = errors.New("both players must answer every question")
	ErrPlayersFinished     = errors.New("both players answered every question")
	ErrInvalidWinner       = errors.New("winner must be one of the participants")
	ErrMissingConnectionId = errors.New("connection ref is required")
)

// The methods below are the only legal mutations of a match. Each either
// applies fully or returns an error and leaves the match untouched, so store
// implementations can run them inside a compare-and-swap.

func (m *Match) Join(opponent PlayerState) error {
	if m.Status != StatusWaiting {
		return ErrWrongStatus
	}
	if m.Player2.paired {
		return ErrAlreadyPaired
	}
	if opponent.UserId == m.Player1.UserId {
		return ErrSelfPairing
	}
	m.Player2 = Paired(opponent)
	m.Status = StatusReady
	return nil
}

func (m *Match) MarkReady(role Role) error {
	if m.Status != StatusWaiting && m.Status != StatusReady {
		return ErrWrongStatus
	}
	p := m.player(role)
	if p == nil {
		return ErrNotParticipant
	}
	p.IsReady = true
	return nil
}

func (m *Match) Activate(startedAt time.Time) error {
	if m.Status != StatusReady {
		return ErrWrongStatus
	}
	p2 := m.player(RolePlayer2)
	if p2 == nil || !p2.IsReady || !m.Player1.IsReady {
		return ErrPlayersNotReady
	}
	m.Status = StatusActive
	m.StartedAt = &startedAt
	return nil
}

func (m *Match) AppendAnswer(role Role, record AnswerRecord, points int) error {
	if m.Status != StatusActive {
		return ErrWrongStatus
	}
	p := m.player(role)
	if p == nil {
		return ErrNotParticipant
	}
	if !p.IsActive {
		return ErrPlayerInactive
	}
	if record.QuestionIndex != p.Cursor() {
		return ErrAnswerOutOfOrder
	}
	if record.QuestionIndex >= m.TotalQuestions {
		return ErrQuestionOutOfRange
	}
	p.Answers = append(p.Answers, record)
	p.Score += points
	if record.IsCorrect {
		p.CorrectAnswers++
	}
	p.TotalTimeMs += record.TimeSpentMs
	return nil
}

// Complete finalizes a match where both players answered every question.
// A nil winner records a draw.
func (m *Match) Complete(winner *string, completedAt time.Time) error {
	if m.Status != StatusActive {
		return ErrWrongStatus
	}
	if !m.BothFinished() {
		return ErrPlayersNotFinished
	}
	if winner != nil {
		if _, ok := m.RoleOf(*winner); !ok {
			return ErrInvalidWinner
		}
		w := *winner
		winner = &w
	}
	m.Status = StatusCompleted
	m.Winner = winner
	m.EndReason = EndReasonFinished
	m.CompletedAt = &completedAt
	return nil
}

// Forfeit ends a paired match in favor of the opponent of role.
func (m *Match) Forfeit(role Role, completedAt time.Time) error {
	if m.Status != StatusReady && m.Status != StatusActive {
		return ErrWrongStatus
	}
	p := m.player(role)
	opponent := m.player(role.Other())
	if p == nil || opponent == nil {
		return ErrNotParticipant
	}
	if m.BothFinished() {
		return ErrPlayersFinished
	}
	winner := opponent.UserId
	p.IsActive = false
	m.Status = StatusCompleted
	m.Winner = &winner
	m.EndReason = EndReasonForfeit
	m.ForfeitedBy = p.UserId
	m.CompletedAt = &completedAt
	return nil
}

// Rebind moves a still-active participant onto a new connection.
func (m *Match) Rebind(role Role, connectionRef string) error {
	if connectionRef == "" {
		return ErrMissingConnectionId
	}
	if !m.Status.IsOpen() {
		return ErrWrongStatus
	}
	p := m.player(role)
	if p == nil {
		return ErrNotParticipant
	}
	if !p.IsActive {
		return ErrPlayerInactive
	}
	p.ConnectionRef = connectionRef
	return nil
}

func (m Match) CanDelete() error {
	if m.Status != StatusWaiting {
		return ErrWrongStatus
	}
	return nil
}
