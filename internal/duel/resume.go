package duel

import (
	"context"
	"fmt"

	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

type ResumeState struct {
	MatchId        string
	Role           entities.Role
	Status         entities.Status
	QuestionIndex  int
	TotalQuestions int
}

// Resume moves a still-active participant onto connectionRef, for example
// after a network switch, and re-sends the question the player is on.
func (c *Coordinator) Resume(ctx context.Context, matchId, userId, connectionRef string) (ResumeState, error) {
	if connectionRef == "" {
		return ResumeState{}, fmt.Errorf("%w: connection ref is required", ErrInvalidArgument)
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	m, err := c.store.GetMatch(ctx, matchId)
	if err != nil {
		return ResumeState{}, classify(err)
	}
	role, ok := m.RoleOf(userId)
	if !ok {
		return ResumeState{}, ErrNotParticipant
	}
	m, err = c.store.RebindConnection(ctx, matchId, role, connectionRef)
	if err != nil {
		return ResumeState{}, classify(err)
	}
	player, _ := m.Player(role)
	state := ResumeState{
		MatchId:        m.MatchId,
		Role:           role,
		Status:         m.Status,
		QuestionIndex:  player.Cursor(),
		TotalQuestions: m.TotalQuestions,
	}
	logging.Info("player resumed",
		zap.String("match_id", matchId),
		zap.String("player_id", userId),
		zap.Int("question_index", state.QuestionIndex),
	)

	if _, ok := m.Question(state.QuestionIndex); ok && m.Status == entities.StatusActive {
		c.notify(ctx, connectionRef, EventNextQuestion, dtos.QuestionResponseFromEntity(m, state.QuestionIndex))
	}
	return state, nil
}
