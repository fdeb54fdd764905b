package duel

import (
	"context"
	"errors"
	"fmt"

	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/store"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

type ReadyStatus string

const (
	// ReadyStatusWaiting means the opponent is missing or not ready yet.
	ReadyStatusWaiting ReadyStatus = "waiting"
	// ReadyStatusReady means the duel has started.
	ReadyStatusReady ReadyStatus = "ready"
)

// MarkReady records userId's readiness and starts the duel once both
// players are ready. Activation is a single conditional write on both
// flags, so near-simultaneous calls start the duel exactly once.
func (c *Coordinator) MarkReady(ctx context.Context, matchId, userId string) (ReadyStatus, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	m, err := c.store.GetMatch(ctx, matchId)
	if err != nil {
		return "", classify(err)
	}
	role, ok := m.RoleOf(userId)
	if !ok {
		return "", ErrNotParticipant
	}

	m, err = c.store.SetReady(ctx, matchId, role)
	if err != nil {
		return c.alreadyStarted(ctx, matchId, err)
	}

	p2, paired := m.Player2.Player()
	if !paired || !p2.IsReady || !m.Player1.IsReady {
		return ReadyStatusWaiting, nil
	}

	if _, ok := m.Question(0); !ok {
		return "", fmt.Errorf("%w: match %s has no questions", ErrInvalidState, matchId)
	}
	active, err := c.store.ActivateMatch(ctx, matchId, c.now())
	if err != nil {
		return c.alreadyStarted(ctx, matchId, err)
	}

	logging.Info("duel started", zap.String("match_id", matchId))
	started := dtos.DuelStartedResponse{
		MatchId:        active.MatchId,
		TotalQuestions: active.TotalQuestions,
		StartedAt:      *active.StartedAt,
	}
	first := dtos.QuestionResponseFromEntity(active, 0)
	c.notifyBoth(ctx, active, EventDuelStarted, func(entities.Role) interface{} { return started })
	c.notifyBoth(ctx, active, EventNextQuestion, func(entities.Role) interface{} { return first })
	return ReadyStatusReady, nil
}

// alreadyStarted turns a rejected ready write into success when the match is
// already active, which happens when the opponent's call activated it first.
func (c *Coordinator) alreadyStarted(ctx context.Context, matchId string, err error) (ReadyStatus, error) {
	if !errors.Is(err, store.ErrConditionFailed) {
		return "", classify(err)
	}
	current, getErr := c.store.GetMatch(ctx, matchId)
	if getErr == nil && current.Status == entities.StatusActive {
		return ReadyStatusReady, nil
	}
	return "", classify(err)
}
