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

type Assignment struct {
	MatchId string
	Role    entities.Role
	Waiting bool
}

// FindOrCreateMatch pairs p with the oldest waiting match for quizId, or
// opens a new waiting match when none can be joined. A repeated request from
// the same connection gets the open match it already has for quizId.
func (c *Coordinator) FindOrCreateMatch(ctx context.Context, quizId string, p Participant) (Assignment, error) {
	if quizId == "" || p.UserId == "" {
		return Assignment{}, fmt.Errorf("%w: quiz id and user id are required", ErrInvalidArgument)
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	q, err := c.quizzes.GetQuiz(ctx, quizId)
	if err != nil {
		return Assignment{}, classify(err)
	}
	if a, ok, err := c.existingAssignment(ctx, quizId, p); err != nil || ok {
		return a, err
	}
	player := entities.NewPlayerState(p.UserId, p.ConnectionRef, p.DisplayName, p.Avatar)

	waiting, err := c.store.FindWaitingMatch(ctx, quizId, p.UserId)
	switch {
	case errors.Is(err, store.ErrMatchNotFound):
	case err != nil:
		return Assignment{}, classify(err)
	case !c.isLive(ctx, waiting.Player1.ConnectionRef):
		c.discardStale(ctx, waiting)
	default:
		joined, err := c.store.JoinMatch(ctx, waiting.MatchId, player)
		if err == nil {
			logging.Info("players paired",
				zap.String("match_id", joined.MatchId),
				zap.String("player1_id", joined.Player1.UserId),
				zap.String("player2_id", p.UserId),
			)
			c.notifyBoth(ctx, joined, EventMatchFound, func(role entities.Role) interface{} {
				return dtos.MatchFoundResponseFromEntity(joined, role)
			})
			return Assignment{MatchId: joined.MatchId, Role: entities.RolePlayer2}, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) && !errors.Is(err, store.ErrMatchNotFound) {
			return Assignment{}, classify(err)
		}
		logging.Info("lost pairing race",
			zap.String("match_id", waiting.MatchId),
			zap.String("player_id", p.UserId),
		)
	}

	match := entities.NewMatch(c.newId(), q, player, c.now())
	if err := c.store.CreateMatch(ctx, match); err != nil {
		return Assignment{}, classify(err)
	}
	logging.Info("waiting match created",
		zap.String("match_id", match.MatchId),
		zap.String("quiz_id", quizId),
		zap.String("player_id", p.UserId),
	)
	return Assignment{MatchId: match.MatchId, Role: entities.RolePlayer1, Waiting: true}, nil
}

// existingAssignment finds an open match for quizId that p already plays on
// the same connection.
func (c *Coordinator) existingAssignment(ctx context.Context, quizId string, p Participant) (Assignment, bool, error) {
	if p.ConnectionRef == "" {
		return Assignment{}, false, nil
	}
	open, err := c.store.FindOpenMatchesByConnection(ctx, p.ConnectionRef)
	if err != nil {
		return Assignment{}, false, classify(err)
	}
	for _, m := range open {
		role, ok := m.RoleOf(p.UserId)
		if !ok || m.QuizId != quizId {
			continue
		}
		if player, _ := m.Player(role); player.ConnectionRef != p.ConnectionRef {
			continue
		}
		logging.Info("reusing open match",
			zap.String("match_id", m.MatchId),
			zap.String("player_id", p.UserId),
			zap.String("status", m.Status.String()),
		)
		return Assignment{MatchId: m.MatchId, Role: role, Waiting: m.Status == entities.StatusWaiting}, true, nil
	}
	return Assignment{}, false, nil
}

func (c *Coordinator) discardStale(ctx context.Context, m entities.Match) {
	err := c.store.DeleteWaitingMatch(ctx, m.MatchId)
	if err != nil && !errors.Is(err, store.ErrMatchNotFound) {
		logging.Warn("failed to delete stale waiting match",
			zap.String("match_id", m.MatchId),
			zap.Error(err),
		)
		return
	}
	logging.Info("stale waiting match deleted",
		zap.String("match_id", m.MatchId),
		zap.String("player_id", m.Player1.UserId),
	)
}
