package duel

import (
	"context"
	"errors"

	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/store"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

type MatchResult struct {
	MatchId     string
	Winner      *string
	EndReason   entities.EndReason
	ForfeitedBy string
	Player1     entities.PlayerState
	Player2     entities.PlayerState
}

func resultFromEntity(m entities.Match) *MatchResult {
	p2, _ := m.Player2.Player()
	return &MatchResult{
		MatchId:     m.MatchId,
		Winner:      m.Winner,
		EndReason:   m.EndReason,
		ForfeitedBy: m.ForfeitedBy,
		Player1:     m.Player1,
		Player2:     p2,
	}
}

// CheckCompletion finalizes the match once both players answered every
// question. It returns nil while the duel is still running. Only the caller
// whose conditional write completes the match notifies the players, so
// concurrent checks announce the result once.
func (c *Coordinator) CheckCompletion(ctx context.Context, matchId string) (*MatchResult, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	m, err := c.store.GetMatch(ctx, matchId)
	if err != nil {
		return nil, classify(err)
	}
	if m.Status == entities.StatusCompleted {
		return resultFromEntity(m), nil
	}
	if m.Status != entities.StatusActive || !m.BothFinished() {
		return nil, nil
	}

	done, err := c.store.CompleteMatch(ctx, matchId, m.WinnerId(), c.now())
	if err != nil {
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, classify(err)
		}
		current, getErr := c.store.GetMatch(ctx, matchId)
		if getErr != nil {
			return nil, classify(getErr)
		}
		if current.Status == entities.StatusCompleted {
			return resultFromEntity(current), nil
		}
		return nil, classify(err)
	}

	winner := "draw"
	if done.Winner != nil {
		winner = *done.Winner
	}
	logging.Info("duel completed",
		zap.String("match_id", matchId),
		zap.String("winner", winner),
	)
	ended := dtos.DuelEndedResponseFromEntity(done)
	c.notifyBoth(ctx, done, EventDuelEnded, func(entities.Role) interface{} { return ended })
	c.publish(ctx, done)
	return resultFromEntity(done), nil
}
