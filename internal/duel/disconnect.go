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

// OnDisconnect ends every open match bound to connectionRef. Waiting matches
// are deleted; paired ones are forfeited to the opponent, who is sent
// opponent-disconnected followed by duel-ended. A match both players already
// finished is completed on score instead of forfeited. Matches that are
// already completed are left untouched, so repeated calls are harmless.
func (c *Coordinator) OnDisconnect(ctx context.Context, connectionRef string) error {
	if connectionRef == "" {
		return nil
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	matches, err := c.store.FindOpenMatchesByConnection(ctx, connectionRef)
	if err != nil {
		return classify(err)
	}
	var errs []error
	for _, m := range matches {
		if err := c.abandon(ctx, m, connectionRef); err != nil {
			logging.Error("failed to handle disconnect",
				zap.String("match_id", m.MatchId),
				zap.String("connection_ref", connectionRef),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseDeadConnections runs disconnect handling again for every active
// participant of an open match whose connection is gone, which covers
// disconnect events that failed or never arrived. It returns how many
// connections were released. Without a liveness checker every connection
// counts as live and nothing is released.
func (c *Coordinator) ReleaseDeadConnections(ctx context.Context) (int, error) {
	if c.liveness == nil {
		return 0, nil
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	open, err := c.store.ListOpenMatches(ctx)
	if err != nil {
		return 0, classify(err)
	}
	var (
		released int
		errs     []error
		checked  = make(map[string]bool)
	)
	for _, m := range open {
		players := []entities.PlayerState{m.Player1}
		if p2, ok := m.Player2.Player(); ok {
			players = append(players, p2)
		}
		for _, p := range players {
			ref := p.ConnectionRef
			if ref == "" || !p.IsActive || checked[ref] {
				continue
			}
			checked[ref] = true
			if c.isLive(ctx, ref) {
				continue
			}
			if err := c.OnDisconnect(ctx, ref); err != nil {
				errs = append(errs, err)
				continue
			}
			released++
			logging.Info("dead connection released",
				zap.String("match_id", m.MatchId),
				zap.String("connection_ref", ref),
			)
		}
	}
	return released, errors.Join(errs...)
}

func (c *Coordinator) abandon(ctx context.Context, m entities.Match, connectionRef string) error {
	role, ok := m.RoleOfConnection(connectionRef)
	if !ok {
		return nil
	}
	if m.Status == entities.StatusWaiting {
		err := c.store.DeleteWaitingMatch(ctx, m.MatchId)
		switch {
		case err == nil:
			logging.Info("waiting match abandoned", zap.String("match_id", m.MatchId))
			return nil
		case errors.Is(err, store.ErrMatchNotFound):
			return nil
		case !errors.Is(err, store.ErrConditionFailed):
			return classify(err)
		}
		// An opponent joined in the meantime; forfeit instead.
	}

	done, err := c.store.ForfeitMatch(ctx, m.MatchId, role, c.now())
	switch {
	case errors.Is(err, entities.ErrPlayersFinished):
		// Both players are done; the leaver keeps their score and the
		// match is decided as if it had finished normally.
		_, err := c.CheckCompletion(ctx, m.MatchId)
		return err
	case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrMatchNotFound):
		return nil
	case err != nil:
		return classify(err)
	}

	logging.Info("player forfeited by disconnect",
		zap.String("match_id", done.MatchId),
		zap.String("player_id", done.ForfeitedBy),
	)
	opponent, _ := done.Opponent(role)
	c.notify(ctx, opponent.ConnectionRef, EventOpponentDisconnected, dtos.OpponentDisconnectedResponse{
		MatchId:      done.MatchId,
		Winner:       opponent.UserId,
		Disconnected: done.ForfeitedBy,
		Scores:       dtos.ScoresFromEntity(done),
	})
	c.notify(ctx, opponent.ConnectionRef, EventDuelEnded, dtos.DuelEndedResponseFromEntity(done))
	c.publish(ctx, done)
	return nil
}
