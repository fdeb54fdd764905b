package duel

import (
	"context"
	"errors"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/store"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

// SweepStaleMatches deletes waiting matches created more than StaleAfter
// before now and returns how many were removed. Matches that got an
// opponent since they were listed survive the sweep. It also completes
// active matches whose players both finished but whose completion write
// failed at the time.
func (c *Coordinator) SweepStaleMatches(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	stale, err := c.store.FetchWaitingMatchesBefore(ctx, now.Add(-c.cfg.StaleAfter))
	if err != nil {
		return 0, classify(err)
	}
	var (
		deleted int
		errs    []error
	)
	for _, m := range stale {
		err := c.store.DeleteWaitingMatch(ctx, m.MatchId)
		switch {
		case err == nil:
			deleted++
			logging.Info("stale waiting match swept",
				zap.String("match_id", m.MatchId),
				zap.Time("created_at", m.CreatedAt),
			)
		case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrMatchNotFound):
		default:
			errs = append(errs, classify(err))
		}
	}
	if err := c.completeFinished(ctx); err != nil {
		errs = append(errs, err)
	}
	return deleted, errors.Join(errs...)
}

func (c *Coordinator) completeFinished(ctx context.Context) error {
	open, err := c.store.ListOpenMatches(ctx)
	if err != nil {
		return classify(err)
	}
	var errs []error
	for _, m := range open {
		if m.Status != entities.StatusActive || !m.BothFinished() {
			continue
		}
		if _, err := c.CheckCompletion(ctx, m.MatchId); err != nil {
			errs = append(errs, err)
			continue
		}
		logging.Info("finished match completed by sweep", zap.String("match_id", m.MatchId))
	}
	return errors.Join(errs...)
}
