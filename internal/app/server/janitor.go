package server

import (
	"context"
	"fmt"

	"github.com/chess-vn/slduel/pkg/logging"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

func (s *server) startJanitor() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.config.SweepInterval),
		gocron.NewTask(s.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}
	sched.Start()
	s.scheduler = sched
	logging.Info("janitor scheduled", zap.Duration("interval", s.config.SweepInterval))
	return nil
}

func (s *server) stopJanitor() {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Shutdown(); err != nil {
		logging.Warn("failed to stop janitor", zap.Error(err))
	}
}

// sweep deletes stale waiting matches and forfeits the matches of indexed
// connections that went away without a disconnect being handled, such as
// the connections of a previous process that nobody resumed.
func (s *server) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepInterval)
	defer cancel()
	now := s.now()

	deleted, err := s.coord.SweepStaleMatches(ctx, now)
	if err != nil {
		logging.Error("failed to sweep stale matches", zap.Error(err))
	}
	if deleted > 0 {
		logging.Info("stale matches deleted", zap.Int("count", deleted))
	}

	for _, ref := range s.registry.orphans(s.sessions.has, now.Add(-s.config.ResumeGrace)) {
		matchIds := s.registry.matchesOf(ref)
		if len(matchIds) == 0 {
			// released together with a peer earlier in this sweep
			continue
		}
		if err := s.gateway.Disconnect(ctx, ref); err != nil {
			logging.Error("failed to release orphaned connection",
				zap.String("connection_ref", ref),
				zap.Error(err),
			)
			continue
		}
		s.registry.unbind(ref)
		s.registry.release(matchIds)
		logging.Info("orphaned connection released",
			zap.String("connection_ref", ref),
			zap.Strings("match_ids", matchIds),
		)
	}
}
