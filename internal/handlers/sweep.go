package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

// Sweeper removes waiting matches nobody joined in time and retries the
// disconnects of connections that are gone.
type Sweeper interface {
	SweepStaleMatches(ctx context.Context, now time.Time) (int, error)
	ReleaseDeadConnections(ctx context.Context) (int, error)
}

// Sweep handles the scheduled janitor event. The event time is used as the
// sweep clock so retried deliveries judge staleness the same way. A failing
// stale sweep does not stop the dead connection pass.
func Sweep(sweeper Sweeper) func(context.Context, events.CloudWatchEvent) error {
	return func(ctx context.Context, event events.CloudWatchEvent) error {
		now := event.Time
		if now.IsZero() {
			now = time.Now()
		}
		removed, sweepErr := sweeper.SweepStaleMatches(ctx, now.UTC())
		if sweepErr != nil {
			logging.Error("sweep failed", zap.Error(sweepErr))
		}
		released, releaseErr := sweeper.ReleaseDeadConnections(ctx)
		if releaseErr != nil {
			logging.Error("failed to release dead connections", zap.Error(releaseErr))
		}
		logging.Info("sweep finished",
			zap.Int("removed", removed),
			zap.Int("released", released),
		)
		return errors.Join(sweepErr, releaseErr)
	}
}
