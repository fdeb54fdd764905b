package duel

import (
	"context"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

// Store is the durable match repository. Every mutating method is a single
// atomic conditional write: it either applies the matching entities.Match
// transition against the latest persisted state or fails with
// store.ErrConditionFailed and changes nothing. Mutations return the state
// after the write.
type Store interface {
	CreateMatch(ctx context.Context, match entities.Match) error
	GetMatch(ctx context.Context, matchId string) (entities.Match, error)
	// FindWaitingMatch returns the oldest waiting match for quizId whose
	// player1 is not excludeUserId, or store.ErrMatchNotFound.
	FindWaitingMatch(ctx context.Context, quizId, excludeUserId string) (entities.Match, error)
	JoinMatch(ctx context.Context, matchId string, opponent entities.PlayerState) (entities.Match, error)
	DeleteWaitingMatch(ctx context.Context, matchId string) error
	SetReady(ctx context.Context, matchId string, role entities.Role) (entities.Match, error)
	ActivateMatch(ctx context.Context, matchId string, startedAt time.Time) (entities.Match, error)
	AppendAnswer(ctx context.Context, matchId string, role entities.Role, record entities.AnswerRecord, points int) (entities.Match, error)
	CompleteMatch(ctx context.Context, matchId string, winner *string, completedAt time.Time) (entities.Match, error)
	ForfeitMatch(ctx context.Context, matchId string, role entities.Role, completedAt time.Time) (entities.Match, error)
	RebindConnection(ctx context.Context, matchId string, role entities.Role, connectionRef string) (entities.Match, error)
	FindOpenMatchesByConnection(ctx context.Context, connectionRef string) ([]entities.Match, error)
	ListOpenMatches(ctx context.Context) ([]entities.Match, error)
	FetchWaitingMatchesBefore(ctx context.Context, cutoff time.Time) ([]entities.Match, error)
}
