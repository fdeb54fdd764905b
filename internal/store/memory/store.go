// Package memory is a process-local match store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/store"
)

type Store struct {
	matches map[string]entities.Match
	mu      sync.Mutex
}

func NewStore() *Store {
	return &Store{
		matches: make(map[string]entities.Match),
	}
}

func (s *Store) CreateMatch(ctx context.Context, match entities.Match) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[match.MatchId]; exists {
		return store.ErrMatchExists
	}
	s.matches[match.MatchId] = match.Clone()
	return nil
}

func (s *Store) GetMatch(ctx context.Context, matchId string) (entities.Match, error) {
	if err := ctx.Err(); err != nil {
		return entities.Match{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchId]
	if !ok {
		return entities.Match{}, store.ErrMatchNotFound
	}
	return match.Clone(), nil
}

func (s *Store) FindWaitingMatch(ctx context.Context, quizId, excludeUserId string) (entities.Match, error) {
	matches, err := s.filter(ctx, func(m entities.Match) bool {
		return m.Status == entities.StatusWaiting &&
			m.QuizId == quizId &&
			!m.Player2.IsPaired() &&
			m.Player1.UserId != excludeUserId
	})
	if err != nil {
		return entities.Match{}, err
	}
	if len(matches) == 0 {
		return entities.Match{}, store.ErrMatchNotFound
	}
	return matches[0], nil
}

func (s *Store) JoinMatch(ctx context.Context, matchId string, opponent entities.PlayerState) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Join(opponent)
	})
}

func (s *Store) DeleteWaitingMatch(ctx context.Context, matchId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchId]
	if !ok {
		return store.ErrMatchNotFound
	}
	if err := match.CanDelete(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrConditionFailed, err)
	}
	delete(s.matches, matchId)
	return nil
}

func (s *Store) SetReady(ctx context.Context, matchId string, role entities.Role) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.MarkReady(role)
	})
}

func (s *Store) ActivateMatch(ctx context.Context, matchId string, startedAt time.Time) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Activate(startedAt)
	})
}

func (s *Store) AppendAnswer(
	ctx context.Context,
	matchId string,
	role entities.Role,
	record entities.AnswerRecord,
	points int,
) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.AppendAnswer(role, record, points)
	})
}

func (s *Store) CompleteMatch(ctx context.Context, matchId string, winner *string, completedAt time.Time) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Complete(winner, completedAt)
	})
}

func (s *Store) ForfeitMatch(ctx context.Context, matchId string, role entities.Role, completedAt time.Time) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Forfeit(role, completedAt)
	})
}

func (s *Store) RebindConnection(ctx context.Context, matchId string, role entities.Role, connectionRef string) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Rebind(role, connectionRef)
	})
}

func (s *Store) FindOpenMatchesByConnection(ctx context.Context, connectionRef string) ([]entities.Match, error) {
	return s.filter(ctx, func(m entities.Match) bool {
		_, ok := m.RoleOfConnection(connectionRef)
		return ok && m.Status.IsOpen()
	})
}

func (s *Store) ListOpenMatches(ctx context.Context) ([]entities.Match, error) {
	return s.filter(ctx, func(m entities.Match) bool {
		return m.Status.IsOpen()
	})
}

func (s *Store) FetchWaitingMatchesBefore(ctx context.Context, cutoff time.Time) ([]entities.Match, error) {
	return s.filter(ctx, func(m entities.Match) bool {
		return m.Status == entities.StatusWaiting && m.CreatedAt.Before(cutoff)
	})
}

// mutate applies fn to a copy of the stored match and commits it only if fn succeeds.
func (s *Store) mutate(ctx context.Context, matchId string, fn func(*entities.Match) error) (entities.Match, error) {
	if err := ctx.Err(); err != nil {
		return entities.Match{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.matches[matchId]
	if !ok {
		return entities.Match{}, store.ErrMatchNotFound
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return entities.Match{}, fmt.Errorf("%w: %w", store.ErrConditionFailed, err)
	}
	s.matches[matchId] = next
	return next.Clone(), nil
}

// filter returns matching records ordered by creation time.
func (s *Store) filter(ctx context.Context, keep func(entities.Match) bool) ([]entities.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []entities.Match
	for _, m := range s.matches {
		if keep(m) {
			result = append(result, m.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].MatchId < result[j].MatchId
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
