// Package quiz loads the question sets a duel is played on.
package quiz

import (
	"context"
	"errors"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

var (
	ErrQuizNotFound    = errors.New("quiz not found")
	ErrQuizUnavailable = errors.New("quiz source unavailable")
	ErrEmptyQuiz       = errors.New("quiz has no questions")
)

// Source is the authoritative quiz catalogue. Implementations return
// ErrQuizNotFound for unknown ids and wrap transport failures in
// ErrQuizUnavailable.
type Source interface {
	GetQuiz(ctx context.Context, quizId string) (entities.Quiz, error)
}

// StaticSource serves a fixed set of quizzes from memory.
type StaticSource struct {
	quizzes map[string]entities.Quiz
}

func NewStaticSource(quizzes ...entities.Quiz) *StaticSource {
	s := &StaticSource{quizzes: make(map[string]entities.Quiz, len(quizzes))}
	for _, q := range quizzes {
		s.quizzes[q.Id] = q
	}
	return s
}

func (s *StaticSource) GetQuiz(ctx context.Context, quizId string) (entities.Quiz, error) {
	if err := ctx.Err(); err != nil {
		return entities.Quiz{}, err
	}
	q, ok := s.quizzes[quizId]
	if !ok {
		return entities.Quiz{}, ErrQuizNotFound
	}
	return q, nil
}
