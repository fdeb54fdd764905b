package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "duel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) duel.Store {
		return openTempStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duel.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestQuizzes(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	_, err := s.GetQuiz(ctx, "quiz-1")
	assert.ErrorIs(t, err, quiz.ErrQuizNotFound)

	q := entities.Quiz{
		Id:    "quiz-1",
		Title: "Capitals",
		Questions: []entities.Question{
			{Question: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"},
			{Question: "Capital of Italy?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Rome", Explanation: "Since 1871"},
		},
	}
	require.NoError(t, s.PutQuiz(ctx, q))
	got, err := s.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, q, got)

	q.Title = "European capitals"
	require.NoError(t, s.PutQuiz(ctx, q))
	got, err = s.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, "European capitals", got.Title)
}
