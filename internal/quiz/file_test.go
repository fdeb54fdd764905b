package quiz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerFunc func(ctx context.Context, q entities.Quiz) error

func (f writerFunc) PutQuiz(ctx context.Context, q entities.Quiz) error {
	return f(ctx, q)
}

func writeQuizFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quizzes.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeQuizFile(t, `[
  {"id": "capitals", "title": "Capitals", "questions": [
    {"question": "Capital of France?", "options": ["Paris", "Rome"], "correct_answer": "Paris"},
    {"question": "Capital of Japan?", "correct_answer": "Tokyo", "explanation": "Since 1869."}
  ]}
]`)
	quizzes, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.Equal(t, "capitals", quizzes[0].Id)
	assert.Len(t, quizzes[0].Questions, 2)
	assert.Equal(t, "Since 1869.", quizzes[0].Questions[1].Explanation)
}

func TestLoadFileRejectsBadInput(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFile(writeQuizFile(t, `{"id": "not-an-array"}`))
	assert.Error(t, err)

	_, err = LoadFile(writeQuizFile(t, `[{"id": "empty", "questions": []}]`))
	assert.ErrorIs(t, err, ErrEmptyQuiz)

	_, err = LoadFile(writeQuizFile(t, `[{"id": "q", "questions": [{"question": "?", "options": ["a"], "correct_answer": "b"}]}]`))
	assert.ErrorContains(t, err, "not an option")
}

func TestSeed(t *testing.T) {
	var seeded []string
	w := writerFunc(func(_ context.Context, q entities.Quiz) error {
		if q.Id == "bad" {
			return errors.New("write failed")
		}
		seeded = append(seeded, q.Id)
		return nil
	})

	require.NoError(t, Seed(context.Background(), w, []entities.Quiz{{Id: "a"}, {Id: "b"}}))
	assert.Equal(t, []string{"a", "b"}, seeded)

	err := Seed(context.Background(), w, []entities.Quiz{{Id: "bad"}, {Id: "c"}})
	assert.ErrorContains(t, err, "bad")
	assert.Equal(t, []string{"a", "b"}, seeded)
}
