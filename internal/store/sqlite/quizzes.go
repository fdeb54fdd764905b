package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/quiz"
)

var _ quiz.Source = (*Store)(nil)

func (s *Store) GetQuiz(ctx context.Context, quizId string) (entities.Quiz, error) {
	if err := ctx.Err(); err != nil {
		return entities.Quiz{}, err
	}
	var (
		title     string
		questions string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT title, questions FROM quizzes WHERE quiz_id = ?`,
		quizId,
	).Scan(&title, &questions)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Quiz{}, quiz.ErrQuizNotFound
	}
	if err != nil {
		return entities.Quiz{}, fmt.Errorf("%w: %w", quiz.ErrQuizUnavailable, err)
	}
	q := entities.Quiz{Id: quizId, Title: title}
	if err := json.Unmarshal([]byte(questions), &q.Questions); err != nil {
		return entities.Quiz{}, fmt.Errorf("decode quiz %s: %w", quizId, err)
	}
	return q, nil
}

// PutQuiz inserts or replaces a quiz.
func (s *Store) PutQuiz(ctx context.Context, q entities.Quiz) error {
	if q.Id == "" {
		return errors.New("quiz id is required")
	}
	questions, err := json.Marshal(q.Questions)
	if err != nil {
		return fmt.Errorf("encode quiz: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO quizzes (quiz_id, title, questions) VALUES (?, ?, ?)
		 ON CONFLICT(quiz_id) DO UPDATE SET title = excluded.title, questions = excluded.questions`,
		q.Id, q.Title, string(questions),
	)
	if err != nil {
		return fmt.Errorf("put quiz: %w", err)
	}
	return nil
}
