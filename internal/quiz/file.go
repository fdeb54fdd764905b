package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

// Writer stores quizzes in a catalogue.
type Writer interface {
	PutQuiz(ctx context.Context, q entities.Quiz) error
}

// LoadFile reads a JSON array of quizzes and checks each one is playable.
func LoadFile(path string) ([]entities.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quiz file: %w", err)
	}
	var quizzes []entities.Quiz
	if err := json.Unmarshal(data, &quizzes); err != nil {
		return nil, fmt.Errorf("failed to decode quiz file: %w", err)
	}
	for _, q := range quizzes {
		if err := Validate(q); err != nil {
			return nil, err
		}
	}
	return quizzes, nil
}

// Validate rejects quizzes a duel cannot be played on.
func Validate(q entities.Quiz) error {
	if q.Id == "" {
		return fmt.Errorf("quiz %q: missing id", q.Title)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %s: %w", q.Id, ErrEmptyQuiz)
	}
	for i, question := range q.Questions {
		if question.CorrectAnswer == "" {
			return fmt.Errorf("quiz %s question %d: missing correct answer", q.Id, i)
		}
		if len(question.Options) > 0 && !slices.ContainsFunc(question.Options, question.IsCorrect) {
			return fmt.Errorf("quiz %s question %d: correct answer is not an option", q.Id, i)
		}
	}
	return nil
}

// Seed writes quizzes into a catalogue, stopping at the first failure.
func Seed(ctx context.Context, w Writer, quizzes []entities.Quiz) error {
	for _, q := range quizzes {
		if err := w.PutQuiz(ctx, q); err != nil {
			return fmt.Errorf("failed to seed quiz %s: %w", q.Id, err)
		}
	}
	return nil
}
