package duel

import (
	"context"
	"errors"
	"fmt"

	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

type AnswerResult struct {
	QuestionIndex int
	IsCorrect     bool
	CorrectAnswer string
	Explanation   string
	PointsEarned  int
	// Finished is set when this answer was the player's last one.
	Finished bool
}

// SubmitAnswer scores one answer and advances the submitting player's cursor.
// The opponent's cursor is never touched.
func (c *Coordinator) SubmitAnswer(
	ctx context.Context,
	matchId string,
	userId string,
	questionIndex int,
	answer string,
	timeSpentMs int64,
) (AnswerResult, error) {
	if timeSpentMs < 0 {
		return AnswerResult{}, fmt.Errorf("%w: negative time spent", ErrInvalidArgument)
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	m, err := c.store.GetMatch(ctx, matchId)
	if err != nil {
		return AnswerResult{}, classify(err)
	}
	role, ok := m.RoleOf(userId)
	if !ok {
		return AnswerResult{}, ErrNotParticipant
	}
	if err := c.precheckAnswer(m, role, questionIndex); err != nil {
		logging.Info("answer rejected",
			zap.String("match_id", matchId),
			zap.String("player_id", userId),
			zap.Int("question_index", questionIndex),
			zap.Error(err),
		)
		return AnswerResult{}, err
	}

	question, ok := m.Question(questionIndex)
	if !ok {
		return AnswerResult{}, fmt.Errorf("%w: match %s has %d questions", ErrInvalidState, matchId, len(m.Questions))
	}
	correct := question.IsCorrect(answer)
	points := 0
	if correct {
		points = c.cfg.PointsPerCorrect
	}

	updated, err := c.store.AppendAnswer(ctx, matchId, role, entities.AnswerRecord{
		QuestionIndex: questionIndex,
		AnswerValue:   answer,
		IsCorrect:     correct,
		TimeSpentMs:   timeSpentMs,
		RecordedAt:    c.now(),
	}, points)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrOutOfOrder) {
			logging.Info("answer rejected",
				zap.String("match_id", matchId),
				zap.String("player_id", userId),
				zap.Int("question_index", questionIndex),
				zap.Error(err),
			)
		}
		return AnswerResult{}, err
	}

	result := AnswerResult{
		QuestionIndex: questionIndex,
		IsCorrect:     correct,
		CorrectAnswer: question.CorrectAnswer,
		Explanation:   question.Explanation,
		PointsEarned:  points,
	}

	scores := dtos.ScoreUpdateResponse{MatchId: matchId, Scores: dtos.ScoresFromEntity(updated)}
	c.notifyBoth(ctx, updated, EventScoreUpdate, func(entities.Role) interface{} { return scores })

	player, _ := updated.Player(role)
	if next := player.Cursor(); next < updated.TotalQuestions {
		if _, ok := updated.Question(next); ok {
			c.notify(ctx, player.ConnectionRef, EventNextQuestion, dtos.QuestionResponseFromEntity(updated, next))
		}
		return result, nil
	}

	result.Finished = true
	c.notify(ctx, player.ConnectionRef, EventPlayerCompleted, dtos.PlayerCompletedResponse{
		MatchId: matchId,
		Player:  dtos.PlayerScoreResponseFromEntity(player),
	})
	if _, err := c.CheckCompletion(ctx, matchId); err != nil {
		// The answer is stored. A later disconnect or the janitor sweep
		// completes the match; neither can forfeit it any more.
		logging.Error("failed to check match completion",
			zap.String("match_id", matchId),
			zap.Error(err),
		)
	}
	return result, nil
}

// precheckAnswer rejects hopeless submissions before anything is graded.
// The store write re-checks everything against the latest state.
func (c *Coordinator) precheckAnswer(m entities.Match, role entities.Role, questionIndex int) error {
	if m.Status != entities.StatusActive {
		return fmt.Errorf("%w: match is %s", ErrInvalidState, m.Status)
	}
	p, _ := m.Player(role)
	if !p.IsActive {
		return fmt.Errorf("%w: player is no longer active", ErrInvalidState)
	}
	if questionIndex != p.Cursor() || questionIndex >= m.TotalQuestions {
		return fmt.Errorf("%w: expected question %d, got %d", ErrOutOfOrder, p.Cursor(), questionIndex)
	}
	return nil
}
