// Package storetest is a conformance suite shared by the match store implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.UnixMilli(1_760_000_000_000).UTC()

// Run executes the suite against stores produced by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) duel.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s duel.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"FindWaitingMatch", testFindWaitingMatch},
		{"JoinIsExclusive", testJoinIsExclusive},
		{"ReadyAndActivate", testReadyAndActivate},
		{"ActivateOnce", testActivateOnce},
		{"AppendAnswer", testAppendAnswer},
		{"AppendAnswerSameIndexOnce", testAppendAnswerSameIndexOnce},
		{"AppendAnswerBothPlayers", testAppendAnswerBothPlayers},
		{"CompleteMatch", testCompleteMatch},
		{"ForfeitMatch", testForfeitMatch},
		{"ForfeitAfterBothFinished", testForfeitAfterBothFinished},
		{"DeleteWaitingMatch", testDeleteWaitingMatch},
		{"RebindConnection", testRebindConnection},
		{"Queries", testQueries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func player(userId string) entities.PlayerState {
	return entities.NewPlayerState(userId, "conn-"+userId, "User "+userId, userId+".png")
}

func twoQuestions(quizId string) entities.Quiz {
	return entities.Quiz{
		Id:    quizId,
		Title: "Quiz " + quizId,
		Questions: []entities.Question{
			{Question: "2 + 2?", Options: []string{"3", "4"}, CorrectAnswer: "4"},
			{Question: "Capital of Japan?", Options: []string{"Tokyo", "Osaka"}, CorrectAnswer: "Tokyo", Explanation: "Since 1868."},
		},
	}
}

func createWaiting(t *testing.T, s duel.Store, matchId, quizId, userId string, createdAt time.Time) entities.Match {
	t.Helper()
	m := entities.NewMatch(matchId, twoQuestions(quizId), player(userId), createdAt)
	require.NoError(t, s.CreateMatch(context.Background(), m))
	return m
}

func createActive(t *testing.T, s duel.Store, matchId string) {
	t.Helper()
	ctx := context.Background()
	createWaiting(t, s, matchId, "quiz-1", "alice", baseTime)
	_, err := s.JoinMatch(ctx, matchId, player("bob"))
	require.NoError(t, err)
	_, err = s.SetReady(ctx, matchId, entities.RolePlayer1)
	require.NoError(t, err)
	_, err = s.SetReady(ctx, matchId, entities.RolePlayer2)
	require.NoError(t, err)
	_, err = s.ActivateMatch(ctx, matchId, baseTime.Add(time.Second))
	require.NoError(t, err)
}

func testCreateAndGet(t *testing.T, s duel.Store) {
	ctx := context.Background()
	_, err := s.GetMatch(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrMatchNotFound)

	createWaiting(t, s, "m1", "quiz-1", "alice", baseTime)
	err = s.CreateMatch(ctx, entities.NewMatch("m1", twoQuestions("quiz-1"), player("carol"), baseTime))
	assert.Error(t, err)

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MatchId)
	assert.Equal(t, "quiz-1", got.QuizId)
	assert.Equal(t, 2, got.TotalQuestions)
	assert.Equal(t, "Quiz quiz-1", got.QuizTitle)
	assert.Equal(t, twoQuestions("quiz-1").Questions, got.Questions, "question snapshot survives a round trip")
	assert.Equal(t, entities.StatusWaiting, got.Status)
	assert.Equal(t, "alice", got.Player1.UserId)
	assert.Equal(t, "conn-alice", got.Player1.ConnectionRef)
	assert.Equal(t, "User alice", got.Player1.DisplayName)
	assert.Equal(t, "alice.png", got.Player1.Avatar)
	assert.True(t, got.Player1.IsActive)
	assert.False(t, got.Player2.IsPaired())
	assert.Nil(t, got.Winner)
	assert.True(t, got.CreatedAt.Equal(baseTime))
}

func testFindWaitingMatch(t *testing.T, s duel.Store) {
	ctx := context.Background()
	_, err := s.FindWaitingMatch(ctx, "quiz-1", "alice")
	assert.ErrorIs(t, err, store.ErrMatchNotFound)

	createWaiting(t, s, "m-new", "quiz-1", "carol", baseTime.Add(time.Minute))
	createWaiting(t, s, "m-old", "quiz-1", "alice", baseTime)
	createWaiting(t, s, "m-other", "quiz-2", "dave", baseTime)

	got, err := s.FindWaitingMatch(ctx, "quiz-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "m-old", got.MatchId, "oldest waiting match first")

	got, err = s.FindWaitingMatch(ctx, "quiz-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "m-new", got.MatchId, "never the caller's own match")

	_, err = s.JoinMatch(ctx, "m-old", player("bob"))
	require.NoError(t, err)
	got, err = s.FindWaitingMatch(ctx, "quiz-1", "erin")
	require.NoError(t, err)
	assert.Equal(t, "m-new", got.MatchId)
}

func testJoinIsExclusive(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createWaiting(t, s, "m1", "quiz-1", "alice", baseTime)

	_, err := s.JoinMatch(ctx, "m1", player("alice"))
	assert.ErrorIs(t, err, store.ErrConditionFailed, "self pairing")

	const contenders = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.JoinMatch(ctx, "m1", player(fmt.Sprintf("p%d", i)))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrConditionFailed)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusReady, got.Status)
	p2, ok := got.Player2.Player()
	require.True(t, ok)
	assert.NotEqual(t, "alice", p2.UserId)
	assert.True(t, p2.IsActive)
}

func testReadyAndActivate(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createWaiting(t, s, "m1", "quiz-1", "alice", baseTime)

	got, err := s.SetReady(ctx, "m1", entities.RolePlayer1)
	require.NoError(t, err)
	assert.True(t, got.Player1.IsReady)
	assert.Equal(t, entities.StatusWaiting, got.Status)

	_, err = s.SetReady(ctx, "m1", entities.RolePlayer2)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	_, err = s.JoinMatch(ctx, "m1", player("bob"))
	require.NoError(t, err)
	_, err = s.ActivateMatch(ctx, "m1", baseTime)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "player2 not ready")

	got, err = s.SetReady(ctx, "m1", entities.RolePlayer2)
	require.NoError(t, err)
	assert.True(t, got.Player1.IsReady, "join keeps player1 readiness")
	p2, _ := got.Player2.Player()
	assert.True(t, p2.IsReady)

	got, err = s.ActivateMatch(ctx, "m1", baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(baseTime.Add(time.Second)))

	_, err = s.SetReady(ctx, "m1", entities.RolePlayer1)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func testActivateOnce(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createWaiting(t, s, "m1", "quiz-1", "alice", baseTime)
	_, err := s.JoinMatch(ctx, "m1", player("bob"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, role := range []entities.Role{entities.RolePlayer1, entities.RolePlayer2} {
		wg.Add(1)
		go func(role entities.Role) {
			defer wg.Done()
			_, err := s.SetReady(ctx, "m1", role)
			assert.NoError(t, err)
		}(role)
	}
	wg.Wait()

	var wins atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ActivateMatch(ctx, "m1", baseTime); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testAppendAnswer(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createWaiting(t, s, "waiting", "quiz-1", "carol", baseTime)
	_, err := s.AppendAnswer(ctx, "waiting", entities.RolePlayer1, entities.AnswerRecord{QuestionIndex: 0}, 0)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "match not active")

	createActive(t, s, "m1")
	_, err = s.AppendAnswer(ctx, "m1", entities.RolePlayer1, entities.AnswerRecord{QuestionIndex: 1}, 100)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "out of order")

	rec := entities.AnswerRecord{
		QuestionIndex: 0,
		AnswerValue:   "Paris",
		IsCorrect:     true,
		TimeSpentMs:   5000,
		RecordedAt:    baseTime.Add(5 * time.Second),
	}
	got, err := s.AppendAnswer(ctx, "m1", entities.RolePlayer1, rec, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Player1.Score)
	assert.Equal(t, 1, got.Player1.CorrectAnswers)
	assert.Equal(t, int64(5000), got.Player1.TotalTimeMs)
	require.Len(t, got.Player1.Answers, 1)
	assert.Equal(t, "Paris", got.Player1.Answers[0].AnswerValue)
	assert.True(t, got.Player1.Answers[0].RecordedAt.Equal(rec.RecordedAt))

	got, err = s.AppendAnswer(ctx, "m1", entities.RolePlayer1, entities.AnswerRecord{QuestionIndex: 1, AnswerValue: "x", TimeSpentMs: 1000}, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Player1.Score)
	assert.Equal(t, int64(6000), got.Player1.TotalTimeMs)

	_, err = s.AppendAnswer(ctx, "m1", entities.RolePlayer1, entities.AnswerRecord{QuestionIndex: 2}, 0)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "beyond last question")
}

func testAppendAnswerSameIndexOnce(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createActive(t, s, "m1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendAnswer(ctx, "m1", entities.RolePlayer1, entities.AnswerRecord{QuestionIndex: 0, IsCorrect: true}, 100)
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got.Player1.Answers, 1)
	assert.Equal(t, 100, got.Player1.Score)
}

func testAppendAnswerBothPlayers(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createActive(t, s, "m1")

	var wg sync.WaitGroup
	for _, role := range []entities.Role{entities.RolePlayer1, entities.RolePlayer2} {
		wg.Add(1)
		go func(role entities.Role) {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				_, err := s.AppendAnswer(ctx, "m1", role, entities.AnswerRecord{QuestionIndex: i, IsCorrect: true, TimeSpentMs: 10}, 100)
				assert.NoError(t, err)
			}
		}(role)
	}
	wg.Wait()

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	p2, _ := got.Player2.Player()
	for _, p := range []entities.PlayerState{got.Player1, p2} {
		assert.Equal(t, 200, p.Score)
		assert.Equal(t, 2, p.CorrectAnswers)
		assert.Equal(t, int64(20), p.TotalTimeMs)
		require.Len(t, p.Answers, 2)
		assert.Equal(t, 0, p.Answers[0].QuestionIndex)
		assert.Equal(t, 1, p.Answers[1].QuestionIndex)
	}
	assert.True(t, got.BothFinished())
}

func testCompleteMatch(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createActive(t, s, "m1")
	winner := "bob"

	_, err := s.CompleteMatch(ctx, "m1", &winner, baseTime)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "not finished")

	for _, role := range []entities.Role{entities.RolePlayer1, entities.RolePlayer2} {
		for i := 0; i < 2; i++ {
			_, err := s.AppendAnswer(ctx, "m1", role, entities.AnswerRecord{QuestionIndex: i}, 0)
			require.NoError(t, err)
		}
	}

	got, err := s.CompleteMatch(ctx, "m1", &winner, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, "bob", *got.Winner)
	assert.Equal(t, entities.EndReasonFinished, got.EndReason)
	require.NotNil(t, got.CompletedAt)

	_, err = s.CompleteMatch(ctx, "m1", nil, baseTime)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	_, err = s.ForfeitMatch(ctx, "m1", entities.RolePlayer1, baseTime)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	got, err = s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "bob", *got.Winner, "completed record is immutable")
}

func testForfeitMatch(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createActive(t, s, "m1")
	_, err := s.AppendAnswer(ctx, "m1", entities.RolePlayer2, entities.AnswerRecord{QuestionIndex: 0, IsCorrect: true}, 100)
	require.NoError(t, err)

	got, err := s.ForfeitMatch(ctx, "m1", entities.RolePlayer2, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, "alice", *got.Winner)
	assert.Equal(t, entities.EndReasonForfeit, got.EndReason)
	assert.Equal(t, "bob", got.ForfeitedBy)
	p2, _ := got.Player2.Player()
	assert.False(t, p2.IsActive)
	assert.Len(t, p2.Answers, 1)

	_, err = s.ForfeitMatch(ctx, "m1", entities.RolePlayer2, baseTime)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "idempotent")

	createWaiting(t, s, "m2", "quiz-1", "carol", baseTime)
	_, err = s.ForfeitMatch(ctx, "m2", entities.RolePlayer1, baseTime)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "nothing to forfeit while waiting")
}

func testForfeitAfterBothFinished(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createActive(t, s, "m1")
	for _, role := range []entities.Role{entities.RolePlayer1, entities.RolePlayer2} {
		for i := 0; i < 2; i++ {
			_, err := s.AppendAnswer(ctx, "m1", role, entities.AnswerRecord{QuestionIndex: i, IsCorrect: role == entities.RolePlayer1}, 100)
			require.NoError(t, err)
		}
	}

	_, err := s.ForfeitMatch(ctx, "m1", entities.RolePlayer1, baseTime.Add(time.Minute))
	assert.ErrorIs(t, err, store.ErrConditionFailed)
	assert.ErrorIs(t, err, entities.ErrPlayersFinished)

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, got.Status)
	assert.True(t, got.BothFinished())
}

func testDeleteWaitingMatch(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createWaiting(t, s, "m1", "quiz-1", "alice", baseTime)
	require.NoError(t, s.DeleteWaitingMatch(ctx, "m1"))
	_, err := s.GetMatch(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrMatchNotFound)

	createActive(t, s, "m2")
	assert.Error(t, s.DeleteWaitingMatch(ctx, "m2"))
	_, err = s.GetMatch(ctx, "m2")
	assert.NoError(t, err)
}

func testRebindConnection(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createActive(t, s, "m1")
	got, err := s.RebindConnection(ctx, "m1", entities.RolePlayer2, "conn-bob-2")
	require.NoError(t, err)
	p2, _ := got.Player2.Player()
	assert.Equal(t, "conn-bob-2", p2.ConnectionRef)

	_, err = s.ForfeitMatch(ctx, "m1", entities.RolePlayer1, baseTime)
	require.NoError(t, err)
	_, err = s.RebindConnection(ctx, "m1", entities.RolePlayer2, "conn-bob-3")
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func testQueries(t *testing.T, s duel.Store) {
	ctx := context.Background()
	createWaiting(t, s, "stale", "quiz-1", "alice", baseTime.Add(-11*time.Minute))
	createWaiting(t, s, "fresh", "quiz-2", "carol", baseTime)
	createActive(t, s, "active")

	byConn, err := s.FindOpenMatchesByConnection(ctx, "conn-alice")
	require.NoError(t, err)
	ids := matchIds(byConn)
	assert.ElementsMatch(t, []string{"stale", "active"}, ids)

	byConn, err = s.FindOpenMatchesByConnection(ctx, "conn-bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"active"}, matchIds(byConn))

	_, err = s.ForfeitMatch(ctx, "active", entities.RolePlayer2, baseTime)
	require.NoError(t, err)
	byConn, err = s.FindOpenMatchesByConnection(ctx, "conn-bob")
	require.NoError(t, err)
	assert.Empty(t, byConn, "completed matches are not open")

	open, err := s.ListOpenMatches(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stale", "fresh"}, matchIds(open))

	stale, err := s.FetchWaitingMatchesBefore(ctx, baseTime.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, matchIds(stale))
}

func matchIds(matches []entities.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.MatchId)
	}
	return ids
}
