package duel_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/internal/store"
	"github.com/chess-vn/slduel/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	connectionRef string
	notification  dtos.Notification
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(_ context.Context, connectionRef string, notification dtos.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{connectionRef, notification})
	return nil
}

func (n *recordingNotifier) to(connectionRef, kind string) []dtos.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []dtos.Notification
	for _, s := range n.sent {
		if s.connectionRef == connectionRef && s.notification.Type == kind {
			out = append(out, s.notification)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type deadConnections map[string]bool

func (d deadConnections) IsLive(_ context.Context, connectionRef string) (bool, error) {
	return !d[connectionRef], nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	matches []entities.Match
}

func (p *recordingPublisher) PublishResult(_ context.Context, m entities.Match) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches = append(p.matches, m)
	return nil
}

func (p *recordingPublisher) published() []entities.Match {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entities.Match(nil), p.matches...)
}

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	notifier  *recordingNotifier
	publisher *recordingPublisher
	dead      deadConnections
	coord     *duel.Coordinator
	now       time.Time
}

func capitals() entities.Quiz {
	return entities.Quiz{
		Id:    "quiz-q",
		Title: "Capitals",
		Questions: []entities.Question{
			{Question: "Capital of France?", Options: []string{"Paris", "Lyon"}, CorrectAnswer: "Paris"},
			{Question: "Capital of Italy?", Options: []string{"Rome", "Milan"}, CorrectAnswer: "Rome"},
			{Question: "Capital of Spain?", Options: []string{"Madrid", "Seville"}, CorrectAnswer: "Madrid"},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, nil, quiz.NewCache(quiz.NewStaticSource(capitals()), 0))
}

// newHarnessOn builds a harness whose coordinator reaches the memory store
// through wrap, when given, and reads quizzes from quizzes.
func newHarnessOn(t *testing.T, wrap func(*memory.Store) duel.Store, quizzes quiz.Source) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		dead:      deadConnections{},
		now:       t0,
	}
	var backend duel.Store = h.store
	if wrap != nil {
		backend = wrap(h.store)
	}
	var seq atomic.Int64
	h.coord = duel.NewCoordinator(
		backend,
		quizzes,
		h.notifier,
		duel.DefaultConfig(),
		duel.WithLiveness(h.dead),
		duel.WithPublisher(h.publisher),
		duel.WithClock(func() time.Time { return h.now }),
		duel.WithIdGenerator(func() string { return fmt.Sprintf("match-%d", seq.Add(1)) }),
	)
	return h
}

func participant(userId string) duel.Participant {
	return duel.Participant{
		UserId:        userId,
		ConnectionRef: "conn-" + userId,
		DisplayName:   "User " + userId,
		Avatar:        userId + ".png",
	}
}

// pair returns a ready match between alice (player1) and bob (player2).
func (h *harness) pair(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	a, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	b, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("bob"))
	require.NoError(t, err)
	require.Equal(t, a.MatchId, b.MatchId)
	return a.MatchId
}

// start returns an active match between alice and bob.
func (h *harness) start(t *testing.T) string {
	t.Helper()
	matchId := h.pair(t)
	ctx := context.Background()
	_, err := h.coord.MarkReady(ctx, matchId, "alice")
	require.NoError(t, err)
	status, err := h.coord.MarkReady(ctx, matchId, "bob")
	require.NoError(t, err)
	require.Equal(t, duel.ReadyStatusReady, status)
	return matchId
}

func (h *harness) answer(t *testing.T, matchId, userId string, index int, answer string, ms int64) duel.AnswerResult {
	t.Helper()
	res, err := h.coord.SubmitAnswer(context.Background(), matchId, userId, index, answer, ms)
	require.NoError(t, err)
	return res
}

func TestFindOrCreateMatchPairsTwoPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	assert.True(t, a.Waiting)
	assert.Equal(t, entities.RolePlayer1, a.Role)

	m, err := h.store.GetMatch(ctx, a.MatchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusWaiting, m.Status)
	assert.Equal(t, 3, m.TotalQuestions)
	assert.Empty(t, h.notifier.to("conn-alice", duel.EventMatchFound))

	b, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("bob"))
	require.NoError(t, err)
	assert.False(t, b.Waiting)
	assert.Equal(t, entities.RolePlayer2, b.Role)
	assert.Equal(t, a.MatchId, b.MatchId)

	m, err = h.store.GetMatch(ctx, a.MatchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusReady, m.Status)

	for conn, role := range map[string]string{"conn-alice": "player1", "conn-bob": "player2"} {
		found := h.notifier.to(conn, duel.EventMatchFound)
		require.Len(t, found, 1, conn)
		data, ok := found[0].Data.(dtos.MatchFoundResponse)
		require.True(t, ok)
		assert.Equal(t, "Capitals", data.QuizTitle)
		assert.Equal(t, 3, data.TotalQuestions)
		assert.Equal(t, role, data.Role)
		assert.Equal(t, "alice", data.Player1.UserId)
		assert.Equal(t, "User bob", data.Player2.DisplayName)
	}
}

func TestFindOrCreateMatchNeverPairsWithSelf(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	otherTab := participant("alice")
	otherTab.ConnectionRef = "conn-alice-2"
	second, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", otherTab)
	require.NoError(t, err)

	assert.True(t, second.Waiting)
	assert.NotEqual(t, first.MatchId, second.MatchId)
}

func TestFindOrCreateMatchReusesOpenMatchOfConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	again, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	open, err := h.store.ListOpenMatches(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1, "repeated request opens no second waiting match")

	b, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("bob"))
	require.NoError(t, err)
	require.Equal(t, first.MatchId, b.MatchId)

	again, err = h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("bob"))
	require.NoError(t, err)
	assert.Equal(t, duel.Assignment{MatchId: first.MatchId, Role: entities.RolePlayer2}, again)
	assert.Len(t, h.notifier.to("conn-bob", duel.EventMatchFound), 1, "no second match-found")
}

func TestFindOrCreateMatchUnknownQuiz(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.FindOrCreateMatch(ctx, "missing", participant("alice"))
	assert.ErrorIs(t, err, duel.ErrQuizNotFound)
	assert.ErrorIs(t, err, duel.ErrNotFound)

	open, err := h.store.ListOpenMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestFindOrCreateMatchReplacesDeadWaitingPlayer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	h.dead["conn-alice"] = true

	fresh, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("bob"))
	require.NoError(t, err)
	assert.True(t, fresh.Waiting)
	assert.Equal(t, entities.RolePlayer1, fresh.Role)
	assert.NotEqual(t, stale.MatchId, fresh.MatchId)

	_, err = h.store.GetMatch(ctx, stale.MatchId)
	assert.ErrorIs(t, err, store.ErrMatchNotFound)
}

func TestConcurrentFindNeverOverfillsMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const players = 24
	assignments := make([]duel.Assignment, players)
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant(fmt.Sprintf("u%02d", i)))
			assert.NoError(t, err)
			assignments[i] = a
		}(i)
	}
	wg.Wait()

	open, err := h.store.ListOpenMatches(ctx)
	require.NoError(t, err)
	seen := map[string]string{}
	for _, m := range open {
		ids := []string{m.Player1.UserId}
		if p2, ok := m.Player2.Player(); ok {
			assert.NotEqual(t, m.Player1.UserId, p2.UserId)
			assert.Equal(t, entities.StatusReady, m.Status)
			ids = append(ids, p2.UserId)
		} else {
			assert.Equal(t, entities.StatusWaiting, m.Status)
		}
		for _, id := range ids {
			_, dup := seen[id]
			assert.False(t, dup, "player %s in two matches", id)
			seen[id] = m.MatchId
		}
	}
	assert.Len(t, seen, players)
	for i, a := range assignments {
		assert.Equal(t, seen[fmt.Sprintf("u%02d", i)], a.MatchId)
	}
}

func TestMarkReadyStartsDuelOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.pair(t)

	_, err := h.coord.MarkReady(ctx, matchId, "mallory")
	assert.ErrorIs(t, err, duel.ErrNotParticipant)

	status, err := h.coord.MarkReady(ctx, matchId, "alice")
	require.NoError(t, err)
	assert.Equal(t, duel.ReadyStatusWaiting, status)
	assert.Empty(t, h.notifier.to("conn-alice", duel.EventDuelStarted))

	status, err = h.coord.MarkReady(ctx, matchId, "bob")
	require.NoError(t, err)
	assert.Equal(t, duel.ReadyStatusReady, status)

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, m.Status)
	require.NotNil(t, m.StartedAt)
	assert.Equal(t, t0, *m.StartedAt)

	for _, conn := range []string{"conn-alice", "conn-bob"} {
		assert.Len(t, h.notifier.to(conn, duel.EventDuelStarted), 1)
		questions := h.notifier.to(conn, duel.EventNextQuestion)
		require.Len(t, questions, 1)
		q := questions[0].Data.(dtos.QuestionResponse)
		assert.Equal(t, 0, q.QuestionIndex)
		assert.Equal(t, "Capital of France?", q.Question)
	}

	status, err = h.coord.MarkReady(ctx, matchId, "alice")
	require.NoError(t, err)
	assert.Equal(t, duel.ReadyStatusReady, status, "ready after start is idempotent")
	assert.Len(t, h.notifier.to("conn-alice", duel.EventDuelStarted), 1)
}

func TestMarkReadyWithoutOpponent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)

	status, err := h.coord.MarkReady(ctx, a.MatchId, "alice")
	require.NoError(t, err)
	assert.Equal(t, duel.ReadyStatusWaiting, status)

	_, err = h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("bob"))
	require.NoError(t, err)
	status, err = h.coord.MarkReady(ctx, a.MatchId, "bob")
	require.NoError(t, err)
	assert.Equal(t, duel.ReadyStatusReady, status, "readiness given while waiting is kept")
}

func TestConcurrentReadyActivatesOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		matchId := h.pair(t)

		var wg sync.WaitGroup
		statuses := make([]duel.ReadyStatus, 2)
		for j, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(j int, user string) {
				defer wg.Done()
				s, err := h.coord.MarkReady(context.Background(), matchId, user)
				assert.NoError(t, err)
				statuses[j] = s
			}(j, user)
		}
		wg.Wait()

		m, err := h.store.GetMatch(context.Background(), matchId)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusActive, m.Status)
		assert.Contains(t, statuses, duel.ReadyStatusReady)
		assert.Len(t, h.notifier.to("conn-alice", duel.EventDuelStarted), 1)
		assert.Len(t, h.notifier.to("conn-bob", duel.EventDuelStarted), 1)
	}
}

func TestSubmitAnswerScoresAndAdvancesIndependently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.start(t)

	res := h.answer(t, matchId, "alice", 0, " paris ", 5000)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, "Paris", res.CorrectAnswer)
	assert.Equal(t, 100, res.PointsEarned)
	assert.False(t, res.Finished)

	res = h.answer(t, matchId, "bob", 0, "Lyon", 2000)
	assert.False(t, res.IsCorrect)
	assert.Equal(t, 0, res.PointsEarned)

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, 100, m.Player1.Score)
	assert.Equal(t, 1, m.Player1.CorrectAnswers)
	assert.Equal(t, int64(5000), m.Player1.TotalTimeMs)
	p2, _ := m.Player2.Player()
	assert.Equal(t, 0, p2.Score)
	assert.Equal(t, int64(2000), p2.TotalTimeMs)

	for _, conn := range []string{"conn-alice", "conn-bob"} {
		questions := h.notifier.to(conn, duel.EventNextQuestion)
		require.Len(t, questions, 2)
		assert.Equal(t, 1, questions[1].Data.(dtos.QuestionResponse).QuestionIndex)
		assert.Len(t, h.notifier.to(conn, duel.EventScoreUpdate), 2)
	}

	h.answer(t, matchId, "alice", 1, "Rome", 1000)
	assert.Len(t, h.notifier.to("conn-alice", duel.EventNextQuestion), 3)
	assert.Len(t, h.notifier.to("conn-bob", duel.EventNextQuestion), 2, "opponent cursor unaffected")
}

func TestSubmitAnswerRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.pair(t)

	_, err := h.coord.SubmitAnswer(ctx, matchId, "alice", 0, "Paris", 100)
	assert.ErrorIs(t, err, duel.ErrInvalidState, "match not active")

	_, err = h.coord.MarkReady(ctx, matchId, "alice")
	require.NoError(t, err)
	_, err = h.coord.MarkReady(ctx, matchId, "bob")
	require.NoError(t, err)

	_, err = h.coord.SubmitAnswer(ctx, matchId, "alice", 1, "Rome", 100)
	assert.ErrorIs(t, err, duel.ErrOutOfOrder)

	h.answer(t, matchId, "alice", 0, "Paris", 100)
	_, err = h.coord.SubmitAnswer(ctx, matchId, "alice", 0, "Paris", 100)
	assert.ErrorIs(t, err, duel.ErrOutOfOrder, "duplicate")

	_, err = h.coord.SubmitAnswer(ctx, matchId, "mallory", 0, "Paris", 100)
	assert.ErrorIs(t, err, duel.ErrNotParticipant)

	_, err = h.coord.SubmitAnswer(ctx, "missing", "alice", 0, "Paris", 100)
	assert.ErrorIs(t, err, duel.ErrMatchNotFound)

	_, err = h.coord.SubmitAnswer(ctx, matchId, "alice", 1, "Rome", -1)
	assert.ErrorIs(t, err, duel.ErrInvalidArgument)

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Len(t, m.Player1.Answers, 1)
	assert.Equal(t, 100, m.Player1.Score)
}

func TestDuelDecidedByTimeOnEqualScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.start(t)

	h.answer(t, matchId, "alice", 0, "Paris", 5000)
	h.answer(t, matchId, "bob", 0, "Lyon", 2000)
	h.answer(t, matchId, "alice", 1, "Rome", 4000)
	h.answer(t, matchId, "bob", 1, "Rome", 3000)
	res := h.answer(t, matchId, "alice", 2, "Seville", 3000)
	assert.True(t, res.Finished)

	assert.Len(t, h.notifier.to("conn-alice", duel.EventPlayerCompleted), 1)
	assert.Empty(t, h.notifier.to("conn-alice", duel.EventDuelEnded), "opponent still playing")
	result, err := h.coord.CheckCompletion(ctx, matchId)
	require.NoError(t, err)
	assert.Nil(t, result)

	h.answer(t, matchId, "bob", 2, "Madrid", 4000)

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	assert.Equal(t, entities.EndReasonFinished, m.EndReason)
	require.NotNil(t, m.Winner)
	assert.Equal(t, "bob", *m.Winner)
	assert.Equal(t, 200, m.Player1.Score)
	assert.Equal(t, int64(12000), m.Player1.TotalTimeMs)

	for _, conn := range []string{"conn-alice", "conn-bob"} {
		ended := h.notifier.to(conn, duel.EventDuelEnded)
		require.Len(t, ended, 1)
		data := ended[0].Data.(dtos.DuelEndedResponse)
		require.NotNil(t, data.Winner)
		assert.Equal(t, "bob", *data.Winner)
		assert.Len(t, data.Scores, 2)
	}
	require.Len(t, h.publisher.published(), 1)

	result, err = h.coord.CheckCompletion(ctx, matchId)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "bob", *result.Winner)
	assert.Len(t, h.notifier.to("conn-bob", duel.EventDuelEnded), 1, "completion announced once")

	_, err = h.coord.SubmitAnswer(ctx, matchId, "alice", 3, "x", 1)
	assert.Error(t, err)
}

func TestDuelDraw(t *testing.T) {
	h := newHarness(t)
	matchId := h.start(t)
	for i, answer := range []string{"Paris", "Rome", "Madrid"} {
		h.answer(t, matchId, "alice", i, answer, 1000)
		h.answer(t, matchId, "bob", i, answer, 1000)
	}
	m, err := h.store.GetMatch(context.Background(), matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	assert.Nil(t, m.Winner)
}

func TestSimultaneousFinishEndsOnce(t *testing.T) {
	h := newHarness(t)
	matchId := h.start(t)
	for i, answer := range []string{"Paris", "Rome"} {
		h.answer(t, matchId, "alice", i, answer, 1000)
		h.answer(t, matchId, "bob", i, answer, 1000)
	}

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := h.coord.SubmitAnswer(context.Background(), matchId, user, 2, "Madrid", 1000)
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	assert.Len(t, h.notifier.to("conn-alice", duel.EventDuelEnded), 1)
	assert.Len(t, h.notifier.to("conn-bob", duel.EventDuelEnded), 1)
	assert.Len(t, h.publisher.published(), 1)
}

func TestDisconnectForfeitsToOpponent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.start(t)
	h.answer(t, matchId, "bob", 0, "Paris", 1000)

	require.NoError(t, h.coord.OnDisconnect(ctx, "conn-bob"))

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	require.NotNil(t, m.Winner)
	assert.Equal(t, "alice", *m.Winner, "remaining player wins despite lower score")
	assert.Equal(t, entities.EndReasonForfeit, m.EndReason)
	assert.Equal(t, "bob", m.ForfeitedBy)

	notices := h.notifier.to("conn-alice", duel.EventOpponentDisconnected)
	require.Len(t, notices, 1)
	assert.Equal(t, "alice", notices[0].Data.(dtos.OpponentDisconnectedResponse).Winner)
	ended := h.notifier.to("conn-alice", duel.EventDuelEnded)
	require.Len(t, ended, 1)
	data := ended[0].Data.(dtos.DuelEndedResponse)
	assert.Equal(t, "forfeit", data.EndReason)
	assert.Equal(t, "bob", data.ForfeitedBy)
	assert.Empty(t, h.notifier.to("conn-bob", duel.EventDuelEnded), "leaver is not notified")
	require.Len(t, h.publisher.published(), 1)

	_, err = h.coord.SubmitAnswer(ctx, matchId, "bob", 1, "Rome", 1000)
	assert.ErrorIs(t, err, duel.ErrInvalidState)

	before := h.notifier.count()
	require.NoError(t, h.coord.OnDisconnect(ctx, "conn-bob"))
	require.NoError(t, h.coord.OnDisconnect(ctx, "conn-alice"))
	after, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, m, after, "late disconnects change nothing")
	assert.Equal(t, before, h.notifier.count())
	assert.Len(t, h.publisher.published(), 1)
}

func TestDisconnectWhileReadyForfeits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.pair(t)

	require.NoError(t, h.coord.OnDisconnect(ctx, "conn-alice"))
	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	assert.Equal(t, "bob", *m.Winner)
}

func TestDisconnectWhileWaitingDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)

	require.NoError(t, h.coord.OnDisconnect(ctx, "conn-alice"))
	_, err = h.store.GetMatch(ctx, a.MatchId)
	assert.ErrorIs(t, err, store.ErrMatchNotFound)
	assert.Empty(t, h.publisher.published())

	assert.NoError(t, h.coord.OnDisconnect(ctx, "conn-unknown"))
}

func TestSweepStaleMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("alice"))
	require.NoError(t, err)
	h.now = t0.Add(5 * time.Minute)
	recent, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("carol"))
	require.NoError(t, err)

	deleted, err := h.coord.SweepStaleMatches(ctx, t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = h.store.GetMatch(ctx, old.MatchId)
	assert.ErrorIs(t, err, store.ErrMatchNotFound)
	_, err = h.store.GetMatch(ctx, recent.MatchId)
	assert.NoError(t, err)

	deleted, err = h.coord.SweepStaleMatches(ctx, t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSweepKeepsPairedMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.pair(t)

	deleted, err := h.coord.SweepStaleMatches(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)
	_, err = h.store.GetMatch(ctx, matchId)
	assert.NoError(t, err)
}

func TestResumeRebindsConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.start(t)
	h.answer(t, matchId, "bob", 0, "Paris", 1000)

	state, err := h.coord.Resume(ctx, matchId, "bob", "conn-bob-2")
	require.NoError(t, err)
	assert.Equal(t, entities.RolePlayer2, state.Role)
	assert.Equal(t, 1, state.QuestionIndex)

	resent := h.notifier.to("conn-bob-2", duel.EventNextQuestion)
	require.Len(t, resent, 1)
	assert.Equal(t, 1, resent[0].Data.(dtos.QuestionResponse).QuestionIndex)

	require.NoError(t, h.coord.OnDisconnect(ctx, "conn-bob"))
	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, m.Status, "old connection no longer bound")

	h.answer(t, matchId, "bob", 1, "Rome", 1000)
	assert.Len(t, h.notifier.to("conn-bob-2", duel.EventNextQuestion), 2)

	_, err = h.coord.Resume(ctx, matchId, "mallory", "conn-x")
	assert.ErrorIs(t, err, duel.ErrNotParticipant)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) GetMatch(context.Context, string) (entities.Match, error) {
	return entities.Match{}, fmt.Errorf("%w: connection reset", store.ErrUnavailable)
}

func TestStoreOutageIsTransient(t *testing.T) {
	coord := duel.NewCoordinator(
		failingStore{memory.NewStore()},
		quiz.NewStaticSource(capitals()),
		&recordingNotifier{},
		duel.DefaultConfig(),
	)
	_, err := coord.MarkReady(context.Background(), "m1", "alice")
	assert.ErrorIs(t, err, duel.ErrTransient)
	assert.True(t, duel.IsRetryable(err))
	assert.False(t, duel.IsRetryable(duel.ErrOutOfOrder))
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

// completionOutage fails CompleteMatch while outages remain.
type completionOutage struct {
	*memory.Store
	outages atomic.Int32
}

func (s *completionOutage) CompleteMatch(ctx context.Context, matchId string, winner *string, completedAt time.Time) (entities.Match, error) {
	if s.outages.Add(-1) >= 0 {
		return entities.Match{}, fmt.Errorf("%w: throttled", store.ErrUnavailable)
	}
	return s.Store.CompleteMatch(ctx, matchId, winner, completedAt)
}

// finishWithFailedCompletion plays a duel alice wins 300 to 0 whose
// completion write fails after the last answer.
func finishWithFailedCompletion(t *testing.T) (*harness, string) {
	t.Helper()
	outage := &completionOutage{}
	h := newHarnessOn(t, func(m *memory.Store) duel.Store {
		outage.Store = m
		return outage
	}, quiz.NewStaticSource(capitals()))
	matchId := h.start(t)
	for i, answer := range []string{"Paris", "Rome", "Madrid"} {
		h.answer(t, matchId, "alice", i, answer, 1000)
	}
	for i := 0; i < 2; i++ {
		h.answer(t, matchId, "bob", i, "Lyon", 1000)
	}
	outage.outages.Store(1)
	res := h.answer(t, matchId, "bob", 2, "Seville", 1000)
	require.True(t, res.Finished)

	m, err := h.store.GetMatch(context.Background(), matchId)
	require.NoError(t, err)
	require.Equal(t, entities.StatusActive, m.Status)
	require.True(t, m.BothFinished())
	require.Empty(t, h.notifier.to("conn-alice", duel.EventDuelEnded))
	return h, matchId
}

func assertAliceWonOnScore(t *testing.T, h *harness, matchId string) {
	t.Helper()
	m, err := h.store.GetMatch(context.Background(), matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	assert.Equal(t, entities.EndReasonFinished, m.EndReason)
	assert.Empty(t, m.ForfeitedBy)
	require.NotNil(t, m.Winner)
	assert.Equal(t, "alice", *m.Winner)

	ended := h.notifier.to("conn-alice", duel.EventDuelEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "alice", *ended[0].Data.(dtos.DuelEndedResponse).Winner)
	require.Len(t, h.publisher.published(), 1)
}

func TestDisconnectAfterFailedCompletionDecidesOnScore(t *testing.T) {
	h, matchId := finishWithFailedCompletion(t)

	require.NoError(t, h.coord.OnDisconnect(context.Background(), "conn-alice"))

	assertAliceWonOnScore(t, h, matchId)
	assert.Empty(t, h.notifier.to("conn-bob", duel.EventOpponentDisconnected))
}

func TestSweepCompletesFinishedMatches(t *testing.T) {
	h, matchId := finishWithFailedCompletion(t)

	deleted, err := h.coord.SweepStaleMatches(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assertAliceWonOnScore(t, h, matchId)

	_, err = h.coord.SweepStaleMatches(context.Background(), t0)
	require.NoError(t, err)
	assert.Len(t, h.publisher.published(), 1, "completed once")
}

// editableSource is a quiz source whose quiz can be replaced mid-duel.
type editableSource struct {
	mu   sync.Mutex
	quiz entities.Quiz
}

func (s *editableSource) GetQuiz(_ context.Context, quizId string) (entities.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if quizId != s.quiz.Id {
		return entities.Quiz{}, quiz.ErrQuizNotFound
	}
	return s.quiz, nil
}

func (s *editableSource) set(q entities.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiz = q
}

func TestQuizEditedMidDuelDoesNotChangeGrading(t *testing.T) {
	source := &editableSource{quiz: capitals()}
	h := newHarnessOn(t, nil, source)
	ctx := context.Background()
	matchId := h.start(t)
	h.answer(t, matchId, "alice", 0, "Paris", 1000)

	edited := capitals()
	edited.Title = "Capitals (revised)"
	edited.Questions = edited.Questions[:2]
	edited.Questions[1].CorrectAnswer = "Milan"
	source.set(edited)

	res := h.answer(t, matchId, "alice", 1, "Rome", 1000)
	assert.True(t, res.IsCorrect, "graded against the questions the duel started with")
	assert.Equal(t, "Rome", res.CorrectAnswer)
	assert.False(t, res.Finished)

	questions := h.notifier.to("conn-alice", duel.EventNextQuestion)
	require.Len(t, questions, 3)
	last := questions[2].Data.(dtos.QuestionResponse)
	assert.Equal(t, "Capital of Spain?", last.Question)
	assert.Equal(t, 3, last.TotalQuestions)

	h.answer(t, matchId, "alice", 2, "Madrid", 1000)
	for i, answer := range []string{"Paris", "Milan", "Madrid"} {
		h.answer(t, matchId, "bob", i, answer, 1000)
	}

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	assert.Equal(t, 300, m.Player1.Score)
	p2, _ := m.Player2.Player()
	assert.Equal(t, 200, p2.Score)
	require.NotNil(t, m.Winner)
	assert.Equal(t, "alice", *m.Winner)
	assert.Equal(t, "Capitals", m.QuizTitle)
}

func TestReleaseDeadConnectionsRetriesMissedDisconnects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	matchId := h.start(t)
	waiting, err := h.coord.FindOrCreateMatch(ctx, "quiz-q", participant("carol"))
	require.NoError(t, err)

	h.dead["conn-bob"] = true
	h.dead["conn-carol"] = true
	released, err := h.coord.ReleaseDeadConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	m, err := h.store.GetMatch(ctx, matchId)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, m.Status)
	assert.Equal(t, "bob", m.ForfeitedBy)
	assert.Len(t, h.notifier.to("conn-alice", duel.EventDuelEnded), 1)
	_, err = h.store.GetMatch(ctx, waiting.MatchId)
	assert.ErrorIs(t, err, store.ErrMatchNotFound)

	released, err = h.coord.ReleaseDeadConnections(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)
}
