package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chess-vn/slduel/internal/app/gateway"
	"github.com/chess-vn/slduel/internal/aws/notification"
	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, dtos.Notification) error { return nil }

type recordingReplier struct {
	replies map[string][]dtos.Response
	gone    map[string]bool
}

func (r *recordingReplier) Reply(_ context.Context, connectionRef string, resp dtos.Response) error {
	if r.gone[connectionRef] {
		return fmt.Errorf("%w: %s", notification.ErrConnectionGone, connectionRef)
	}
	r.replies[connectionRef] = append(r.replies[connectionRef], resp)
	return nil
}

func newHandler(t *testing.T, requireAuth bool) (*Websocket, *recordingReplier, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	q := entities.Quiz{
		Id: "quiz-1",
		Questions: []entities.Question{
			{Question: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4"},
		},
	}
	coord := duel.NewCoordinator(st, quiz.NewStaticSource(q), nopNotifier{}, duel.DefaultConfig())
	r := &recordingReplier{replies: map[string][]dtos.Response{}, gone: map[string]bool{}}
	return NewWebsocket(gateway.New(coord), r, requireAuth), r, st
}

func wsEvent(t *testing.T, route, connectionId, sub string, body interface{}) events.APIGatewayWebsocketProxyRequest {
	t.Helper()
	event := events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionId,
		},
	}
	if sub != "" {
		event.RequestContext.Authorizer = map[string]interface{}{"principalId": sub}
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		event.Body = string(raw)
	}
	return event
}

func findRequest(t *testing.T, userId string) dtos.Request {
	t.Helper()
	data, err := json.Marshal(dtos.FindDuelMatchRequest{QuizId: "quiz-1", UserId: userId})
	require.NoError(t, err)
	return dtos.Request{Type: gateway.EventFindDuelMatch, RequestId: "r1", Data: data}
}

func TestConnect(t *testing.T) {
	h, _, _ := newHandler(t, true)
	ctx := context.Background()

	resp, err := h.Route(ctx, wsEvent(t, RouteConnect, "c1", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = h.Route(ctx, wsEvent(t, RouteConnect, "c1", "alice", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	open, _, _ := newHandler(t, false)
	resp, err = open.Route(ctx, wsEvent(t, RouteConnect, "c1", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessageRepliesToCaller(t *testing.T) {
	h, r, _ := newHandler(t, true)
	ctx := context.Background()

	resp, err := h.Route(ctx, wsEvent(t, "find-duel-match", "c1", "alice", findRequest(t, "")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, r.replies["c1"], 1)
	reply := r.replies["c1"][0]
	assert.Equal(t, gateway.EventFindDuelMatch, reply.Type)
	assert.Equal(t, "r1", reply.RequestId)
	assert.Empty(t, reply.Error)

	resp, err = h.Route(ctx, wsEvent(t, "$default", "c2", "bob", findRequest(t, "alice")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gateway.ErrStatusUnauthorized, r.replies["c2"][0].Error)

	resp, err = h.Route(ctx, wsEvent(t, "$default", "c3", "", findRequest(t, "carol")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, r.replies["c3"])
}

func TestMessageToGoneConnection(t *testing.T) {
	h, r, _ := newHandler(t, false)
	r.gone["c1"] = true

	resp, err := h.Route(context.Background(), wsEvent(t, "$default", "c1", "", findRequest(t, "alice")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestDisconnectDeletesWaitingMatch(t *testing.T) {
	h, r, st := newHandler(t, false)
	ctx := context.Background()

	_, err := h.Route(ctx, wsEvent(t, "$default", "c1", "", findRequest(t, "alice")))
	require.NoError(t, err)
	found := r.replies["c1"][0].Data.(dtos.FindDuelMatchResponse)

	resp, err := h.Route(ctx, wsEvent(t, RouteDisconnect, "c1", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = st.GetMatch(ctx, found.MatchId)
	assert.Error(t, err)
}

type fakeSweeper struct {
	sweep   func(ctx context.Context, now time.Time) (int, error)
	release func(ctx context.Context) (int, error)
}

func (f fakeSweeper) SweepStaleMatches(ctx context.Context, now time.Time) (int, error) {
	return f.sweep(ctx, now)
}

func (f fakeSweeper) ReleaseDeadConnections(ctx context.Context) (int, error) {
	return f.release(ctx)
}

func TestSweep(t *testing.T) {
	fired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var (
		seen     time.Time
		releases int
	)
	sweeper := fakeSweeper{
		sweep: func(_ context.Context, now time.Time) (int, error) {
			seen = now
			return 2, nil
		},
		release: func(context.Context) (int, error) {
			releases++
			return 1, nil
		},
	}
	handler := Sweep(sweeper)
	require.NoError(t, handler(context.Background(), events.CloudWatchEvent{Time: fired}))
	assert.Equal(t, fired, seen)
	assert.Equal(t, 1, releases)

	require.NoError(t, handler(context.Background(), events.CloudWatchEvent{}))
	assert.False(t, seen.IsZero())

	sweeper.sweep = func(context.Context, time.Time) (int, error) {
		return 0, errors.New("store down")
	}
	releases = 0
	assert.Error(t, Sweep(sweeper)(context.Background(), events.CloudWatchEvent{Time: fired}))
	assert.Equal(t, 1, releases, "dead connections released despite the failed sweep")

	sweeper = fakeSweeper{
		sweep: func(context.Context, time.Time) (int, error) { return 0, nil },
		release: func(context.Context) (int, error) {
			return 0, errors.New("throttled")
		},
	}
	assert.Error(t, Sweep(sweeper)(context.Background(), events.CloudWatchEvent{Time: fired}))
}
