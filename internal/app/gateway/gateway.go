// Package gateway turns client events into coordinator calls. It knows
// nothing about the transport: the websocket server and the API Gateway
// lambda both feed it raw messages and send back what it returns.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

const (
	EventFindDuelMatch = "find-duel-match"
	EventDuelReady     = "duel-ready"
	EventDuelAnswer    = "duel-answer"
	EventDuelResume    = "duel-resume"
)

// Caller identifies the sender of an event.
type Caller struct {
	// UserId is the authenticated user. It is empty when authentication is
	// disabled, in which case events must name the user themselves.
	UserId        string
	ConnectionRef string
}

// BindFunc is told whenever a connection becomes bound to a match.
type BindFunc func(connectionRef, matchId string)

type Gateway struct {
	coord           *duel.Coordinator
	attempts        uint
	initialInterval time.Duration
	onBind          BindFunc
}

type Option func(*Gateway)

// WithRetry sets how many times a transient failure is attempted in total
// and the first backoff interval.
func WithRetry(attempts uint, initialInterval time.Duration) Option {
	return func(g *Gateway) {
		g.attempts = attempts
		g.initialInterval = initialInterval
	}
}

func WithBindHook(fn BindFunc) Option {
	return func(g *Gateway) { g.onBind = fn }
}

func New(coord *duel.Coordinator, opts ...Option) *Gateway {
	g := &Gateway{
		coord:           coord,
		attempts:        3,
		initialInterval: 100 * time.Millisecond,
		onBind:          func(string, string) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.attempts == 0 {
		g.attempts = 1
	}
	return g
}

// Handle processes one raw client message and returns the reply to send
// back on the same connection.
func (g *Gateway) Handle(ctx context.Context, caller Caller, raw []byte) dtos.Response {
	var req dtos.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return g.fail(caller, req, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	data, err := g.dispatch(ctx, caller, req)
	if err != nil {
		return g.fail(caller, req, err)
	}
	return dtos.Response{
		Type:      req.Type,
		RequestId: req.RequestId,
		Data:      data,
	}
}

// Disconnect releases everything bound to connectionRef.
func (g *Gateway) Disconnect(ctx context.Context, connectionRef string) error {
	return g.coord.OnDisconnect(ctx, connectionRef)
}

func (g *Gateway) dispatch(ctx context.Context, caller Caller, req dtos.Request) (interface{}, error) {
	switch req.Type {
	case EventFindDuelMatch:
		data, err := decode[dtos.FindDuelMatchRequest](req.Data)
		if err != nil {
			return nil, err
		}
		userId, err := resolveUser(caller, data.UserId)
		if err != nil {
			return nil, err
		}
		a, err := retry(ctx, g, func() (duel.Assignment, error) {
			return g.coord.FindOrCreateMatch(ctx, data.QuizId, duel.Participant{
				UserId:        userId,
				ConnectionRef: caller.ConnectionRef,
				DisplayName:   data.DisplayName,
				Avatar:        data.Avatar,
			})
		})
		if err != nil {
			return nil, err
		}
		g.onBind(caller.ConnectionRef, a.MatchId)
		return dtos.FindDuelMatchResponseFromAssignment(a.MatchId, a.Role, a.Waiting), nil

	case EventDuelReady:
		data, err := decode[dtos.DuelReadyRequest](req.Data)
		if err != nil {
			return nil, err
		}
		userId, err := resolveUser(caller, data.UserId)
		if err != nil {
			return nil, err
		}
		status, err := retry(ctx, g, func() (duel.ReadyStatus, error) {
			return g.coord.MarkReady(ctx, data.MatchId, userId)
		})
		if err != nil {
			return nil, err
		}
		return dtos.DuelReadyResponse{MatchId: data.MatchId, Status: string(status)}, nil

	case EventDuelAnswer:
		data, err := decode[dtos.DuelAnswerRequest](req.Data)
		if err != nil {
			return nil, err
		}
		if data.QuestionIndex == nil {
			return nil, fmt.Errorf("%w: questionIndex is required", ErrInvalidPayload)
		}
		userId, err := resolveUser(caller, data.UserId)
		if err != nil {
			return nil, err
		}
		res, err := retry(ctx, g, func() (duel.AnswerResult, error) {
			return g.coord.SubmitAnswer(ctx, data.MatchId, userId, *data.QuestionIndex, data.Answer, data.TimeSpentMs)
		})
		if err != nil {
			return nil, err
		}
		return dtos.DuelAnswerResponse{
			MatchId:       data.MatchId,
			QuestionIndex: res.QuestionIndex,
			IsCorrect:     res.IsCorrect,
			CorrectAnswer: res.CorrectAnswer,
			Explanation:   res.Explanation,
			PointsEarned:  res.PointsEarned,
			Finished:      res.Finished,
		}, nil

	case EventDuelResume:
		data, err := decode[dtos.DuelResumeRequest](req.Data)
		if err != nil {
			return nil, err
		}
		userId, err := resolveUser(caller, data.UserId)
		if err != nil {
			return nil, err
		}
		state, err := retry(ctx, g, func() (duel.ResumeState, error) {
			return g.coord.Resume(ctx, data.MatchId, userId, caller.ConnectionRef)
		})
		if err != nil {
			return nil, err
		}
		g.onBind(caller.ConnectionRef, state.MatchId)
		return dtos.DuelResumeResponse{
			MatchId:        state.MatchId,
			Role:           state.Role.String(),
			Status:         state.Status.String(),
			QuestionIndex:  state.QuestionIndex,
			TotalQuestions: state.TotalQuestions,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, req.Type)
	}
}

func (g *Gateway) fail(caller Caller, req dtos.Request, err error) dtos.Response {
	status := wireStatus(err)
	message := err.Error()
	if status == ErrStatusInternal {
		logging.Error("request failed",
			zap.String("type", req.Type),
			zap.String("connection_ref", caller.ConnectionRef),
			zap.Error(err),
		)
		message = "internal error"
	} else {
		logging.Info("request rejected",
			zap.String("type", req.Type),
			zap.String("connection_ref", caller.ConnectionRef),
			zap.String("status", status),
			zap.Error(err),
		)
	}
	return dtos.Response{
		Type:      "error",
		RequestId: req.RequestId,
		Error:     status,
		Message:   message,
	}
}

// retry re-runs op with exponential backoff while it fails transiently.
func retry[T any](ctx context.Context, g *Gateway, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.initialInterval
	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !duel.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(g.attempts))
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return v, nil
}

// resolveUser picks the acting user. An authenticated caller may omit the
// user id but never name somebody else.
func resolveUser(caller Caller, claimed string) (string, error) {
	if caller.UserId != "" {
		if claimed != "" && claimed != caller.UserId {
			return "", fmt.Errorf("%w: user id does not match token", ErrUnauthorized)
		}
		return caller.UserId, nil
	}
	if claimed == "" {
		return "", fmt.Errorf("%w: userId is required", ErrInvalidPayload)
	}
	return claimed, nil
}
