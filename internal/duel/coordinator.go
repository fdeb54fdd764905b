// Package duel coordinates two-player quiz duels: pairing, readiness,
// answer progression, outcome resolution and disconnect forfeits.
//
// The coordinator keeps no per-match state of its own. Every decision is
// taken against the Store, whose conditional writes serialize competing
// events for the same match.
package duel

import (
	"context"
	"time"

	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/pkg/logging"
	"github.com/chess-vn/slduel/pkg/utils"
	"go.uber.org/zap"
)

const (
	EventMatchFound           = "match-found"
	EventDuelStarted          = "duel-started"
	EventNextQuestion         = "next-question"
	EventScoreUpdate          = "duel-score-update"
	EventPlayerCompleted      = "player-completed"
	EventDuelEnded            = "duel-ended"
	EventOpponentDisconnected = "opponent-disconnected"
)

// Notifier delivers a server-pushed message to one connection.
type Notifier interface {
	Notify(ctx context.Context, connectionRef string, notification dtos.Notification) error
}

// LivenessChecker reports whether a connection can still receive messages.
type LivenessChecker interface {
	IsLive(ctx context.Context, connectionRef string) (bool, error)
}

// ResultPublisher hands a completed match to the external result store.
type ResultPublisher interface {
	PublishResult(ctx context.Context, match entities.Match) error
}

type Config struct {
	PointsPerCorrect int
	StaleAfter       time.Duration
	CallTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		PointsPerCorrect: 100,
		StaleAfter:       10 * time.Minute,
		CallTimeout:      5 * time.Second,
	}
}

// Participant identifies a player asking to be matched.
type Participant struct {
	UserId        string
	ConnectionRef string
	DisplayName   string
	Avatar        string
}

type Coordinator struct {
	store     Store
	quizzes   quiz.Source
	notifier  Notifier
	liveness  LivenessChecker
	publisher ResultPublisher
	cfg       Config
	now       func() time.Time
	newId     func() string
}

type Option func(*Coordinator)

func WithLiveness(l LivenessChecker) Option {
	return func(c *Coordinator) { c.liveness = l }
}

func WithPublisher(p ResultPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIdGenerator(newId func() string) Option {
	return func(c *Coordinator) { c.newId = newId }
}

// NewCoordinator wires a coordinator. quizzes is only consulted when a
// waiting match is created; the match keeps its own copy of the questions.
func NewCoordinator(store Store, quizzes quiz.Source, notifier Notifier, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.PointsPerCorrect <= 0 {
		cfg.PointsPerCorrect = def.PointsPerCorrect
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	c := &Coordinator{
		store:    store,
		quizzes:  quizzes,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newId:    utils.GenerateUUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMatch returns the current record of a match.
func (c *Coordinator) GetMatch(ctx context.Context, matchId string) (entities.Match, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	m, err := c.store.GetMatch(ctx, matchId)
	return m, classify(err)
}

func (c *Coordinator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

func (c *Coordinator) isLive(ctx context.Context, connectionRef string) bool {
	if c.liveness == nil {
		return true
	}
	live, err := c.liveness.IsLive(ctx, connectionRef)
	if err != nil {
		logging.Warn("failed to check connection liveness",
			zap.String("connection_ref", connectionRef),
			zap.Error(err),
		)
		return true
	}
	return live
}

func (c *Coordinator) notify(ctx context.Context, connectionRef, kind string, data interface{}) {
	if c.notifier == nil || connectionRef == "" {
		return
	}
	err := c.notifier.Notify(ctx, connectionRef, dtos.Notification{Type: kind, Data: data})
	if err != nil {
		logging.Error("failed to notify connection",
			zap.String("connection_ref", connectionRef),
			zap.String("type", kind),
			zap.Error(err),
		)
	}
}

// notifyBoth sends a per-role message to each paired participant that is
// still active.
func (c *Coordinator) notifyBoth(ctx context.Context, m entities.Match, kind string, data func(entities.Role) interface{}) {
	for _, role := range []entities.Role{entities.RolePlayer1, entities.RolePlayer2} {
		p, ok := m.Player(role)
		if !ok || !p.IsActive {
			continue
		}
		c.notify(ctx, p.ConnectionRef, kind, data(role))
	}
}

func (c *Coordinator) publish(ctx context.Context, m entities.Match) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishResult(ctx, m); err != nil {
		logging.Error("failed to publish match result",
			zap.String("match_id", m.MatchId),
			zap.Error(err),
		)
	}
}
