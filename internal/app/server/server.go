package server

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chess-vn/slduel/internal/app/gateway"
	"github.com/chess-vn/slduel/internal/aws/auth"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/pkg/logging"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dependencies are the collaborators chosen by the binary.
type Dependencies struct {
	Store   duel.Store
	Quizzes quiz.Source
	// Publisher is optional.
	Publisher duel.ResultPublisher
	// PublicKeys verify bearer tokens when auth is enabled.
	PublicKeys map[string]*rsa.PublicKey
}

type server struct {
	address  string
	upgrader websocket.Upgrader
	config   Config

	store    duel.Store
	coord    *duel.Coordinator
	gateway  *gateway.Gateway
	sessions *sessions
	registry *registry

	publicKeys map[string]*rsa.PublicKey
	issuer     string

	router       *gin.Engine
	httpServer   *http.Server
	scheduler    gocron.Scheduler
	shuttingDown atomic.Bool
	now          func() time.Time
}

func NewServer(cfg Config, deps Dependencies) (*server, error) {
	if deps.Store == nil || deps.Quizzes == nil {
		return nil, errors.New("store and quiz source are required")
	}
	if cfg.AuthEnabled && len(deps.PublicKeys) == 0 {
		return nil, errors.New("auth enabled without public keys")
	}

	s := &server{
		address: "0.0.0.0:" + cfg.Port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		config:     cfg,
		store:      deps.Store,
		sessions:   newSessions(),
		publicKeys: deps.PublicKeys,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.AuthEnabled {
		s.issuer = auth.CognitoIssuer(cfg.AwsRegion, cfg.CognitoUserPoolId)
	}
	s.registry = newRegistry(s.now)

	opts := []duel.Option{duel.WithLiveness(s.sessions)}
	if deps.Publisher != nil {
		opts = append(opts, duel.WithPublisher(deps.Publisher))
	}
	s.coord = duel.NewCoordinator(
		deps.Store,
		quiz.NewCache(deps.Quizzes, cfg.QuizCacheTTL),
		s.sessions,
		duel.Config{
			PointsPerCorrect: cfg.PointsPerCorrect,
			StaleAfter:       cfg.StaleAfter,
			CallTimeout:      cfg.CallTimeout,
		},
		opts...,
	)
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	s.gateway = gateway.New(s.coord,
		gateway.WithRetry(uint(attempts), 100*time.Millisecond),
		gateway.WithBindHook(s.registry.bind),
	)

	s.router = s.newRouter()
	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/healthz", s.handleHealth)
	r.GET("/matches/:id", s.handleGetMatch)
	r.GET("/duel", s.handleDuel)
	return r
}

// Start serves until ctx is cancelled, then shuts down. Open matches are
// left alone on shutdown; the next process picks their connections up from
// the store and forfeits the ones nobody resumes.
func (s *server) Start(ctx context.Context) error {
	n, err := s.registry.rebuild(ctx, s.store)
	if err != nil {
		return fmt.Errorf("failed to rebuild connection index: %w", err)
	}
	logging.Info("connection index rebuilt", zap.Int("connections", n))

	if err := s.startJanitor(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	logging.Info("websocket server started", zap.String("port", s.config.Port))

	select {
	case err := <-errCh:
		s.stopJanitor()
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	s.shuttingDown.Store(true)
	s.stopJanitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = s.httpServer.Shutdown(shutdownCtx)
	s.sessions.closeAll()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
