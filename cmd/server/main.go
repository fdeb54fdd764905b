package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/chess-vn/slduel/internal/app/server"
	"github.com/chess-vn/slduel/internal/aws/auth"
	"github.com/chess-vn/slduel/internal/aws/results"
	"github.com/chess-vn/slduel/internal/aws/storage"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/internal/store/memory"
	"github.com/chess-vn/slduel/internal/store/sqlite"
	"github.com/chess-vn/slduel/pkg/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := server.NewConfig()
	if err != nil {
		logging.Fatal("invalid configuration", zap.Error(err))
	}
	if err := logging.Init(cfg.LogLevel, false); err != nil {
		logging.Fatal("failed to init logger", zap.Error(err))
	}
	defer logging.Sync()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDependencies(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer cleanup()

	s, err := server.NewServer(cfg, deps)
	if err != nil {
		logging.Fatal("failed to create server", zap.Error(err))
	}
	if err := s.Start(ctx); err != nil {
		logging.Fatal("duel server exited", zap.Error(err))
	}
	logging.Info("duel server stopped")
}

func buildDependencies(ctx context.Context, cfg server.Config) (server.Dependencies, func(), error) {
	var (
		deps    server.Dependencies
		cleanup = func() {}
		awsCfg  *aws.Config
	)
	loadAws := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AwsRegion))
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var seed []entities.Quiz
	if cfg.QuizSeedPath != "" {
		quizzes, err := quiz.LoadFile(cfg.QuizSeedPath)
		if err != nil {
			return deps, cleanup, err
		}
		seed = quizzes
	}

	switch cfg.StoreDriver {
	case server.StoreDriverMemory:
		if len(seed) == 0 {
			logging.Warn("memory store started without quizzes, set Store.QuizSeedPath")
		}
		deps.Store = memory.NewStore()
		deps.Quizzes = quiz.NewStaticSource(seed...)
	case server.StoreDriverSqlite:
		st, err := sqlite.Open(ctx, cfg.SqlitePath)
		if err != nil {
			return deps, cleanup, err
		}
		cleanup = func() {
			if err := st.Close(); err != nil {
				logging.Error("failed to close sqlite store", zap.Error(err))
			}
		}
		if err := quiz.Seed(ctx, st, seed); err != nil {
			return deps, cleanup, err
		}
		deps.Store = st
		deps.Quizzes = st
	case server.StoreDriverDynamodb:
		c, err := loadAws()
		if err != nil {
			return deps, cleanup, err
		}
		client := storage.NewClient(dynamodb.NewFromConfig(c), storage.Config{
			MatchesTableName: aws.String(cfg.MatchesTableName),
			QuizzesTableName: aws.String(cfg.QuizzesTableName),
		})
		if err := quiz.Seed(ctx, client, seed); err != nil {
			return deps, cleanup, err
		}
		deps.Store = client
		deps.Quizzes = client
	}

	if cfg.EndGameFunctionArn != "" {
		c, err := loadAws()
		if err != nil {
			return deps, cleanup, err
		}
		deps.Publisher = results.NewPublisher(lambda.NewFromConfig(c), cfg.EndGameFunctionArn)
	}

	if cfg.AuthEnabled {
		keys, err := auth.LoadCognitoPublicKeys(auth.CognitoKeysUrl(cfg.AwsRegion, cfg.CognitoUserPoolId))
		if err != nil {
			return deps, cleanup, err
		}
		deps.PublicKeys = keys
	}

	logging.Info("dependencies ready",
		zap.String("store", cfg.StoreDriver),
		zap.Int("seeded_quizzes", len(seed)),
		zap.Bool("publisher", deps.Publisher != nil),
		zap.Bool("auth", cfg.AuthEnabled),
	)
	return deps, cleanup, nil
}
