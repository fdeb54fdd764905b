package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/chess-vn/slduel/internal/app/gateway"
	"github.com/chess-vn/slduel/internal/aws/notification"
	"github.com/chess-vn/slduel/internal/aws/results"
	"github.com/chess-vn/slduel/internal/aws/storage"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/handlers"
	"github.com/chess-vn/slduel/internal/quiz"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

var handler *handlers.Websocket

func init() {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		logging.Fatal("failed to load aws config", zap.Error(err))
	}
	region := os.Getenv("AWS_REGION")
	apigateway := notification.NewApiGatewayClient(cfg, os.Getenv("AWS_API_ID"), region, os.Getenv("AWS_API_STAGE"))
	notifier := notification.NewClient(apigateway)
	storageClient := storage.NewClient(dynamodb.NewFromConfig(cfg), storage.NewConfig())

	opts := []duel.Option{duel.WithLiveness(notifier)}
	if arn := os.Getenv("END_GAME_FUNCTION_ARN"); arn != "" {
		opts = append(opts, duel.WithPublisher(results.NewPublisher(awslambda.NewFromConfig(cfg), arn)))
	}
	duelCfg := duel.DefaultConfig()
	if points, err := strconv.Atoi(os.Getenv("POINTS_PER_CORRECT")); err == nil && points > 0 {
		duelCfg.PointsPerCorrect = points
	}
	// warm containers reuse the cache between invocations
	quizzes := quiz.NewCache(storageClient, 5*time.Minute)
	coord := duel.NewCoordinator(storageClient, quizzes, notifier, duelCfg, opts...)

	handler = handlers.NewWebsocket(
		gateway.New(coord),
		notifier,
		os.Getenv("COGNITO_USER_POOL_ID") != "",
	)
}

func main() {
	lambda.Start(handler.Route)
}
