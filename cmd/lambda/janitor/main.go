package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chess-vn/slduel/internal/aws/notification"
	"github.com/chess-vn/slduel/internal/aws/storage"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/handlers"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

var coord *duel.Coordinator

func init() {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		logging.Fatal("failed to load aws config", zap.Error(err))
	}
	apigateway := notification.NewApiGatewayClient(cfg, os.Getenv("AWS_API_ID"), os.Getenv("AWS_REGION"), os.Getenv("AWS_API_STAGE"))
	storageClient := storage.NewClient(dynamodb.NewFromConfig(cfg), storage.NewConfig())
	notifier := notification.NewClient(apigateway)
	coord = duel.NewCoordinator(storageClient, storageClient, notifier, duel.DefaultConfig(), duel.WithLiveness(notifier))
}

func main() {
	lambda.Start(handlers.Sweep(coord))
}
