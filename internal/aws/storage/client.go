// Package storage implements the match store and quiz catalogue on DynamoDB.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/chess-vn/slduel/internal/store"
)

// Secondary indexes on the matches table. All of them are sparse: their key
// attributes are removed once a match leaves the state they track.
const (
	// WaitingQuizId (hash) with CreatedAt (range).
	waitingQuizIndex = "WaitingQuizIndex"
	// OpenStatus (hash) with CreatedAt (range).
	openStatusIndex = "OpenStatusIndex"
	// Conn1 and Conn2 (hash), the connection refs of open matches.
	conn1Index = "Conn1Index"
	conn2Index = "Conn2Index"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type Config struct {
	MatchesTableName *string
	QuizzesTableName *string
}

// NewConfig reads table names from MATCHES_TABLE_NAME and QUIZZES_TABLE_NAME.
func NewConfig() Config {
	return Config{
		MatchesTableName: aws.String(os.Getenv("MATCHES_TABLE_NAME")),
		QuizzesTableName: aws.String(os.Getenv("QUIZZES_TABLE_NAME")),
	}
}

type Client struct {
	dynamodb DynamoAPI
	cfg      Config
}

func NewClient(dynamoClient DynamoAPI, cfg Config) *Client {
	return &Client{
		dynamodb: dynamoClient,
		cfg:      cfg,
	}
}

// conditionFailed extracts the pre-image DynamoDB returns when a conditional
// write is rejected. The item is nil when the key did not exist.
func conditionFailed(err error) (map[string]types.AttributeValue, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf.Item, true
	}
	return nil, false
}

// unavailable tags a DynamoDB failure with the service error code when there
// is one, so throttling and capacity errors are visible in logs.
func unavailable(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s (%s): %w", store.ErrUnavailable, op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
}
