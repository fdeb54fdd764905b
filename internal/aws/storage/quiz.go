package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/quiz"
)

var _ quiz.Source = (*Client)(nil)

func (client *Client) GetQuiz(ctx context.Context, quizId string) (entities.Quiz, error) {
	output, err := client.dynamodb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: client.cfg.QuizzesTableName,
		Key: map[string]types.AttributeValue{
			"QuizId": &types.AttributeValueMemberS{
				Value: quizId,
			},
		},
	})
	if err != nil {
		return entities.Quiz{}, fmt.Errorf("%w: %w", quiz.ErrQuizUnavailable, err)
	}
	if output.Item == nil {
		return entities.Quiz{}, quiz.ErrQuizNotFound
	}
	var q entities.Quiz
	if err := attributevalue.UnmarshalMap(output.Item, &q); err != nil {
		return entities.Quiz{}, fmt.Errorf("failed to unmarshal quiz: %w", err)
	}
	return q, nil
}

func (client *Client) PutQuiz(ctx context.Context, q entities.Quiz) error {
	av, err := attributevalue.MarshalMap(q)
	if err != nil {
		return fmt.Errorf("failed to marshal quiz: %w", err)
	}
	_, err = client.dynamodb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: client.cfg.QuizzesTableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put quiz: %w", err)
	}
	return nil
}
