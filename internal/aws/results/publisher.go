package results

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/store"
)

type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Publisher hands finished matches to the end-game function, which owns
// the persistent result store.
type Publisher struct {
	lambda      LambdaAPI
	functionArn string
}

func NewPublisher(api LambdaAPI, functionArn string) *Publisher {
	return &Publisher{
		lambda:      api,
		functionArn: functionArn,
	}
}

// PublishResult invokes the function asynchronously with the final match
// record, answer logs included.
func (p *Publisher) PublishResult(ctx context.Context, m entities.Match) error {
	payload, err := json.Marshal(store.MatchRecordFromEntity(m))
	if err != nil {
		return fmt.Errorf("failed to marshal match record: %w", err)
	}
	_, err = p.lambda.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(p.functionArn),
		Payload:        payload,
		InvocationType: types.InvocationTypeEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke end game: %w", err)
	}
	return nil
}
