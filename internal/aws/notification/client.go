package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/chess-vn/slduel/internal/domains/dtos"
)

var ErrConnectionGone = errors.New("connection gone")

// ApiGatewayAPI is the part of the management API the client uses.
type ApiGatewayAPI interface {
	PostToConnection(
		ctx context.Context,
		params *apigatewaymanagementapi.PostToConnectionInput,
		optFns ...func(*apigatewaymanagementapi.Options),
	) (*apigatewaymanagementapi.PostToConnectionOutput, error)
	GetConnection(
		ctx context.Context,
		params *apigatewaymanagementapi.GetConnectionInput,
		optFns ...func(*apigatewaymanagementapi.Options),
	) (*apigatewaymanagementapi.GetConnectionOutput, error)
}

// Client pushes notifications to API Gateway websocket connections.
type Client struct {
	apigateway ApiGatewayAPI
}

func NewClient(api ApiGatewayAPI) *Client {
	return &Client{apigateway: api}
}

func Endpoint(apiId, region, stage string) string {
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiId, region, stage)
}

// NewApiGatewayClient builds a management API client for a deployed stage.
func NewApiGatewayClient(cfg aws.Config, apiId, region, stage string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.New(apigatewaymanagementapi.Options{
		BaseEndpoint: aws.String(Endpoint(apiId, region, stage)),
		Region:       region,
		Credentials:  cfg.Credentials,
	})
}

func (client *Client) Notify(ctx context.Context, connectionRef string, notification dtos.Notification) error {
	return client.post(ctx, connectionRef, notification)
}

func (client *Client) IsLive(ctx context.Context, connectionRef string) (bool, error) {
	_, err := client.apigateway.GetConnection(ctx, &apigatewaymanagementapi.GetConnectionInput{
		ConnectionId: aws.String(connectionRef),
	})
	if err != nil {
		if isGone(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get connection: %w", err)
	}
	return true, nil
}

// Reply sends a response to the connection that made a request.
func (client *Client) Reply(ctx context.Context, connectionRef string, resp dtos.Response) error {
	return client.post(ctx, connectionRef, resp)
}

func (client *Client) post(ctx context.Context, connectionRef string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_, err = client.apigateway.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionRef),
		Data:         data,
	})
	if err != nil {
		if isGone(err) {
			return fmt.Errorf("%w: %s", ErrConnectionGone, connectionRef)
		}
		return fmt.Errorf("failed to post to connection: %w", err)
	}
	return nil
}

func isGone(err error) bool {
	var gone *types.GoneException
	return errors.As(err, &gone)
}
