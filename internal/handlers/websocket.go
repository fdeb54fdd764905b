// Package handlers adapts API Gateway websocket and scheduled events to the
// duel gateway for the lambda deployment.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chess-vn/slduel/internal/app/gateway"
	"github.com/chess-vn/slduel/internal/aws/auth"
	"github.com/chess-vn/slduel/internal/aws/notification"
	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/pkg/logging"
	"go.uber.org/zap"
)

const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
)

// Replier sends a response back to the connection that made a request.
type Replier interface {
	Reply(ctx context.Context, connectionRef string, resp dtos.Response) error
}

type Websocket struct {
	gateway     *gateway.Gateway
	replier     Replier
	requireAuth bool
}

func NewWebsocket(g *gateway.Gateway, replier Replier, requireAuth bool) *Websocket {
	return &Websocket{
		gateway:     g,
		replier:     replier,
		requireAuth: requireAuth,
	}
}

// Route dispatches on the route key API Gateway selected.
func (h *Websocket) Route(
	ctx context.Context,
	event events.APIGatewayWebsocketProxyRequest,
) (events.APIGatewayProxyResponse, error) {
	switch event.RequestContext.RouteKey {
	case RouteConnect:
		return h.Connect(ctx, event)
	case RouteDisconnect:
		return h.Disconnect(ctx, event)
	default:
		return h.Message(ctx, event)
	}
}

// Connect accepts the connection once the authorizer has vouched for the user.
func (h *Websocket) Connect(
	ctx context.Context,
	event events.APIGatewayWebsocketProxyRequest,
) (events.APIGatewayProxyResponse, error) {
	userId, ok := callerId(event)
	if h.requireAuth && !ok {
		logging.Warn("rejected unauthenticated connection",
			zap.String("connection_ref", event.RequestContext.ConnectionID))
		return respond(http.StatusUnauthorized, "Unauthorized"), nil
	}
	logging.Info("connected",
		zap.String("connection_ref", event.RequestContext.ConnectionID),
		zap.String("player_id", userId),
	)
	return respond(http.StatusOK, "Connected"), nil
}

func (h *Websocket) Disconnect(
	ctx context.Context,
	event events.APIGatewayWebsocketProxyRequest,
) (events.APIGatewayProxyResponse, error) {
	connectionId := event.RequestContext.ConnectionID
	if err := h.gateway.Disconnect(ctx, connectionId); err != nil {
		logging.Error("failed to handle disconnect",
			zap.String("connection_ref", connectionId),
			zap.Error(err),
		)
		return respond(http.StatusInternalServerError, "Internal Server Error"), nil
	}
	return respond(http.StatusOK, "Disconnected"), nil
}

// Message runs one client request and replies on the same connection.
func (h *Websocket) Message(
	ctx context.Context,
	event events.APIGatewayWebsocketProxyRequest,
) (events.APIGatewayProxyResponse, error) {
	userId, ok := callerId(event)
	if h.requireAuth && !ok {
		return respond(http.StatusUnauthorized, "Unauthorized"), nil
	}
	caller := gateway.Caller{
		UserId:        userId,
		ConnectionRef: event.RequestContext.ConnectionID,
	}
	resp := h.gateway.Handle(ctx, caller, []byte(event.Body))
	if err := h.replier.Reply(ctx, caller.ConnectionRef, resp); err != nil {
		if errors.Is(err, notification.ErrConnectionGone) {
			logging.Info("caller left before reply", zap.String("connection_ref", caller.ConnectionRef))
			return respond(http.StatusGone, "Gone"), nil
		}
		logging.Error("failed to reply",
			zap.String("connection_ref", caller.ConnectionRef),
			zap.Error(err),
		)
		return respond(http.StatusInternalServerError, "Internal Server Error"), nil
	}
	return respond(http.StatusOK, ""), nil
}

func callerId(event events.APIGatewayWebsocketProxyRequest) (string, bool) {
	authorizer, ok := event.RequestContext.Authorizer.(map[string]interface{})
	if !ok {
		return "", false
	}
	return auth.UserIdFromAuthorizer(authorizer)
}

func respond(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}
