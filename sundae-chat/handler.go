package sundaechat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/connectiondao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
)

const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"

	DefaultRoom   = "default"
	DefaultUserID = "anonymous"
)

// Handler adapts API Gateway WebSocket events to the Dispatcher.
type Handler struct {
	Dispatcher *Dispatcher
	Logger     zerolog.Logger
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()

	if req.RequestContext.DomainName != "" {
		endpoint := fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
		ctx = WithEndpoint(ctx, endpoint)
	}
	ctx = logger.WithContext(ctx)

	switch req.RequestContext.RouteKey {
	case RouteConnect:
		return h.handleConnect(ctx, logger, req)
	case RouteDisconnect:
		return h.handleDisconnect(ctx, req)
	case RouteDefault:
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown route")
		return response(http.StatusBadRequest), nil
	}
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	room := req.QueryStringParameters["room"]
	if room == "" {
		room = DefaultRoom
	}
	userID := req.QueryStringParameters["userId"]
	if userID == "" {
		userID = DefaultUserID
	}

	if err := h.Dispatcher.HandleConnect(ctx, req.RequestContext.ConnectionID, room, userID); err != nil {
		if errors.Is(err, connectiondao.ErrDuplicateConnection) {
			logger.Warn().Err(err).Msg("duplicate connection")
			return response(http.StatusConflict), nil
		}
		logger.Error().Err(err).Msg("failed to register connection")
		return response(http.StatusInternalServerError), nil
	}
	return response(http.StatusOK), nil
}

func (h *Handler) handleDisconnect(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.Dispatcher.HandleDisconnect(ctx, req.RequestContext.ConnectionID)
	return response(http.StatusOK), nil
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	in, err := ParseInbound(req.Body)
	if err == nil {
		_, err = h.Dispatcher.HandleInboundMessage(ctx, connectionID, in)
	}

	switch {
	case err == nil:
		return response(http.StatusOK), nil

	case errors.Is(err, ErrInvalidMessage):
		logger.Warn().Err(err).Msg("invalid message")
		h.reply(ctx, logger, connectionID, err)
		return response(http.StatusBadRequest), nil

	case errors.Is(err, ErrPersistence):
		logger.Error().Err(err).Msg("failed to persist message")
		h.reply(ctx, logger, connectionID, ErrPersistence)
		return response(http.StatusInternalServerError), nil

	default:
		logger.Error().Err(err).Msg("failed to dispatch message")
		return response(http.StatusInternalServerError), nil
	}
}

// reply tells the sender why its message was rejected.
func (h *Handler) reply(ctx context.Context, logger zerolog.Logger, connectionID string, cause error) {
	if err := h.Dispatcher.push(ctx, connectionID, ErrorMessage(cause.Error())); err != nil {
		logger.Warn().Err(err).Msg("failed to send error")
	}
}

// Start runs the handler as a lambda.
func (h *Handler) Start() error {
	h.Logger.Info().Str("env", sundaecli.CommonOpts.Env).Msg("starting websocket handler")
	lambda.Start(h.HandleEvent)
	return nil
}

func response(status int) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status}
}
