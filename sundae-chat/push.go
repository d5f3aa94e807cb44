package sundaechat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
)

// Pusher delivers a payload to a single connection. A returned error wrapping
// ErrDeliveryGone means the connection no longer exists; any other error is transient.
type Pusher interface {
	Push(ctx context.Context, connectionID string, data []byte) error
}

// Closer terminates a connection at the gateway.
type Closer interface {
	Close(ctx context.Context, connectionID string) error
}

type contextKey string

const endpointKey contextKey = "endpoint"

// WithEndpoint records the management API endpoint of the gateway that raised the
// current event.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, endpointKey, endpoint)
}

// EndpointFromContext returns the endpoint stored by WithEndpoint.
func EndpointFromContext(ctx context.Context) (string, bool) {
	endpoint, ok := ctx.Value(endpointKey).(string)
	return endpoint, ok && endpoint != ""
}

// GatewayPusher pushes through the API Gateway Management API.
type GatewayPusher struct {
	// Endpoint is used when the context carries none.
	Endpoint string
	// NewClient builds a management client for an endpoint; defaults to a client on a
	// new session.
	NewClient func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mu      sync.RWMutex
	clients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

func NewGatewayPusher(endpoint string) *GatewayPusher {
	return &GatewayPusher{Endpoint: endpoint}
}

func (g *GatewayPusher) Push(ctx context.Context, connectionID string, data []byte) error {
	client, err := g.client(ctx)
	if err != nil {
		return err
	}

	_, err = client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		return classify(connectionID, err)
	}
	return nil
}

// Close disconnects a client. Closing a connection that is already gone is not an error.
func (g *GatewayPusher) Close(ctx context.Context, connectionID string) error {
	client, err := g.client(ctx)
	if err != nil {
		return err
	}

	_, err = client.DeleteConnectionWithContext(ctx, &apigatewaymanagementapi.DeleteConnectionInput{
		ConnectionId: aws.String(connectionID),
	})
	if err != nil {
		if isGone(err) {
			return nil
		}
		return fmt.Errorf("failed to close connection %v: %w", connectionID, err)
	}
	return nil
}

func (g *GatewayPusher) client(ctx context.Context) (apigatewaymanagementapiiface.ApiGatewayManagementApiAPI, error) {
	endpoint, ok := EndpointFromContext(ctx)
	if !ok {
		endpoint = g.Endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no gateway endpoint configured: %w", ErrDeliveryTransient)
	}

	g.mu.RLock()
	if client, ok := g.clients[endpoint]; ok {
		g.mu.RUnlock()
		return client, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[endpoint]; ok {
		return client, nil
	}
	if g.clients == nil {
		g.clients = map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI{}
	}

	var client apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
	if g.NewClient != nil {
		client = g.NewClient(endpoint)
	} else {
		sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
		client = apigatewaymanagementapi.New(sess)
	}
	g.clients[endpoint] = client
	return client, nil
}

func classify(connectionID string, err error) error {
	if isGone(err) {
		return fmt.Errorf("connection %v: %w", connectionID, ErrDeliveryGone)
	}
	return fmt.Errorf("posting to connection %v: %w: %v", connectionID, ErrDeliveryTransient, err)
}

// isGone reports whether err is a GoneException (HTTP 410).
func isGone(err error) bool {
	var rerr awserr.RequestFailure
	if errors.As(err, &rerr) && rerr.StatusCode() == http.StatusGone {
		return true
	}
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == apigatewaymanagementapi.ErrCodeGoneException
}
