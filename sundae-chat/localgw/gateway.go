// Package localgw is a stand-in for the API Gateway WebSocket API when running in console
// mode. It accepts websocket clients, turns their lifecycle into $connect, $default and
// $disconnect events, and pushes payloads back to them by connection id.
package localgw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	sundaerest "github.com/SundaeSwap-finance/sundae-chat/sundae-rest"
	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	readLimit    = 32 * 1024
	writeTimeout = 10 * time.Second
)

// EventHandler has the signature of sundaechat.Handler.HandleEvent.
type EventHandler func(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error)

type Gateway struct {
	Handler EventHandler
	Logger  zerolog.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serialises writes
}

func New(logger zerolog.Logger) *Gateway {
	return &Gateway{
		Logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[string]*conn{},
	}
}

// Router returns the websocket endpoint wrapped in the standard middleware.
func (g *Gateway) Router() chi.Router {
	router := sundaerest.Middlewares(g.Logger, chi.NewRouter())
	router.Get("/", g.ServeHTTP)
	return router
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := g.upgrader.Upgrade(w, req, nil)
	if err != nil {
		g.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(readLimit)

	var (
		id     = ulid.Make().String()
		c      = &conn{ws: ws}
		ctx    = context.WithoutCancel(req.Context())
		logger = g.Logger.With().Str("connection_id", id).Logger()
	)
	g.mu.Lock()
	g.conns[id] = c
	g.mu.Unlock()

	defer func() {
		g.remove(id)
		ws.Close()
		g.dispatch(ctx, logger, g.event(req, id, sundaechat.RouteDisconnect, ""))
	}()

	if status := g.dispatch(ctx, logger, g.event(req, id, sundaechat.RouteConnect, "")); status != http.StatusOK {
		logger.Info().Int("status", status).Msg("connection rejected")
		c.close(websocket.ClosePolicyViolation, http.StatusText(status))
		return
	}

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		g.dispatch(ctx, logger, g.event(req, id, sundaechat.RouteDefault, string(data)))
	}
}

func (g *Gateway) event(req *http.Request, connectionID, route, body string) events.APIGatewayWebsocketProxyRequest {
	query := map[string]string{}
	for k, v := range req.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	return events.APIGatewayWebsocketProxyRequest{
		Body:                  body,
		QueryStringParameters: query,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:         route,
			ConnectionID:     connectionID,
			RequestTimeEpoch: time.Now().UnixMilli(),
		},
	}
}

func (g *Gateway) dispatch(ctx context.Context, logger zerolog.Logger, event events.APIGatewayWebsocketProxyRequest) int {
	resp, err := g.Handler(ctx, event)
	if err != nil {
		logger.Error().Err(err).Str("route", event.RequestContext.RouteKey).Msg("handler failed")
		return http.StatusInternalServerError
	}
	return resp.StatusCode
}

func (g *Gateway) get(connectionID string) (*conn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.conns[connectionID]
	return c, ok
}

func (g *Gateway) remove(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, connectionID)
}

// Push implements sundaechat.Pusher.
func (g *Gateway) Push(ctx context.Context, connectionID string, data []byte) error {
	c, ok := g.get(connectionID)
	if !ok {
		return fmt.Errorf("connection %v: %w", connectionID, sundaechat.ErrDeliveryGone)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return fmt.Errorf("connection %v: %w", connectionID, sundaechat.ErrDeliveryGone)
		}
		return fmt.Errorf("writing to %v: %w: %v", connectionID, sundaechat.ErrDeliveryTransient, err)
	}
	return nil
}

// Close implements sundaechat.Closer.
func (g *Gateway) Close(_ context.Context, connectionID string) error {
	c, ok := g.get(connectionID)
	if !ok {
		return nil
	}
	c.close(websocket.CloseGoingAway, "connection expired")
	return nil
}

func (c *conn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.ws.Close()
}
