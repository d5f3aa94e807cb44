package sundaechat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func wsRequest(route, connectionID, body string, query map[string]string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		Body:                  body,
		QueryStringParameters: query,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionID,
			DomainName:   "abc.execute-api.us-east-2.amazonaws.com",
			Stage:        "prod",
		},
	}
}

func TestHandler(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture()
		handler = &sundaechat.Handler{Dispatcher: f.dispatcher, Logger: zerolog.Nop()}
	)

	resp, err := handler.HandleEvent(ctx, wsRequest(sundaechat.RouteConnect, "c1", "", map[string]string{"room": "general", "userId": "u1"}))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// defaults when the client does not say where it belongs
	resp, err = handler.HandleEvent(ctx, wsRequest(sundaechat.RouteConnect, "c2", "", nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	conn, ok := f.registry.Get("c2")
	assert.True(t, ok)
	assert.Equal(t, "default", conn.Room)
	assert.Equal(t, "anonymous", conn.UserID)

	body := `{"action":"sendMessage","room":"general","user_id":"u1","message":"hi"}`
	resp, err = handler.HandleEvent(ctx, wsRequest(sundaechat.RouteDefault, "c1", body, nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, f.pusher.Outbound("c1"), 1)
	assert.Len(t, f.pusher.Outbound("c2"), 0)

	resp, err = handler.HandleEvent(ctx, wsRequest(sundaechat.RouteDisconnect, "c1", "", nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok = f.registry.Get("c1")
	assert.False(t, ok)

	resp, err = handler.HandleEvent(ctx, wsRequest("$unknown", "c1", "", nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerRejectsInvalidMessages(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture()
		handler = &sundaechat.Handler{Dispatcher: f.dispatcher, Logger: zerolog.Nop()}
	)
	connect(t, f, "c1", "general", "u1")

	resp, err := handler.HandleEvent(ctx, wsRequest(sundaechat.RouteDefault, "c1", `{"action":"sendMessage"}`, nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	sent := f.pusher.Sent("c1")
	var reply sundaechat.Error
	assert.Nil(t, json.Unmarshal(sent[len(sent)-1], &reply))
	assert.Equal(t, "error", reply.Action)
	assert.Len(t, f.log.Messages(), 0)
}

func TestHandlerPersistenceFailure(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture()
		handler = &sundaechat.Handler{Dispatcher: f.dispatcher, Logger: zerolog.Nop()}
	)
	connect(t, f, "c1", "general", "u1")
	f.log.AppendErr = errors.New("table unavailable")

	body := `{"action":"sendMessage","room":"general","user_id":"u1","message":"hi"}`
	resp, err := handler.HandleEvent(ctx, wsRequest(sundaechat.RouteDefault, "c1", body, nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	sent := f.pusher.Sent("c1")
	var reply sundaechat.Error
	assert.Nil(t, json.Unmarshal(sent[len(sent)-1], &reply))
	assert.Equal(t, sundaechat.Error{Action: "error", Message: sundaechat.ErrPersistence.Error()}, reply)
}

func TestHandlerDuplicateConnect(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture()
		handler = &sundaechat.Handler{Dispatcher: f.dispatcher, Logger: zerolog.Nop()}
	)
	connect(t, f, "c1", "general", "u1")

	resp, err := handler.HandleEvent(ctx, wsRequest(sundaechat.RouteConnect, "c1", "", map[string]string{"room": "random", "userId": "u1"}))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandlerErrorReplyIsBounded(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture()
		handler = &sundaechat.Handler{Dispatcher: f.dispatcher, Logger: zerolog.Nop()}
	)
	connect(t, f, "c1", "general", "u1")
	f.dispatcher.PushTimeout = 50 * time.Millisecond
	f.pusher.Delay = 500 * time.Millisecond

	started := time.Now()
	resp, err := handler.HandleEvent(ctx, wsRequest(sundaechat.RouteDefault, "c1", `{"action":"sendMessage"}`, nil))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, time.Since(started) < 300*time.Millisecond)
}
