package localgw

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sundaechat "github.com/SundaeSwap-finance/sundae-chat/sundae-chat"
	"github.com/SundaeSwap-finance/sundae-chat/sundae-chat/chattest"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type env struct {
	url      string
	gateway  *Gateway
	registry *chattest.Registry
}

func setup(t *testing.T) *env {
	var (
		clock    = chattest.NewClock(time.Now())
		registry = chattest.NewRegistry(clock.Now)
		gateway  = New(zerolog.Nop())
		handler  = &sundaechat.Handler{
			Dispatcher: &sundaechat.Dispatcher{
				Registry: registry,
				Log:      chattest.NewLog(clock.Now),
				Push:     gateway,
				Logger:   zerolog.Nop(),
			},
			Logger: zerolog.Nop(),
		}
	)
	gateway.Handler = handler.HandleEvent

	server := httptest.NewServer(gateway.Router())
	t.Cleanup(server.Close)

	return &env{
		url:      "ws" + strings.TrimPrefix(server.URL, "http"),
		gateway:  gateway,
		registry: registry,
	}
}

func dial(t *testing.T, e *env, room, userID string) (*websocket.Conn, sundaechat.Welcome) {
	ws, _, err := websocket.DefaultDialer.Dial(e.url+"/?room="+room+"&userId="+userID, nil)
	assert.Nil(t, err)
	t.Cleanup(func() { ws.Close() })

	var welcome sundaechat.Welcome
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	assert.Nil(t, ws.ReadJSON(&welcome))
	assert.Equal(t, sundaechat.ActionWelcome, welcome.Action)
	assert.Equal(t, room, welcome.Room)
	assert.Equal(t, userID, welcome.UserID)
	return ws, welcome
}

func TestGateway(t *testing.T) {
	e := setup(t)

	alice, _ := dial(t, e, "general", "alice")
	bob, _ := dial(t, e, "general", "bob")
	carol, _ := dial(t, e, "random", "carol")

	err := alice.WriteJSON(sundaechat.Inbound{Action: "sendMessage", Room: "general", UserID: "alice", Message: "hi"})
	assert.Nil(t, err)

	for _, ws := range []*websocket.Conn{alice, bob} {
		var out sundaechat.Outbound
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		assert.Nil(t, ws.ReadJSON(&out))
		assert.Equal(t, "message", out.Action)
		assert.Equal(t, "hi", out.Message)
		assert.Equal(t, "alice", out.UserID)
		assert.NotEqual(t, "", out.Timestamp)
	}

	carol.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = carol.ReadMessage()
	assert.NotNil(t, err)
}

func TestGatewayInvalidMessage(t *testing.T) {
	e := setup(t)
	ws, _ := dial(t, e, "general", "alice")

	assert.Nil(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"shout"}`)))

	var reply sundaechat.Error
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	assert.Nil(t, ws.ReadJSON(&reply))
	assert.Equal(t, sundaechat.ActionError, reply.Action)
}

func TestGatewayDisconnect(t *testing.T) {
	e := setup(t)
	ws, welcome := dial(t, e, "general", "alice")

	_, ok := e.registry.Get(welcome.ConnectionID)
	assert.True(t, ok)

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ok && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		_, ok = e.registry.Get(welcome.ConnectionID)
	}
	assert.False(t, ok)

	err := e.gateway.Push(context.Background(), welcome.ConnectionID, []byte("late"))
	assert.True(t, errors.Is(err, sundaechat.ErrDeliveryGone))
}

func TestGatewayClose(t *testing.T) {
	e := setup(t)
	ws, welcome := dial(t, e, "general", "alice")

	assert.Nil(t, e.gateway.Close(context.Background(), welcome.ConnectionID))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
