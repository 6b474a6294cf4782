package kiwoom

import (
	"context"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/models"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newFeedServer upgrades incoming connections and hands them to script.
func newFeedServer(t *testing.T, script func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer feed-token", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) { return token, nil }
}

func TestWSClientSessionFlow(t *testing.T) {
	requests := make(chan wsRequest, 4)
	echoes := make(chan []byte, 1)

	srv, wsURL := newFeedServer(t, func(conn *websocket.Conn) {
		var login wsRequest
		if err := conn.ReadJSON(&login); err != nil {
			return
		}
		assert.Equal(t, "LOGIN", login.Trnm)
		assert.Equal(t, "feed-token", login.Token)
		conn.WriteJSON(map[string]any{"trnm": "LOGIN", "return_code": 0})

		// The code registered before Run must be registered on connect.
		var reg wsRequest
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		requests <- reg
		conn.WriteJSON(map[string]any{"trnm": "REG", "return_code": 0})

		// A frame with an unknown type must be ignored, then a trade tick.
		conn.WriteJSON(map[string]any{"trnm": "REAL", "data": []map[string]any{
			{"type": "0C", "item": "005930", "values": map[string]string{"10": "1"}},
		}})
		conn.WriteJSON(map[string]any{"trnm": "REAL", "data": []map[string]any{
			{"type": "0B", "item": "005930", "values": map[string]string{"10": "+75000"}},
		}})

		ping := []byte(`{"trnm":"PING","seq":"7"}`)
		conn.WriteMessage(websocket.TextMessage, ping)
		_, echo, err := conn.ReadMessage()
		if err != nil {
			return
		}
		echoes <- echo

		var remove wsRequest
		if err := conn.ReadJSON(&remove); err != nil {
			return
		}
		requests <- remove
	})
	defer srv.Close()

	client := NewWSClient(&config.Kiwoom{WsURL: wsURL}, staticToken("feed-token"), zap.NewNop())
	ticks := make(chan models.PriceTick, 8)
	client.OnTick(func(tick models.PriceTick) { ticks <- tick })
	require.NoError(t, client.Register("005930"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	select {
	case reg := <-requests:
		assert.Equal(t, "REG", reg.Trnm)
		assert.Equal(t, "1", reg.GrpNo)
		assert.Equal(t, "1", reg.Refresh)
		require.Len(t, reg.Data, 1)
		assert.Equal(t, []string{"005930"}, reg.Data[0].Item)
		assert.Equal(t, []string{"0A", "0B"}, reg.Data[0].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("registration not received")
	}

	select {
	case tick := <-ticks:
		assert.Equal(t, "005930", tick.StockCode)
		assert.Equal(t, int64(75000), tick.Price)
		assert.Equal(t, models.TickSourceStream, tick.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("tick not dispatched")
	}

	select {
	case echo := <-echoes:
		assert.JSONEq(t, `{"trnm":"PING","seq":"7"}`, string(echo))
	case <-time.After(2 * time.Second):
		t.Fatal("ping not echoed")
	}

	require.NoError(t, client.Unregister("005930"))
	select {
	case remove := <-requests:
		assert.Equal(t, "REMOVE", remove.Trnm)
		require.Len(t, remove.Data, 1)
		assert.Equal(t, []string{"005930"}, remove.Data[0].Item)
	case <-time.After(2 * time.Second):
		t.Fatal("remove not received")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestWSClientLoginRejected(t *testing.T) {
	srv, wsURL := newFeedServer(t, func(conn *websocket.Conn) {
		var login wsRequest
		if err := conn.ReadJSON(&login); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"trnm": "LOGIN", "return_code": 1, "return_msg": "token expired"})
	})
	defer srv.Close()

	client := NewWSClient(&config.Kiwoom{WsURL: wsURL}, staticToken("feed-token"), zap.NewNop())
	err := client.session(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "login rejected")
}

func TestWSClientTokenError(t *testing.T) {
	client := NewWSClient(&config.Kiwoom{WsURL: "ws://127.0.0.1:0"}, func(ctx context.Context) (string, error) {
		return "", assert.AnError
	}, zap.NewNop())

	err := client.session(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWSClientRegisterWhileDisconnected(t *testing.T) {
	client := NewWSClient(&config.Kiwoom{WsURL: "ws://127.0.0.1:0"}, staticToken("t"), zap.NewNop())

	// Without a live session the code is only tracked for the next connect.
	assert.NoError(t, client.Register("005930"))
	assert.NoError(t, client.Unregister("005930"))
	assert.Empty(t, client.registered)
}
