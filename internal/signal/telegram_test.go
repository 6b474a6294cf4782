package signal

import (
	"context"
	"encoding/json"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSource(serverURL string) *TelegramSource {
	return &TelegramSource{
		client:      resty.New().SetBaseURL(serverURL),
		botToken:    "test-token",
		sourceChat:  "@picks",
		targetChat:  "777",
		pollTimeout: 0,
		logger:      zap.NewNop(),
		signals:     make(chan Signal, 8),
	}
}

func TestTelegramSourceRun(t *testing.T) {
	// Arrange: the first poll delivers a chat message that is not an alert
	// and a channel post carrying a signal; later polls are empty.
	page1 := `{"ok":true,"result":[
		{"update_id":10,"message":{"text":"hello","chat":{"id":42}}},
		{"update_id":11,"channel_post":{"text":"[Ai 종목포착 시그널]\n종목명: 삼성전자(005930)\n적정매수가: 75,000원\n포착 현재가: 74,900원","chat":{"id":-100123,"username":"picks"}}}
	]}`

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/getUpdates", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			assert.Equal(t, "0", r.URL.Query().Get("offset"))
			_, _ = w.Write([]byte(page1))
		default:
			// The offset must advance past the highest delivered update.
			assert.Equal(t, "12", r.URL.Query().Get("offset"))
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		}
	}))
	defer server.Close()

	source := newTestSource(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)

	// Act
	go func() { runErr <- source.Run(ctx) }()

	// Assert
	select {
	case sig := <-source.Signals():
		assert.Equal(t, "005930", sig.StockCode)
		assert.Equal(t, "삼성전자", sig.StockName)
		assert.Equal(t, int64(75000), sig.TargetPrice)
		assert.Equal(t, int64(74900), sig.CurrentPrice)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestTelegramSourcePollFailure(t *testing.T) {
	// A failing poll must not end the listener.
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := newTestSource(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- source.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestNotify(t *testing.T) {
	t.Run("Delivered", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
			body := make(map[string]string)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "777", body["chat_id"])
			assert.Equal(t, "매수 완료: 삼성전자", body["text"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		source := newTestSource(server.URL)
		source.Notify(context.Background(), "매수 완료: 삼성전자")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("NoTargetChat", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer server.Close()

		source := newTestSource(server.URL)
		source.targetChat = ""
		source.Notify(context.Background(), "ignored")
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})
}
