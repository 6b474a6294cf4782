package kiwoom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/models"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsReadWait bounds a single read. The server heartbeats well inside
	// this window, so hitting it means the connection is dead.
	wsReadWait = 60 * time.Second

	// wsLoginWait is the time allowed for the LOGIN acknowledgement.
	wsLoginWait = 5 * time.Second

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff for reconnection.
	wsMaxReconnectDelay = 60 * time.Second

	// Realtime registration types: 0A quote updates, 0B trade executions.
	realTypeQuote = "0A"
	realTypeTrade = "0B"

	// realFieldPrice is the current-price slot of a REAL values map.
	realFieldPrice = "10"

	// sysCodeDuplicateLogin is sent when another session stole the app key.
	sysCodeDuplicateLogin = "R10001"
)

// TickHandler is called for every realtime price observed on the feed.
type TickHandler func(models.PriceTick)

// TokenFunc supplies the access token used for the feed handshake.
type TokenFunc func(ctx context.Context) (string, error)

// WSClient is a client for the Kiwoom realtime quote feed. It owns the
// connection lifecycle and dispatches price ticks to the registered
// handlers, reconnecting with exponential backoff and restoring
// registrations after a drop.
type WSClient struct {
	wsURL  string
	token  TokenFunc
	logger *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	registered map[string]struct{}

	handlerMu sync.RWMutex
	handlers  []TickHandler
}

// NewWSClient creates a new realtime feed client.
func NewWSClient(cfg *config.Kiwoom, token TokenFunc, logger *zap.Logger) *WSClient {
	return &WSClient{
		wsURL:      cfg.WsURL,
		token:      token,
		logger:     logger,
		registered: make(map[string]struct{}),
	}
}

// OnTick registers a handler that is called for every realtime price.
func (w *WSClient) OnTick(handler TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Run keeps a feed session alive until the context is cancelled. Dropped
// sessions are re-established with exponential backoff and previously
// registered codes are re-registered.
func (w *WSClient) Run(ctx context.Context) error {
	delay := wsReconnectDelay

	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn("Feed session ended, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

// Register starts realtime updates for a stock. When no session is live the
// code is only tracked; the next session registers it during its handshake.
func (w *WSClient) Register(stockCode string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.registered[stockCode] = struct{}{}
	if w.conn == nil {
		return nil
	}
	return w.sendRegistration(w.conn, "REG", stockCode)
}

// Unregister stops realtime updates for a stock.
func (w *WSClient) Unregister(stockCode string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.registered, stockCode)
	if w.conn == nil {
		return nil
	}
	return w.sendRegistration(w.conn, "REMOVE", stockCode)
}

type wsRequest struct {
	Trnm    string      `json:"trnm"`
	Token   string      `json:"token,omitempty"`
	GrpNo   string      `json:"grp_no,omitempty"`
	Refresh string      `json:"refresh,omitempty"`
	Data    []wsRegItem `json:"data,omitempty"`
}

type wsRegItem struct {
	Item []string `json:"item"`
	Type []string `json:"type"`
}

type wsMessage struct {
	Trnm       string       `json:"trnm"`
	ReturnCode int          `json:"return_code"`
	ReturnMsg  string       `json:"return_msg"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Data       []wsRealItem `json:"data"`
}

type wsRealItem struct {
	Type   string            `json:"type"`
	Item   string            `json:"item"`
	Values map[string]string `json:"values"`
}

// session dials, logs in, restores registrations, and reads until the
// connection drops or the context is cancelled.
func (w *WSClient) session(ctx context.Context) error {
	token, err := w.token(ctx)
	if err != nil {
		return fmt.Errorf("feed token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := http.Header{}
	header.Set("authorization", "Bearer "+token)

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	defer conn.Close()

	if err := w.login(conn, token); err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	for code := range w.registered {
		if err := w.sendRegistration(conn, "REG", code); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("feed re-register %s: %w", code, err)
		}
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	w.logger.Info("Feed session established", zap.String("url", w.wsURL))

	// Close the connection when the context dies so the blocking read
	// unwinds promptly instead of waiting out its deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed read: %w", err)
		}
		w.handleMessage(conn, raw)
	}
}

func (w *WSClient) login(conn *websocket.Conn, token string) error {
	if err := w.writeJSON(conn, wsRequest{Trnm: "LOGIN", Token: token}); err != nil {
		return fmt.Errorf("feed login send: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(wsLoginWait))
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("feed login ack: %w", err)
	}
	if ack.Trnm == "LOGIN" && ack.ReturnCode != 0 {
		return fmt.Errorf("feed login rejected: %d %s", ack.ReturnCode, ack.ReturnMsg)
	}
	return nil
}

// sendRegistration sends a REG or REMOVE for one stock code. Caller must
// hold w.mu.
func (w *WSClient) sendRegistration(conn *websocket.Conn, trnm, stockCode string) error {
	req := wsRequest{
		Trnm:    trnm,
		GrpNo:   "1",
		Refresh: "1",
		Data: []wsRegItem{{
			Item: []string{stockCode},
			Type: []string{realTypeQuote, realTypeTrade},
		}},
	}
	if err := w.writeJSON(conn, req); err != nil {
		return fmt.Errorf("feed %s %s: %w", trnm, stockCode, err)
	}
	return nil
}

func (w *WSClient) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// handleMessage routes one raw frame: PINGs are echoed back verbatim to
// keep the session alive, REAL frames become price ticks, everything else
// is acknowledgement or system chatter.
func (w *WSClient) handleMessage(conn *websocket.Conn, raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // drop unparseable frames
	}

	switch msg.Trnm {
	case "PING":
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			w.logger.Warn("Feed ping echo failed", zap.Error(err))
		}

	case "REAL":
		now := time.Now()
		for _, item := range msg.Data {
			if item.Type != realTypeQuote && item.Type != realTypeTrade {
				continue
			}
			price := parseWireInt(item.Values[realFieldPrice])
			if price <= 0 {
				continue
			}
			w.dispatch(models.PriceTick{
				StockCode:  item.Item,
				Price:      price,
				Source:     models.TickSourceStream,
				ReceivedAt: now,
			})
		}

	case "REG", "REMOVE":
		if msg.ReturnCode != 0 {
			w.logger.Warn("Feed registration rejected",
				zap.String("trnm", msg.Trnm),
				zap.Int("return_code", msg.ReturnCode),
				zap.String("return_msg", msg.ReturnMsg),
			)
		}

	case "SYSTEM":
		w.logger.Warn("Feed system message",
			zap.String("code", msg.Code),
			zap.String("message", msg.Message),
		)
		if msg.Code == sysCodeDuplicateLogin {
			conn.Close()
		}
	}
}

func (w *WSClient) dispatch(tick models.PriceTick) {
	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}
