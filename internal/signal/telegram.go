package signal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSource long-polls a Telegram bot for alert messages from the
// configured source chat and publishes every signal it can parse. It also
// delivers progress notifications to the target chat.
type TelegramSource struct {
	client      *resty.Client
	botToken    string
	sourceChat  string
	targetChat  string
	pollTimeout int
	logger      *zap.Logger

	offset  int64
	signals chan Signal
}

// NewTelegramSource creates a signal source backed by the Telegram bot API.
func NewTelegramSource(cfg *config.Telegram, logger *zap.Logger) *TelegramSource {
	return &TelegramSource{
		client:      resty.New().SetBaseURL(telegramAPIBase),
		botToken:    cfg.BotToken,
		sourceChat:  cfg.SourceChat,
		targetChat:  cfg.TargetChat,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
		signals:     make(chan Signal, 8),
	}
}

// Signals returns the stream of parsed stock pick signals.
func (t *TelegramSource) Signals() <-chan Signal {
	return t.signals
}

type telegramChat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type telegramMessage struct {
	Text string       `json:"text"`
	Chat telegramChat `json:"chat"`
}

type telegramUpdate struct {
	UpdateID    int64            `json:"update_id"`
	Message     *telegramMessage `json:"message"`
	ChannelPost *telegramMessage `json:"channel_post"`
}

type telegramResponse struct {
	OK          bool             `json:"ok"`
	Description string           `json:"description"`
	Result      []telegramUpdate `json:"result"`
}

// Run long-polls getUpdates until the context is cancelled. Poll failures
// are logged and retried after a short pause so a flaky network never kills
// the listener.
func (t *TelegramSource) Run(ctx context.Context) error {
	t.logger.Info("Listening for stock pick alerts",
		zap.String("source_chat", t.sourceChat),
		zap.Int("poll_timeout", t.pollTimeout),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := t.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("Polling for updates failed", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= t.offset {
				t.offset = update.UpdateID + 1
			}

			msg := update.ChannelPost
			if msg == nil {
				msg = update.Message
			}
			if msg == nil || msg.Text == "" || !t.fromSourceChat(msg.Chat) {
				continue
			}

			sig, err := Parse(msg.Text)
			if err != nil {
				t.logger.Debug("Skipping message", zap.Error(err))
				continue
			}

			t.logger.Info("Stock pick signal received",
				zap.String("stock_code", sig.StockCode),
				zap.String("stock_name", sig.StockName),
				zap.Int64("target_price", sig.TargetPrice),
				zap.Int64("current_price", sig.CurrentPrice),
			)
			select {
			case t.signals <- *sig:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (t *TelegramSource) fetchUpdates(ctx context.Context) ([]telegramUpdate, error) {
	var result telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("timeout", strconv.Itoa(t.pollTimeout)).
		SetQueryParam("offset", strconv.FormatInt(t.offset, 10)).
		SetQueryParam("allowed_updates", `["message","channel_post"]`).
		SetResult(&result).
		Get(fmt.Sprintf("/bot%s/getUpdates", t.botToken))
	if err != nil {
		return nil, fmt.Errorf("getUpdates request failed: %w", err)
	}
	if resp.IsError() || !result.OK {
		return nil, fmt.Errorf("getUpdates failed with status %s: %s", resp.Status(), result.Description)
	}
	return result.Result, nil
}

func (t *TelegramSource) fromSourceChat(chat telegramChat) bool {
	if t.sourceChat == "" {
		return true
	}
	if strconv.FormatInt(chat.ID, 10) == t.sourceChat {
		return true
	}
	return chat.Username != "" && "@"+chat.Username == t.sourceChat
}

// Notify sends a progress message to the target chat. Delivery is best
// effort; failures are logged and swallowed.
func (t *TelegramSource) Notify(ctx context.Context, text string) {
	if t.botToken == "" || t.targetChat == "" {
		return
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": t.targetChat, "text": text}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.botToken))
	if err != nil {
		t.logger.Warn("Notification send failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		t.logger.Warn("Notification rejected", zap.String("status", resp.Status()))
	}
}
