package trader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/models"
)

// DailyTradeGate enforces the one-buy-per-day rule and the buy time window.
// The rule is backed by a small JSON lock file that survives restarts.
type DailyTradeGate struct {
	path   string
	start  string
	end    string
	logger *zap.Logger
}

// NewDailyTradeGate creates a gate over the configured lock file.
func NewDailyTradeGate(cfg *config.Config, logger *zap.Logger) *DailyTradeGate {
	return &DailyTradeGate{
		path:   cfg.Storage.LockFile,
		start:  cfg.Trading.BuyStartTime,
		end:    cfg.Trading.BuyEndTime,
		logger: logger,
	}
}

// Load reads the lock file. A missing file yields nil without error.
func (g *DailyTradeGate) Load() (*models.DailyTradeLock, error) {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var lock models.DailyTradeLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &lock, nil
}

// HasTradedToday reports whether the daily buy quota is already used. An
// unreadable lock file counts as unused so a corrupt file cannot block
// trading forever.
func (g *DailyTradeGate) HasTradedToday(now time.Time) bool {
	lock, err := g.Load()
	if err != nil {
		g.logger.Warn("Unreadable lock file, treating as no trade today", zap.Error(err))
		return false
	}
	return lock != nil && lock.TradedOn(now)
}

// IsBuyWindowOpen reports whether now falls inside [start, end).
func (g *DailyTradeGate) IsBuyWindowOpen(now time.Time) bool {
	start, err := minuteOfDay(g.start)
	if err != nil {
		return false
	}
	end, err := minuteOfDay(g.end)
	if err != nil {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	return m >= start && m < end
}

// RecordTrade overwrites the lock file with the given trade. A zero
// tradedAt omits the timestamp, which disables the stop-loss delay for a
// position later restored from this record. Write failures are logged and
// trading continues.
func (g *DailyTradeGate) RecordTrade(code, name string, price, qty int64, tradedAt time.Time) {
	lock := models.DailyTradeLock{
		LastTradingDate: time.Now().Format(models.TradingDateLayout),
		StockCode:       code,
		StockName:       name,
		BuyPrice:        price,
		Quantity:        qty,
	}
	if !tradedAt.IsZero() {
		lock.LastTradingDate = tradedAt.Format(models.TradingDateLayout)
		lock.TradingTime = tradedAt.Format(models.TradingTimeLayout)
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err == nil {
		err = os.WriteFile(g.path, data, 0o644)
	}
	if err != nil {
		g.logger.Error("Failed to write lock file", zap.String("path", g.path), zap.Error(err))
		return
	}

	g.logger.Info("Daily trade lock recorded",
		zap.String("stock_code", code),
		zap.Int64("buy_price", price),
		zap.Int64("quantity", qty),
		zap.String("date", lock.LastTradingDate),
	)
}

// minuteOfDay converts an "HH:MM" clock string to minutes since midnight.
func minuteOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", clock, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// clockReached reports whether now's time of day is at or past the "HH:MM"
// clock, at minute granularity.
func clockReached(now time.Time, clock string) bool {
	m, err := minuteOfDay(clock)
	if err != nil {
		return false
	}
	return now.Hour()*60+now.Minute() >= m
}
