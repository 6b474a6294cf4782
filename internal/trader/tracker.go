package trader

import (
	"context"
	"time"

	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/kiwoom"
	"kiwoom-trade-bot-go/internal/models"
)

// RefreshOutcome reports what a balance reconciliation pass did.
type RefreshOutcome int

const (
	// RefreshUnchanged means no broker query was due or nothing differed.
	RefreshUnchanged RefreshOutcome = iota
	// RefreshVerified means the one-shot post-buy verification ran.
	RefreshVerified
	// RefreshUpdated means a periodic re-check corrected the position.
	RefreshUpdated
	// RefreshClosedExternally means the stock left the account balance.
	RefreshClosedExternally
)

// PositionTracker keeps the in-memory position honest against the account
// balance: a one-shot verification after market buys and an optional
// periodic re-check that absorbs fills and trades made outside the bot.
type PositionTracker struct {
	gateway  kiwoom.Gateway
	gate     *DailyTradeGate
	logger   *zap.Logger
	interval time.Duration

	lastCheck time.Time
}

// NewPositionTracker creates a tracker. A zero balance_check_interval
// disables the periodic re-check.
func NewPositionTracker(tc TradingContext, gate *DailyTradeGate) *PositionTracker {
	return &PositionTracker{
		gateway:  tc.Gateway,
		gate:     gate,
		logger:   tc.Logger,
		interval: time.Duration(tc.Cfg.Trading.BalanceCheckInterval) * time.Second,
	}
}

// Begin resets the re-check timer for a new monitoring session.
func (t *PositionTracker) Begin(now time.Time) {
	t.lastCheck = now
}

// Refresh reconciles the position with the account balance. Between
// interval boundaries it performs no broker query and no mutation.
func (t *PositionTracker) Refresh(ctx context.Context, pos *models.Position, now time.Time) RefreshOutcome {
	if pos == nil || !pos.Open() {
		return RefreshUnchanged
	}

	if !pos.Verified {
		return t.verify(ctx, pos)
	}

	if t.interval <= 0 {
		return RefreshUnchanged
	}
	if t.lastCheck.IsZero() {
		t.lastCheck = now
		return RefreshUnchanged
	}
	if now.Sub(t.lastCheck) < t.interval {
		return RefreshUnchanged
	}
	// Reset before the query so an error does not turn into a query storm.
	t.lastCheck = now

	holding, found, err := t.lookup(ctx, pos.StockCode)
	if err != nil {
		t.logger.Warn("Balance re-check failed, will retry next interval", zap.Error(err))
		return RefreshUnchanged
	}
	if !found || holding.Quantity == 0 {
		t.logger.Warn("Held stock vanished from the account balance",
			zap.String("stock_code", pos.StockCode))
		return RefreshClosedExternally
	}
	if holding.Quantity == pos.Quantity && (holding.AvgPrice <= 0 || holding.AvgPrice == pos.EntryPrice) {
		return RefreshUnchanged
	}

	if holding.AvgPrice > 0 {
		pos.EntryPrice = holding.AvgPrice
	}
	pos.Quantity = holding.Quantity
	t.persist(pos)
	t.logger.Info("Position corrected from account balance",
		zap.String("stock_code", pos.StockCode),
		zap.Int64("entry_price", pos.EntryPrice),
		zap.Int64("quantity", pos.Quantity),
	)
	return RefreshUpdated
}

// verify runs the one-shot post-buy balance lookup. The flag flips in every
// path, including failures, so a flaky balance query cannot cause a lookup
// per tick.
func (t *PositionTracker) verify(ctx context.Context, pos *models.Position) RefreshOutcome {
	pos.Verified = true

	holding, found, err := t.lookup(ctx, pos.StockCode)
	if err != nil {
		t.logger.Warn("Position verification failed, keeping estimates", zap.Error(err))
		return RefreshVerified
	}
	if !found {
		t.logger.Warn("Buy not settled in the balance yet, keeping estimates",
			zap.String("stock_code", pos.StockCode))
		return RefreshVerified
	}

	if holding.AvgPrice > 0 {
		pos.EntryPrice = holding.AvgPrice
	}
	if holding.Quantity > 0 {
		pos.Quantity = holding.Quantity
	}
	t.persist(pos)
	t.logger.Info("Position verified against account balance",
		zap.String("stock_code", pos.StockCode),
		zap.Int64("entry_price", pos.EntryPrice),
		zap.Int64("quantity", pos.Quantity),
	)
	return RefreshVerified
}

func (t *PositionTracker) lookup(ctx context.Context, stockCode string) (kiwoom.Holding, bool, error) {
	holdings, err := t.gateway.Holdings(ctx)
	if err != nil {
		return kiwoom.Holding{}, false, err
	}
	for _, h := range holdings {
		if h.StockCode == stockCode {
			return h, true, nil
		}
	}
	return kiwoom.Holding{}, false, nil
}

func (t *PositionTracker) persist(pos *models.Position) {
	if t.gate == nil {
		return
	}
	t.gate.RecordTrade(pos.StockCode, pos.StockName, pos.EntryPrice, pos.Quantity, pos.EntryTime)
}
