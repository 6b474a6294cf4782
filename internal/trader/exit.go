package trader

import (
	"time"

	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/kiwoom"
	"kiwoom-trade-bot-go/internal/models"
)

// ExitReason names why a position is being closed.
type ExitReason string

const (
	ExitReasonTakeProfit ExitReason = "TAKE_PROFIT"
	ExitReasonStopLoss   ExitReason = "STOP_LOSS"
	ExitReasonForceSell  ExitReason = "DAILY_FORCE_SELL"
)

// Decision is one exit order to place. Price is the limit price and stays
// zero for market orders.
type Decision struct {
	Reason     ExitReason
	OrderType  kiwoom.OrderType
	Price      int64
	ProfitRate float64
}

// ExitDecisionEngine evaluates the exit conditions for one price tick. It
// is pure: no broker calls, no mutation, strict priority of forced
// liquidation over stop-loss over take-profit.
type ExitDecisionEngine struct {
	cfg    *config.Trading
	logger *zap.Logger
}

// NewExitDecisionEngine creates the per-tick exit evaluator.
func NewExitDecisionEngine(tc TradingContext) *ExitDecisionEngine {
	return &ExitDecisionEngine{cfg: &tc.Cfg.Trading, logger: tc.Logger}
}

// Evaluate returns the exit to perform for this tick, or nil. A sell
// already in flight suppresses every branch.
func (e *ExitDecisionEngine) Evaluate(pos *models.Position, flags *models.ExitFlags, price int64, now time.Time) *Decision {
	if pos == nil || !pos.Open() || flags.SellOrderPlaced || price <= 0 {
		return nil
	}
	profitRate := pos.ProfitRate(price)

	if e.cfg.EnableDailyForceSell && clockReached(now, e.cfg.DailyForceSellTime) {
		return &Decision{
			Reason:     ExitReasonForceSell,
			OrderType:  kiwoom.OrderTypeMarket,
			ProfitRate: profitRate,
		}
	}

	if e.cfg.EnableStopLoss && profitRate <= e.cfg.StopLossRate {
		delay := time.Duration(e.cfg.StopLossDelayMinutes) * time.Minute
		if !pos.EntryTime.IsZero() && delay > 0 && now.Sub(pos.EntryTime) < delay {
			e.logger.Debug("Stop loss suppressed during delay window",
				zap.Duration("elapsed", now.Sub(pos.EntryTime)),
				zap.Duration("delay", delay),
				zap.Float64("profit_rate", profitRate),
			)
		} else {
			return &Decision{
				Reason:     ExitReasonStopLoss,
				OrderType:  kiwoom.OrderTypeMarket,
				ProfitRate: profitRate,
			}
		}
	}

	if profitRate >= pos.TargetProfitRate {
		return &Decision{
			Reason:     ExitReasonTakeProfit,
			OrderType:  kiwoom.OrderTypeLimit,
			Price:      SellPriceBelow(price),
			ProfitRate: profitRate,
		}
	}

	return nil
}
