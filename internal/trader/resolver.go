package trader

import (
	"context"
	"time"

	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/kiwoom"
)

// ResolveOutcome is the fate of a sell order after resolution.
type ResolveOutcome string

const (
	// ResolveFilled means the order left the book, taken as executed.
	ResolveFilled ResolveOutcome = "FILLED"
	// ResolveCancelled means the order timed out and was withdrawn; the
	// position is still open and may be sold again.
	ResolveCancelled ResolveOutcome = "CANCELLED"
	// ResolveRetained means the order is still working and must be assumed
	// live; no further sell may be placed.
	ResolveRetained ResolveOutcome = "RETAINED"
)

// OutstandingOrderResolver watches a sell order until it disappears from
// the outstanding-orders list or the timeout budget runs out.
type OutstandingOrderResolver struct {
	gateway         kiwoom.Gateway
	policy          PollPolicy
	cancelOnFailure bool
	logger          *zap.Logger
}

// NewOutstandingOrderResolver creates a resolver with the configured
// outstanding-order timeout and interval.
func NewOutstandingOrderResolver(tc TradingContext) *OutstandingOrderResolver {
	return &OutstandingOrderResolver{
		gateway: tc.Gateway,
		policy: PollPolicy{
			Timeout:  time.Duration(tc.Cfg.Trading.OutstandingCheckTimeout) * time.Second,
			Interval: time.Duration(tc.Cfg.Trading.OutstandingCheckInterval) * time.Second,
		},
		cancelOnFailure: tc.Cfg.Trading.CancelOutstandingOnFailure,
		logger:          tc.Logger,
	}
}

// Resolve reports how the sell order ended. Absence from the outstanding
// list is the execution signal; query errors keep the poll alive. Quantity
// 0 withdraws the full remainder on timeout.
func (r *OutstandingOrderResolver) Resolve(ctx context.Context, orderID, stockCode string, qty int64) ResolveOutcome {
	l := r.logger.With(zap.String("order_id", orderID), zap.String("stock_code", stockCode))

	done, err := pollUntil(ctx, r.policy, func(ctx context.Context) (bool, error) {
		orders, err := r.gateway.OutstandingOrders(ctx)
		if err != nil {
			l.Warn("Outstanding order check failed", zap.Error(err))
			return false, err
		}
		for _, o := range orders {
			if o.OrderID == orderID {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		l.Warn("Order resolution ended with errors", zap.Error(err))
	}
	if done {
		l.Info("Sell order executed")
		return ResolveFilled
	}

	if !r.cancelOnFailure {
		l.Warn("Sell order still outstanding, leaving it working")
		return ResolveRetained
	}
	if err := r.gateway.CancelOrder(ctx, orderID, stockCode, qty); err != nil {
		l.Error("Failed to cancel outstanding sell order", zap.Error(err))
		return ResolveRetained
	}
	l.Info("Outstanding sell order cancelled")
	return ResolveCancelled
}
