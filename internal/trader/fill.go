package trader

import (
	"context"
	"time"

	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/kiwoom"
)

// FillStatus classifies how much of a buy order executed.
type FillStatus string

const (
	FillStatusFull    FillStatus = "FULLY_FILLED"
	FillStatusPartial FillStatus = "PARTIALLY_FILLED"
	FillStatusNone    FillStatus = "UNFILLED"
)

// FillResult is the settled view of one buy order after reconciliation.
type FillResult struct {
	Status            FillStatus
	FilledQuantity    int64
	RemainingQuantity int64
	// AvgFillPrice is the balance-reported average, 0 when unavailable.
	AvgFillPrice int64
	// RemainderCancelled is false when an unfilled remainder could not be
	// withdrawn and may still execute later.
	RemainderCancelled bool
}

// FillReconciler watches a limit buy until it fills, partially fills, or
// times out. The account balance is the quantity of record: the order book
// says whether the order is still working, the balance says what we own.
type FillReconciler struct {
	gateway kiwoom.Gateway
	policy  PollPolicy
	logger  *zap.Logger
}

// NewFillReconciler creates a reconciler with the configured buy execution
// timeout and check interval.
func NewFillReconciler(tc TradingContext) *FillReconciler {
	return &FillReconciler{
		gateway: tc.Gateway,
		policy: PollPolicy{
			Timeout:  time.Duration(tc.Cfg.Trading.BuyExecutionTimeout) * time.Second,
			Interval: time.Duration(tc.Cfg.Trading.BuyCheckInterval) * time.Second,
		},
		logger: tc.Logger,
	}
}

// Reconcile polls until the order's fate is known. A partial fill is
// accepted as the position: the remainder is cancelled immediately and the
// post-cancel balance is taken as final. On timeout with nothing held the
// order is withdrawn and reported UNFILLED.
func (r *FillReconciler) Reconcile(ctx context.Context, orderID, stockCode string, expected int64) *FillResult {
	var result *FillResult

	done, err := pollUntil(ctx, r.policy, func(ctx context.Context) (bool, error) {
		remaining, err := r.remainingFor(ctx, orderID)
		if err != nil {
			r.logger.Warn("Outstanding order check failed", zap.Error(err))
			return false, err
		}
		held, avg, err := r.heldFor(ctx, stockCode)
		if err != nil {
			r.logger.Warn("Balance check failed", zap.Error(err))
			return false, err
		}

		switch {
		case remaining == 0 && held >= expected:
			result = &FillResult{
				Status:             FillStatusFull,
				FilledQuantity:     held,
				AvgFillPrice:       avg,
				RemainderCancelled: true,
			}
			return true, nil

		case remaining > 0 && held > 0:
			cancelled := r.cancelRemainder(ctx, orderID, stockCode)
			// The cancel races the fills; whatever the balance reports
			// afterwards is the quantity of record.
			if q, a, err := r.heldFor(ctx, stockCode); err == nil && q > 0 {
				held, avg = q, a
			}
			result = &FillResult{
				Status:             FillStatusPartial,
				FilledQuantity:     held,
				RemainingQuantity:  remaining,
				AvgFillPrice:       avg,
				RemainderCancelled: cancelled,
			}
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		r.logger.Warn("Fill reconciliation ended with errors", zap.String("order_id", orderID), zap.Error(err))
	}
	if done {
		return result
	}

	// Timeout. Settle on what the balance shows before withdrawing.
	if held, avg, err := r.heldFor(ctx, stockCode); err == nil && held > 0 {
		cancelled := r.cancelRemainder(ctx, orderID, stockCode)
		return &FillResult{
			Status:             FillStatusPartial,
			FilledQuantity:     held,
			AvgFillPrice:       avg,
			RemainderCancelled: cancelled,
		}
	}

	cancelled := r.cancelRemainder(ctx, orderID, stockCode)
	return &FillResult{
		Status:             FillStatusNone,
		RemainingQuantity:  expected,
		RemainderCancelled: cancelled,
	}
}

func (r *FillReconciler) remainingFor(ctx context.Context, orderID string) (int64, error) {
	orders, err := r.gateway.OutstandingOrders(ctx)
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		if o.OrderID == orderID {
			return o.RemainingQuantity, nil
		}
	}
	return 0, nil
}

func (r *FillReconciler) heldFor(ctx context.Context, stockCode string) (int64, int64, error) {
	holdings, err := r.gateway.Holdings(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, h := range holdings {
		if h.StockCode == stockCode {
			return h.Quantity, h.AvgPrice, nil
		}
	}
	return 0, 0, nil
}

func (r *FillReconciler) cancelRemainder(ctx context.Context, orderID, stockCode string) bool {
	if err := r.gateway.CancelOrder(ctx, orderID, stockCode, 0); err != nil {
		r.logger.Warn("Failed to cancel buy remainder",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return false
	}
	r.logger.Info("Buy remainder cancelled", zap.String("order_id", orderID))
	return true
}
