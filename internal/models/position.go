package models

import "time"

// Position is the single open trade the system manages. EntryPrice and
// Quantity start as estimates for market buys and are corrected by the
// first balance lookup; Verified never reverts to false once set.
type Position struct {
	StockCode        string    `json:"stock_code"`
	StockName        string    `json:"stock_name"`
	EntryPrice       int64     `json:"entry_price"`
	Quantity         int64     `json:"quantity"`
	EntryTime        time.Time `json:"entry_time,omitempty"`
	TargetProfitRate float64   `json:"target_profit_rate"`
	Verified         bool      `json:"is_verified"`

	// PendingBuyOrderID holds the order id of a partially filled buy whose
	// remainder could not be cancelled. It is cancelled again before any sell.
	PendingBuyOrderID string `json:"pending_buy_order_id,omitempty"`
}

// Open reports whether the position holds any quantity.
func (p *Position) Open() bool {
	return p != nil && p.Quantity > 0
}

// ProfitRate returns the fractional gain of price over the entry price.
func (p *Position) ProfitRate(price int64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return float64(price-p.EntryPrice) / float64(p.EntryPrice)
}

// ExitFlags are the one-shot re-entrancy guards for a position lifecycle.
// SellOrderPlaced is set synchronously before the sell call goes out and is
// rolled back only on a definite placement failure, never on ambiguous
// outcomes.
type ExitFlags struct {
	BuyOrderPlaced  bool `json:"buy_order_placed"`
	SellOrderPlaced bool `json:"sell_order_placed"`
}

// TickSource identifies which data path produced a price tick.
type TickSource string

const (
	TickSourceStream TickSource = "stream"
	TickSourcePoll   TickSource = "poll"
)

// PriceTick is an ephemeral price observation; it is never persisted.
type PriceTick struct {
	StockCode  string
	Price      int64
	Source     TickSource
	ReceivedAt time.Time
}
