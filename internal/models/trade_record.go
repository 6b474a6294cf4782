package models

import "gorm.io/gorm"

// Lifecycle event types recorded per completed trade action.
const (
	EventBuy           = "BUY"
	EventSell          = "SELL"
	EventStopLoss      = "STOP_LOSS"
	EventForceSell     = "DAILY_FORCE_SELL"
	EventExternalClose = "EXTERNAL_CLOSE"
)

// TradeRecord is a completed lifecycle event persisted to the trade history
// database and mirrored as a JSON audit file.
type TradeRecord struct {
	gorm.Model
	EventID    string  `json:"event_id" gorm:"uniqueIndex"`
	EventType  string  `json:"event_type"`
	StockCode  string  `json:"stock_code"`
	StockName  string  `json:"stock_name"`
	Price      int64   `json:"price"`
	Quantity   int64   `json:"quantity"`
	ProfitRate float64 `json:"profit_rate"`
	OrderID    string  `json:"order_id,omitempty"`
}
