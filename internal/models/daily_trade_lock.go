package models

import "time"

// TradingTimeLayout is the timestamp format stored in the daily lock file.
const TradingTimeLayout = "2006-01-02 15:04:05"

// TradingDateLayout is the calendar-day key format of the daily lock file.
const TradingDateLayout = "20060102"

// DailyTradeLock is the persisted one-buy-per-day record. TradingTime is
// empty for manually restored positions, which disables the stop-loss delay.
type DailyTradeLock struct {
	LastTradingDate string `json:"last_trading_date"`
	TradingTime     string `json:"trading_time,omitempty"`
	StockCode       string `json:"stock_code"`
	StockName       string `json:"stock_name"`
	BuyPrice        int64  `json:"buy_price"`
	Quantity        int64  `json:"quantity"`
}

// TradedOn reports whether the lock was written on the given calendar day.
func (l *DailyTradeLock) TradedOn(day time.Time) bool {
	return l != nil && l.LastTradingDate == day.Format(TradingDateLayout)
}

// EntryTime parses the recorded trading time, returning the zero time when
// the field is absent or malformed.
func (l *DailyTradeLock) EntryTime() time.Time {
	if l == nil || l.TradingTime == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TradingTimeLayout, l.TradingTime, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}
