package kiwoom

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderResult is the accepted-order acknowledgement. Quantity echoes the
// quantity actually submitted, which can be lower than requested when a buy
// was resized to the available margin.
type OrderResult struct {
	OrderID  string
	Exchange string
	Quantity int64
}

// Holding is one row of the account balance.
type Holding struct {
	StockCode    string
	StockName    string
	Quantity     int64
	AvgPrice     int64
	CurrentPrice int64
}

// OutstandingOrder is a submitted order not yet fully filled or cancelled.
type OutstandingOrder struct {
	OrderID           string
	StockCode         string
	StockName         string
	OrderQuantity     int64
	RemainingQuantity int64
	OrderPrice        int64
}

// APIError is a business rejection reported by the trading API with a
// 2xx transport status. Code 20 carries an orderable-quantity hint in
// the message when a buy exceeds the available margin.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kiwoom api error %d: %s", e.Code, e.Message)
}

const insufficientFundsCode = 20

// Wire-level request/response shapes. Field names follow the TR specs and
// must not leak past this package.

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	ExpiresDt  string `json:"expires_dt"`
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

type orderRequest struct {
	Exchange   string `json:"dmst_stex_tp"`
	StockCode  string `json:"stk_cd"`
	Quantity   string `json:"ord_qty"`
	Price      string `json:"ord_uv"` // empty for market orders
	TradeType  string `json:"trde_tp"`
	CondUnitPx string `json:"cond_uv"`
}

type orderResponse struct {
	OrderNo    string `json:"ord_no"`
	Exchange   string `json:"dmst_stex_tp"`
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

type cancelRequest struct {
	Exchange    string `json:"dmst_stex_tp"`
	OrigOrderNo string `json:"orig_ord_no"`
	StockCode   string `json:"stk_cd"`
	Quantity    string `json:"cncl_qty"` // "0" cancels the full remainder
}

type priceRequest struct {
	StockCode string `json:"stk_cd"`
}

type priceResponse struct {
	CurrentPrice string `json:"cur_prc"`
	ReturnCode   int    `json:"return_code"`
	ReturnMsg    string `json:"return_msg"`
}

type accountRequest struct {
	QueryDate string `json:"qry_dt"`
}

type balanceResponse struct {
	Rows       []balanceRow `json:"day_bal_rt"`
	ReturnCode int          `json:"return_code"`
	ReturnMsg  string       `json:"return_msg"`
}

type balanceRow struct {
	StockCode    string `json:"stk_cd"`
	StockName    string `json:"stk_nm"`
	Quantity     string `json:"rmnd_qty"`
	BuyPrice     string `json:"buy_uv"`
	CurrentPrice string `json:"cur_prc"`
}

type outstandingResponse struct {
	Orders     []outstandingRow `json:"outstanding_orders"`
	AltOrders  []outstandingRow `json:"orders"`
	ReturnCode int              `json:"return_code"`
	ReturnMsg  string           `json:"return_msg"`
}

func (r *outstandingResponse) rows() []outstandingRow {
	if len(r.Orders) > 0 {
		return r.Orders
	}
	return r.AltOrders
}

type outstandingRow struct {
	OrderNo   string `json:"ord_no"`
	StockCode string `json:"stk_cd"`
	StockName string `json:"stk_nm"`
	OrderQty  string `json:"ord_qty"`
	// The remainder field name differs between TR revisions.
	RemainderQty string `json:"rmndr_qty"`
	RemainQty    string `json:"rmnd_qty"`
	OrderPrice   string `json:"ord_uv"`
}

func (r *outstandingRow) remaining() int64 {
	for _, s := range []string{r.RemainderQty, r.RemainQty, r.OrderQty} {
		if s != "" {
			return parseWireInt(s)
		}
	}
	return 0
}

// parseWireInt converts a numeric wire string to int64, tolerating the
// +/- direction prefix, thousands separators, and stray spaces the API
// emits. Unparseable input yields 0.
func parseWireInt(s string) int64 {
	s = strings.NewReplacer("+", "", "-", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
