package trader

// OrderQuantity returns how many shares the capital buys at the reference
// price, rounded down. The reference price must be the price the order will
// actually carry (the limit price for limit orders), so that
// quantity * price never exceeds the capital.
func OrderQuantity(referencePrice, capital int64) int64 {
	if referencePrice <= 0 {
		return 0
	}
	return capital / referencePrice
}

// TickSize returns the KRX price tick for the given price band.
func TickSize(price int64) int64 {
	switch {
	case price < 1000:
		return 1
	case price < 5000:
		return 5
	case price < 10000:
		return 10
	case price < 50000:
		return 50
	case price < 100000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}

// SellPriceBelow returns the take-profit limit price, one tick under the
// current price to bias toward a fast fill.
func SellPriceBelow(price int64) int64 {
	return price - TickSize(price)
}

// LimitBuyPrice returns the limit-plus-one-tick buy price.
func LimitBuyPrice(price int64) int64 {
	return price + TickSize(price)
}
