package trader

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestOrderQuantity(t *testing.T) {
	testCases := []struct {
		name     string
		price    int64
		capital  int64
		expected int64
	}{
		{
			name:     "Even division",
			price:    10000,
			capital:  1000000,
			expected: 100,
		},
		{
			name:     "Rounds down",
			price:    10151,
			capital:  1000000,
			expected: 98,
		},
		{
			name:     "Capital below price",
			price:    2000000,
			capital:  1000000,
			expected: 0,
		},
		{
			name:     "Zero price",
			price:    0,
			capital:  1000000,
			expected: 0,
		},
		{
			name:     "Negative price",
			price:    -100,
			capital:  1000000,
			expected: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qty := OrderQuantity(tc.price, tc.capital)

			assert.Equal(t, tc.expected, qty)
			// The order value must never exceed the capital.
			assert.LessOrEqual(t, qty*tc.price, tc.capital)
		})
	}
}

func TestTickSize(t *testing.T) {
	testCases := []struct {
		price    int64
		expected int64
	}{
		{999, 1},
		{1000, 5},
		{4999, 5},
		{5000, 10},
		{9999, 10},
		{10000, 50},
		{49999, 50},
		{50000, 100},
		{99999, 100},
		{100000, 500},
		{499999, 500},
		{500000, 1000},
		{1234000, 1000},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, TickSize(tc.price), "price %d", tc.price)
	}
}

func TestSellPriceBelow(t *testing.T) {
	// The take-profit limit sits one tick under the observed price.
	assert.Equal(t, int64(10051), SellPriceBelow(10101))
	assert.Equal(t, int64(9950), SellPriceBelow(10000))
	assert.Equal(t, int64(99500), SellPriceBelow(100000))
	assert.Equal(t, int64(998), SellPriceBelow(999))
}

func TestLimitBuyPrice(t *testing.T) {
	assert.Equal(t, int64(10050), LimitBuyPrice(10000))
	assert.Equal(t, int64(5004), LimitBuyPrice(4999))
	assert.Equal(t, int64(501000), LimitBuyPrice(500000))
}
