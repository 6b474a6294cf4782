package signal

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Signal is one stock pick extracted from an alert message.
type Signal struct {
	StockCode    string
	StockName    string
	TargetPrice  int64
	CurrentPrice int64
}

// ErrNotSignal marks messages that are not stock pick alerts at all.
var ErrNotSignal = errors.New("not a stock pick alert")

var (
	stockPattern   = regexp.MustCompile(`종목명\s*[:：]\s*([가-힣a-zA-Z0-9]+)\s*\((\d{6})\)`)
	targetPattern  = regexp.MustCompile(`적정\s*매수가?\s*[:：]\s*([\d,]+)원?`)
	currentPattern = regexp.MustCompile(`(?:포착\s*)?현재가\s*[:：]\s*([\d,]+)원?`)
)

// Parse extracts a Signal from an alert message. The message must carry the
// alert marker and name a stock; the target and snapshot prices are optional
// and left zero when the alert omits them.
func Parse(text string) (*Signal, error) {
	if !strings.Contains(text, "종목포착") {
		return nil, ErrNotSignal
	}

	m := stockPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, errors.New("alert names no stock")
	}

	sig := &Signal{StockName: m[1], StockCode: m[2]}
	if m := targetPattern.FindStringSubmatch(text); m != nil {
		sig.TargetPrice = parsePrice(m[1])
	}
	if m := currentPattern.FindStringSubmatch(text); m != nil {
		sig.CurrentPrice = parsePrice(m[1])
	}
	return sig, nil
}

func parsePrice(s string) int64 {
	n, _ := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return n
}
