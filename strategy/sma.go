package strategy

import (
	"github.com/markcheno/go-talib"

	"github.com/oarkflow/qs/backtester"
)

// SMACross is a single-symbol moving-average crossover: full in when the
// short SMA crosses above the long SMA, flat when it crosses below. Signals
// come from completed bars; execution uses the current bar's open.
type SMACross struct {
	ShortPeriod int
	LongPeriod  int

	closes []float64
}

// NewSMACross returns the crossover strategy with the given SMA periods
// (defaults 10/30 when non-positive).
func NewSMACross(shortPeriod, longPeriod int) *SMACross {
	if shortPeriod <= 0 {
		shortPeriod = 10
	}
	if longPeriod <= 0 {
		longPeriod = 30
	}
	return &SMACross{ShortPeriod: shortPeriod, LongPeriod: longPeriod}
}

// OnBar trades the default symbol on SMA crossovers.
func (s *SMACross) OnBar(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) {
	defer func() { s.closes = append(s.closes, bar.Close) }()

	if len(s.closes) < s.LongPeriod+1 {
		return
	}
	short := talib.Sma(s.closes, s.ShortPeriod)
	long := talib.Sma(s.closes, s.LongPeriod)
	last := len(s.closes) - 1
	crossUp := short[last] > long[last] && short[last-1] <= long[last-1]
	crossDown := short[last] < long[last] && short[last-1] >= long[last-1]

	pos := broker.DefaultPosition()
	if crossUp && pos.Size == 0 {
		broker.BuyAll(bar.TradeDate, bar.Open)
	} else if crossDown && pos.Size > 0 {
		broker.SellAll(bar.TradeDate, bar.Open)
	}
}
