package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oarkflow/qs/backtester"
)

func barsFromCloses(closes []float64) []backtester.Bar {
	bars := make([]backtester.Bar, len(closes))
	for i, c := range closes {
		bars[i] = backtester.Bar{TradeDate: tradeDateFor(i), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

func tradeDateFor(i int) string {
	return "202401" + string(rune('0'+(i+10)/10)) + string(rune('0'+(i+10)%10))
}

func TestSMACrossDefaults(t *testing.T) {
	s := NewSMACross(0, 0)
	assert.Equal(t, 10, s.ShortPeriod)
	assert.Equal(t, 30, s.LongPeriod)
}

func TestSMACrossBuysAndSells(t *testing.T) {
	// flat warmup, an uptrend that crosses the short SMA above the long,
	// then a drop that crosses it back below
	closes := []float64{10, 10, 10, 10, 11, 12, 13, 12, 10, 8}
	bars := barsFromCloses(closes)

	broker := backtester.NewBroker(1000, "TEST")
	broker.Commission = backtester.CommissionInfo{}
	broker.Slip = backtester.SlippageModel{}
	engine := backtester.NewEngine(backtester.NewFeed(bars), broker, NewSMACross(2, 3))

	curve, err := engine.Run()

	assert.NoError(t, err)
	assert.Len(t, curve, len(bars))
	assert.Len(t, broker.Trades, 2)
	assert.Equal(t, backtester.ActionBuy, broker.Trades[0].Action)
	assert.Equal(t, bars[5].TradeDate, broker.Trades[0].TradeDate)
	assert.Equal(t, backtester.ActionSell, broker.Trades[1].Action)
	assert.Equal(t, bars[9].TradeDate, broker.Trades[1].TradeDate)
	assert.Equal(t, 0.0, broker.Position("TEST").Size)
}

func TestSMACrossNoTradesDuringWarmup(t *testing.T) {
	bars := barsFromCloses([]float64{10, 11, 12})
	broker := backtester.NewBroker(1000, "TEST")
	engine := backtester.NewEngine(backtester.NewFeed(bars), broker, NewSMACross(2, 5))

	_, err := engine.Run()

	assert.NoError(t, err)
	assert.Empty(t, broker.Trades)
}
