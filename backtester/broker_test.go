package backtester

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// newFrictionlessBroker removes fees and slippage so the accounting math in
// the assertions stays exact.
func newFrictionlessBroker(cash float64, symbol string) *Broker {
	b := NewBroker(cash, symbol)
	b.Commission = CommissionInfo{}
	b.Slip = SlippageModel{}
	return b
}

func TestAffordabilityClamp(t *testing.T) {
	b := NewBroker(100, "TEST")
	b.Commission = CommissionInfo{CommissionRate: 0.1}
	b.Slip = SlippageModel{}

	filled := b.Buy("20240101", 10, 20)

	// largest N with 10*N*1.1 <= 100
	assert.Equal(t, 9, filled)
	assert.InDelta(t, 1.0, b.Cash, 1e-9)
	assert.Equal(t, 9.0, b.Position("TEST").Size)
	assert.GreaterOrEqual(t, b.Cash, 0.0)
}

func TestBuyChargesMinCommission(t *testing.T) {
	b := NewBroker(1000, "TEST")
	b.Slip = SlippageModel{}

	filled := b.Buy("20240101", 10, 1)

	assert.Equal(t, 1, filled)
	assert.InDelta(t, 1000-10-5.0, b.Cash, 1e-9)
	assert.InDelta(t, 5.0, b.TotalFees, 1e-9)
}

func TestOversellClampAndAvgPriceReset(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")
	b.Buy("20240101", 10, 50)
	assert.Equal(t, 10.0, b.Position("TEST").AvgPrice)

	filled := b.Sell("20240102", 12, 200)

	assert.Equal(t, 50, filled)
	assert.Equal(t, 0.0, b.Position("TEST").Size)
	assert.Equal(t, 0.0, b.Position("TEST").AvgPrice)
	assert.InDelta(t, 1000-500+600, b.Cash, 1e-9)
}

func TestSellWithoutPositionFillsNothing(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")
	assert.Equal(t, 0, b.Sell("20240101", 10, 5))
	assert.Empty(t, b.Trades)
}

func TestWeightedAverageCostBasis(t *testing.T) {
	b := newFrictionlessBroker(10000, "TEST")
	b.Buy("20240101", 10, 10)
	b.Buy("20240102", 20, 10)

	pos := b.Position("TEST")
	assert.Equal(t, 20.0, pos.Size)
	assert.InDelta(t, 15.0, pos.AvgPrice, 1e-9)
}

func TestBuyAllUsesWholeBalance(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")
	filled := b.BuyAll("20240101", 10)

	assert.Equal(t, 100, filled)
	assert.InDelta(t, 0.0, b.Cash, 1e-9)
}

func TestOrderTargetPercent(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")

	filled := b.OrderTargetPercent("20240101", 10, 0.5)
	assert.Equal(t, 50, filled)
	assert.InDelta(t, 500.0, b.Cash, 1e-9)
	assert.Equal(t, 50.0, b.Position("TEST").Size)

	// back down to zero closes the position
	filled = b.OrderTargetPercent("20240102", 10, 0)
	assert.Equal(t, 50, filled)
	assert.Equal(t, 0.0, b.Position("TEST").Size)
	assert.InDelta(t, 1000.0, b.Cash, 1e-9)
}

func TestOrderTargetPercentClampsTarget(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")
	filled := b.OrderTargetPercent("20240101", 10, 2.5)
	assert.Equal(t, 100, filled)

	filled = b.OrderTargetPercent("20240102", 10, -1)
	assert.Equal(t, 100, filled)
	assert.Equal(t, 0.0, b.Position("TEST").Size)
}

func TestOrderTargetSize(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")

	filled := b.OrderTargetSize("20240101", 10, 30)
	assert.Equal(t, 30, filled)
	assert.Equal(t, 30.0, b.Position("TEST").Size)
	assert.InDelta(t, 700.0, b.Cash, 1e-9)

	// shrinking the target sells the difference
	filled = b.OrderTargetSize("20240102", 10, 10)
	assert.Equal(t, 20, filled)
	assert.Equal(t, 10.0, b.Position("TEST").Size)
	assert.InDelta(t, 900.0, b.Cash, 1e-9)

	// already at target
	assert.Equal(t, 0, b.OrderTargetSize("20240103", 10, 10))
	assert.Len(t, b.Trades, 2)
}

func TestOrderTargetValue(t *testing.T) {
	b := newFrictionlessBroker(1000, "TEST")

	filled := b.OrderTargetValue("20240101", 10, 450)
	assert.Equal(t, 45, filled)
	assert.Equal(t, 45.0, b.Position("TEST").Size)
	assert.InDelta(t, 550.0, b.Cash, 1e-9)

	// a negative target clamps to zero and closes out
	filled = b.OrderTargetValue("20240102", 10, -100)
	assert.Equal(t, 45, filled)
	assert.Equal(t, 0.0, b.Position("TEST").Size)
	assert.InDelta(t, 1000.0, b.Cash, 1e-9)
}

func TestRebalanceSellsBeforeBuys(t *testing.T) {
	b := newFrictionlessBroker(0, "")
	pos := b.Position("A")
	pos.Size = 100
	pos.AvgPrice = 10
	b.UpdateMarks(map[string]float64{"A": 10})

	sells, buys := b.RebalanceTargetPercents("20240101",
		map[string]float64{"A": 5, "B": 5},
		map[string]float64{"A": 0.0, "B": 1.0})

	assert.Equal(t, 1, sells)
	assert.Equal(t, 1, buys)
	assert.Equal(t, 0.0, b.Position("A").Size)
	// equity was re-marked at A=5 before sizing, so B gets the 500 the A
	// sale freed, not the pre-sale cash of 0
	assert.Equal(t, 100.0, b.Position("B").Size)
	assert.Len(t, b.Trades, 2)
	assert.Equal(t, ActionSell, b.Trades[0].Action)
	assert.Equal(t, "A", b.Trades[0].Symbol)
	assert.Equal(t, ActionBuy, b.Trades[1].Action)
	assert.Equal(t, "B", b.Trades[1].Symbol)
}

func TestRebalanceSkipsSymbolsWithoutPrice(t *testing.T) {
	b := newFrictionlessBroker(1000, "")

	sells, buys := b.RebalanceTargetPercents("20240101",
		map[string]float64{"A": 10},
		map[string]float64{"A": 0.5, "B": 0.5})

	assert.Equal(t, 0, sells)
	assert.Equal(t, 1, buys)
	assert.Equal(t, 50.0, b.Position("A").Size)
	assert.Equal(t, 0.0, b.Position("B").Size)
}

func TestRebalanceDropsNonPositiveWeights(t *testing.T) {
	b := newFrictionlessBroker(0, "")
	b.Position("A").Size = 10
	b.Position("A").AvgPrice = 10

	sells, buys := b.RebalanceTargetPercents("20240101",
		map[string]float64{"A": 10},
		map[string]float64{"A": -0.5})

	assert.Equal(t, 1, sells)
	assert.Equal(t, 0, buys)
	assert.Equal(t, 0.0, b.Position("A").Size)
	assert.InDelta(t, 100.0, b.Cash, 1e-9)
}

func TestForceWriteOff(t *testing.T) {
	b := newFrictionlessBroker(777, "")
	pos := b.Position("X")
	pos.Size = 50
	pos.AvgPrice = 20

	b.ForceWriteOff("20240101", "X", "delisted")

	assert.Equal(t, 0.0, b.Position("X").Size)
	assert.Equal(t, 0.0, b.Position("X").AvgPrice)
	assert.Equal(t, 777.0, b.Cash)
	assert.Len(t, b.Trades, 1)
	tr := b.Trades[0]
	assert.Equal(t, ActionWriteOff, tr.Action)
	assert.Equal(t, 50.0, tr.Size)
	assert.Equal(t, 0.0, tr.Fees)
	mark, ok := b.LastPrice("X")
	assert.True(t, ok)
	assert.Equal(t, 0.0, mark)
}

func TestMarkingIsIdempotent(t *testing.T) {
	b := newFrictionlessBroker(1000, "")
	b.Position("A").Size = 10
	b.Position("A").AvgPrice = 5

	marks := map[string]float64{"A": 7}
	b.UpdateMarks(marks)
	first := b.TotalEquity()
	b.UpdateMarks(marks)

	assert.Equal(t, first, b.TotalEquity())
	assert.InDelta(t, 1070.0, first, 1e-9)
}

func TestTotalEquityFallsBackToCostBasis(t *testing.T) {
	b := newFrictionlessBroker(100, "")
	pos := b.Position("A")
	pos.Size = 10
	pos.AvgPrice = 5

	// no mark recorded for A
	assert.InDelta(t, 150.0, b.TotalEquity(), 1e-9)
}

func TestCashNeverNegative(t *testing.T) {
	b := NewBroker(50, "TEST")
	for i := 0; i < 10; i++ {
		b.Buy("20240101", 3, 7)
		assert.GreaterOrEqual(t, b.Cash, 0.0)
	}
	b.Sell("20240102", 3, 100)
	assert.GreaterOrEqual(t, b.Cash, 0.0)
}

func TestHeldSymbolsSortedAndLive(t *testing.T) {
	b := newFrictionlessBroker(10000, "")
	b.BuySym("20240101", "B", 10, 1)
	b.BuySym("20240101", "A", 10, 1)
	b.BuySym("20240101", "C", 10, 1)
	b.SellAllSym("20240102", "B", 10)

	assert.Equal(t, []string{"A", "C"}, b.HeldSymbols())
	assert.Equal(t, []string{"A", "B", "C"}, b.KnownSymbols())
}
