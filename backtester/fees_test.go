package backtester

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuyFeesMinCommissionFloor(t *testing.T) {
	c := CommissionInfo{CommissionRate: 0.00015, TaxRate: 0.0005, MinCommission: 5.0}
	assert.Equal(t, 5.0, c.BuyFees(10.0))
	assert.InDelta(t, 15.0, c.BuyFees(100000.0), 1e-9)
}

func TestSellFeesComposition(t *testing.T) {
	c := CommissionInfo{CommissionRate: 0.00015, TaxRate: 0.0005, MinCommission: 5.0}
	// commission floored at 5.0 plus 10000*0.0005 tax
	assert.InDelta(t, 10.0, c.SellFees(10000.0), 1e-9)
}

func TestSlippageAdjustPrice(t *testing.T) {
	s := SlippageModel{Slippage: 0.0002}
	assert.InDelta(t, 100.02, s.AdjustPrice(100.0, BUY), 1e-9)
	assert.InDelta(t, 99.98, s.AdjustPrice(100.0, SELL), 1e-9)

	zero := SlippageModel{}
	assert.Equal(t, 100.0, zero.AdjustPrice(100.0, BUY))
	assert.Equal(t, 100.0, zero.AdjustPrice(100.0, SELL))
}
