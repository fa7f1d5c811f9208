package backtester

// OrderSide is a simple enumeration representing the side of an order (buy or sell).
type OrderSide int

// BUY and SELL enumerations
const (
	BUY OrderSide = iota
	SELL
)

// Default fee and slippage rates, modeled on A-share retail terms.
const (
	DefaultCommissionRate = 0.00015 // 0.015%
	DefaultTaxRate        = 0.0005  // 0.05%, sell side only
	DefaultMinCommission  = 5.0
	DefaultSlippage       = 0.0002 // 0.02%
)

// CommissionInfo computes commission and tax charges for a trade.
// Only commission has a minimum floor; tax is strictly proportional.
type CommissionInfo struct {
	CommissionRate float64
	TaxRate        float64
	MinCommission  float64
}

// BuyFees returns the commission for a buy of the given gross amount.
func (c CommissionInfo) BuyFees(grossAmount float64) float64 {
	commission := grossAmount * c.CommissionRate
	if commission < c.MinCommission {
		return c.MinCommission
	}
	return commission
}

// SellFees returns commission plus stamp tax for a sell of the given gross amount.
func (c CommissionInfo) SellFees(grossAmount float64) float64 {
	return c.BuyFees(grossAmount) + grossAmount*c.TaxRate
}

// SlippageModel worsens an execution price against the trader by a fractional rate.
type SlippageModel struct {
	Slippage float64
}

// AdjustPrice returns the slippage-adjusted execution price for the given side.
func (s SlippageModel) AdjustPrice(price float64, side OrderSide) float64 {
	if side == BUY {
		return price * (1 + s.Slippage)
	}
	return price * (1 - s.Slippage)
}
