package backtester

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// Trade actions recorded in the broker's audit trail.
const (
	ActionBuy      = "BUY"
	ActionSell     = "SELL"
	ActionWriteOff = "WRITE_OFF"
)

// Position is a per-instrument holding. Size never goes negative; when it
// reaches zero the average price is reset to zero as well.
type Position struct {
	Size     float64
	AvgPrice float64
}

// MarketValue returns the book value (size times average cost), not a live mark.
func (p Position) MarketValue() float64 {
	return p.Size * p.AvgPrice
}

// TradeRecord is an immutable audit entry for one executed action,
// including post-trade cash/position/equity snapshots.
type TradeRecord struct {
	TradeDate     string
	Action        string
	Symbol        string
	Price         float64 // raw signal price (usually the bar open)
	ExecPrice     float64 // slippage-adjusted execution price
	Size          float64
	GrossAmount   float64
	Fees          float64
	CashAfter     float64
	PositionAfter float64
	EquityAfter   float64
}

// Broker is a multi-symbol portfolio ledger: it owns the cash balance, one
// position per instrument, the latest mark prices used for valuation, and the
// append-only trade log. Cash never goes negative; buys are clamped to
// affordability and sells to the held size.
type Broker struct {
	Cash           float64
	Symbol         string // default symbol for the single-instrument API; may be empty
	Commission     CommissionInfo
	Slip           SlippageModel
	EnableTradeLog bool
	Trades         []TradeRecord
	TotalFees      float64

	positions  map[string]*Position
	lastPrices map[string]float64
}

// NewBroker returns a broker with the given starting cash and optional default
// symbol, using the default commission/tax/slippage rates.
func NewBroker(cash float64, symbol string) *Broker {
	b := &Broker{
		Cash:   cash,
		Symbol: symbol,
		Commission: CommissionInfo{
			CommissionRate: DefaultCommissionRate,
			TaxRate:        DefaultTaxRate,
			MinCommission:  DefaultMinCommission,
		},
		Slip:       SlippageModel{Slippage: DefaultSlippage},
		positions:  map[string]*Position{},
		lastPrices: map[string]float64{},
	}
	if symbol != "" {
		b.positions[symbol] = &Position{}
	}
	return b
}

// SetDefaultSymbol changes the default symbol used by the single-symbol API.
func (b *Broker) SetDefaultSymbol(symbol string) {
	b.Symbol = symbol
	b.Position(symbol)
}

// Position returns the position for symbol, creating an empty record on first
// reference. Zero-size positions persist.
func (b *Broker) Position(symbol string) *Position {
	pos, ok := b.positions[symbol]
	if !ok {
		pos = &Position{}
		b.positions[symbol] = pos
	}
	return pos
}

// DefaultPosition returns the position of the default symbol, or an empty
// position when no default symbol is configured.
func (b *Broker) DefaultPosition() Position {
	if b.Symbol == "" {
		return Position{}
	}
	return *b.Position(b.Symbol)
}

// HeldSymbols returns the sorted list of symbols with a non-zero position.
func (b *Broker) HeldSymbols() []string {
	symbols := make([]string, 0, len(b.positions))
	for sym, pos := range b.positions {
		if pos.Size > 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// KnownSymbols returns the sorted list of every symbol ever referenced,
// including closed-out positions.
func (b *Broker) KnownSymbols() []string {
	symbols := make([]string, 0, len(b.positions))
	for sym := range b.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// UpdateMarks merges the given symbol->price map into the valuation marks.
func (b *Broker) UpdateMarks(priceMap map[string]float64) {
	for sym, price := range priceMap {
		b.lastPrices[sym] = price
	}
}

// LastPrice returns the latest mark for symbol, if any.
func (b *Broker) LastPrice(symbol string) (float64, bool) {
	price, ok := b.lastPrices[symbol]
	return price, ok
}

// TotalEquity returns cash plus the marked value of every position. Positions
// without a mark fall back to their average cost basis.
func (b *Broker) TotalEquity() float64 {
	equity := b.Cash
	for sym, pos := range b.positions {
		if pos.Size == 0 {
			continue
		}
		price, ok := b.lastPrices[sym]
		if !ok {
			price = pos.AvgPrice
		}
		equity += pos.Size * price
	}
	return equity
}

func (b *Broker) logTrade(record TradeRecord) {
	b.Trades = append(b.Trades, record)
	b.TotalFees += record.Fees
	if b.EnableTradeLog {
		logrus.Infof("TRADE %s %s %s px=%.2f exec=%.4f size=%.0f gross=%.2f fees=%.2f cash=%.2f pos=%.0f eq=%.2f",
			record.TradeDate, record.Action, record.Symbol, record.Price, record.ExecPrice,
			record.Size, record.GrossAmount, record.Fees, record.CashAfter, record.PositionAfter, record.EquityAfter)
	}
}

// maxAffordableSize returns the largest size not exceeding the requested one
// whose total cost (gross plus fees) fits in the available cash. The first
// guess solves the proportional-fee case in closed form; the short loops
// absorb the minimum-commission floor and float rounding.
func (b *Broker) maxAffordableSize(execPrice float64, requested int) int {
	affordable := func(size int) bool {
		gross := execPrice * float64(size)
		return gross+b.Commission.BuyFees(gross) <= b.Cash
	}
	if affordable(requested) {
		return requested
	}
	size := int(b.Cash / (execPrice * (1 + b.Commission.CommissionRate)))
	if size > requested {
		size = requested
	}
	for size < requested && affordable(size+1) {
		size++
	}
	for size > 0 && !affordable(size) {
		size--
	}
	return size
}

// executeBuy fills a buy at the slippage-adjusted price, clamping the size so
// cash never goes negative. Returns the actually filled size.
func (b *Broker) executeBuy(tradeDate, symbol string, price float64, size int) int {
	if size <= 0 || price <= 0 {
		return 0
	}
	execPrice := b.Slip.AdjustPrice(price, BUY)
	size = b.maxAffordableSize(execPrice, size)
	if size <= 0 {
		return 0
	}
	grossCost := execPrice * float64(size)
	fees := b.Commission.BuyFees(grossCost)
	b.Cash -= grossCost + fees

	pos := b.Position(symbol)
	newValue := pos.AvgPrice*pos.Size + grossCost
	pos.Size += float64(size)
	pos.AvgPrice = newValue / pos.Size

	b.lastPrices[symbol] = execPrice
	b.logTrade(TradeRecord{
		TradeDate:     tradeDate,
		Action:        ActionBuy,
		Symbol:        symbol,
		Price:         price,
		ExecPrice:     execPrice,
		Size:          float64(size),
		GrossAmount:   grossCost,
		Fees:          fees,
		CashAfter:     b.Cash,
		PositionAfter: pos.Size,
		EquityAfter:   b.TotalEquity(),
	})
	return size
}

// executeSell fills a sell at the slippage-adjusted price, clamping the size
// to the held position (no shorting). Returns the actually filled size.
func (b *Broker) executeSell(tradeDate, symbol string, price float64, size int) int {
	if size <= 0 || price <= 0 {
		return 0
	}
	pos := b.Position(symbol)
	if pos.Size <= 0 {
		return 0
	}
	if float64(size) > pos.Size {
		size = int(pos.Size)
	}
	execPrice := b.Slip.AdjustPrice(price, SELL)
	grossProceeds := execPrice * float64(size)
	fees := b.Commission.SellFees(grossProceeds)
	b.Cash += grossProceeds - fees

	pos.Size -= float64(size)
	if pos.Size == 0 {
		pos.AvgPrice = 0
	}

	b.lastPrices[symbol] = execPrice
	b.logTrade(TradeRecord{
		TradeDate:     tradeDate,
		Action:        ActionSell,
		Symbol:        symbol,
		Price:         price,
		ExecPrice:     execPrice,
		Size:          float64(size),
		GrossAmount:   grossProceeds,
		Fees:          fees,
		CashAfter:     b.Cash,
		PositionAfter: pos.Size,
		EquityAfter:   b.TotalEquity(),
	})
	return size
}

// BuySym buys size shares of symbol at the given signal price.
func (b *Broker) BuySym(tradeDate, symbol string, price float64, size int) int {
	return b.executeBuy(tradeDate, symbol, price, size)
}

// BuyAllSym buys as many shares of symbol as the cash balance allows.
func (b *Broker) BuyAllSym(tradeDate, symbol string, price float64) int {
	execPrice := b.Slip.AdjustPrice(price, BUY)
	if execPrice <= 0 {
		return 0
	}
	size := int(b.Cash / (execPrice * (1 + b.Commission.CommissionRate)))
	return b.executeBuy(tradeDate, symbol, price, size)
}

// SellSym sells size shares of symbol at the given signal price.
func (b *Broker) SellSym(tradeDate, symbol string, price float64, size int) int {
	return b.executeSell(tradeDate, symbol, price, size)
}

// SellAllSym closes the whole position in symbol.
func (b *Broker) SellAllSym(tradeDate, symbol string, price float64) int {
	return b.executeSell(tradeDate, symbol, price, int(b.Position(symbol).Size))
}

// OrderTargetPercentSym sizes the position in symbol to the given fraction of
// total equity. The target is clamped into [0,1]; the symbol is marked at the
// reference price first so the equity basis matches the execution price.
func (b *Broker) OrderTargetPercentSym(tradeDate, symbol string, price, target float64) int {
	if target < 0 {
		target = 0
	}
	if target > 1 {
		target = 1
	}
	if price > 0 {
		b.lastPrices[symbol] = price
	}
	equity := b.TotalEquity()
	side := SELL
	if target > 0 {
		side = BUY
	}
	execPrice := b.Slip.AdjustPrice(price, side)
	if execPrice <= 0 {
		return 0
	}
	targetSize := int(math.Floor(equity * target / execPrice))
	delta := targetSize - int(b.Position(symbol).Size)
	if delta > 0 {
		return b.executeBuy(tradeDate, symbol, price, delta)
	}
	if delta < 0 {
		return b.executeSell(tradeDate, symbol, price, -delta)
	}
	return 0
}

type rebalanceOrder struct {
	symbol string
	size   int
	price  float64
}

// RebalanceTargetPercents moves the portfolio to the given target weights in
// one batch. Weights are clamped into [0,1]; non-positive weights close the
// position. Target sizes are computed against a single equity snapshot taken
// before any order executes, and every sell runs before the first buy so exits
// free cash for entries. Symbols without a positive price in priceMap are
// skipped for this bar. Returns the number of sell and buy orders issued
// (fills may still be clamped by affordability).
func (b *Broker) RebalanceTargetPercents(tradeDate string, priceMap, targetWeights map[string]float64) (sells, buys int) {
	cleanWeights := map[string]float64{}
	for sym, w := range targetWeights {
		if w <= 0 {
			continue
		}
		if w > 1 {
			w = 1
		}
		cleanWeights[sym] = w
	}

	universe := map[string]struct{}{}
	for sym, pos := range b.positions {
		if pos.Size > 0 {
			universe[sym] = struct{}{}
		}
	}
	for sym := range cleanWeights {
		universe[sym] = struct{}{}
	}

	// Refresh marks from the rebalance reference prices so the equity basis
	// below is not computed against stale valuations.
	for sym, price := range priceMap {
		if price > 0 {
			b.lastPrices[sym] = price
		}
	}
	equity := b.TotalEquity()

	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var sellOrders, buyOrders []rebalanceOrder
	for _, sym := range symbols {
		price, ok := priceMap[sym]
		if !ok || price <= 0 {
			continue
		}
		targetW := cleanWeights[sym]
		side := SELL
		if targetW > 0 {
			side = BUY
		}
		execPrice := b.Slip.AdjustPrice(price, side)
		targetSize := int(math.Floor(equity * targetW / execPrice))
		delta := targetSize - int(b.Position(sym).Size)
		if delta < 0 {
			sellOrders = append(sellOrders, rebalanceOrder{sym, -delta, price})
		} else if delta > 0 {
			buyOrders = append(buyOrders, rebalanceOrder{sym, delta, price})
		}
	}

	for _, o := range sellOrders {
		b.executeSell(tradeDate, o.symbol, o.price, o.size)
	}
	for _, o := range buyOrders {
		b.executeBuy(tradeDate, o.symbol, o.price, o.size)
	}
	return len(sellOrders), len(buyOrders)
}

// ForceWriteOff zeroes a position's value with no cash flow and no fee,
// recording a WRITE_OFF trade. Used when an instrument becomes untradeable
// (delisting): the policy is total loss of remaining book value.
func (b *Broker) ForceWriteOff(tradeDate, symbol, reason string) {
	pos := b.Position(symbol)
	size := pos.Size
	pos.Size = 0
	pos.AvgPrice = 0
	b.lastPrices[symbol] = 0
	logrus.Warnf("write off %s on %s (%s): size=%.0f", symbol, tradeDate, reason, size)
	b.logTrade(TradeRecord{
		TradeDate:     tradeDate,
		Action:        ActionWriteOff,
		Symbol:        symbol,
		Size:          size,
		CashAfter:     b.Cash,
		PositionAfter: 0,
		EquityAfter:   b.TotalEquity(),
	})
}

// ---------------------------------------------------------------------------
// Single-symbol convenience API (requires a default symbol)
// ---------------------------------------------------------------------------

// Buy buys size shares of the default symbol.
func (b *Broker) Buy(tradeDate string, price float64, size int) int {
	if b.Symbol == "" {
		return 0
	}
	return b.BuySym(tradeDate, b.Symbol, price, size)
}

// BuyAll buys as many shares of the default symbol as cash allows.
func (b *Broker) BuyAll(tradeDate string, price float64) int {
	if b.Symbol == "" {
		return 0
	}
	return b.BuyAllSym(tradeDate, b.Symbol, price)
}

// Sell sells size shares of the default symbol.
func (b *Broker) Sell(tradeDate string, price float64, size int) int {
	if b.Symbol == "" {
		return 0
	}
	return b.SellSym(tradeDate, b.Symbol, price, size)
}

// SellAll closes the position in the default symbol.
func (b *Broker) SellAll(tradeDate string, price float64) int {
	if b.Symbol == "" {
		return 0
	}
	return b.SellAllSym(tradeDate, b.Symbol, price)
}

// Close is an alias for SellAll.
func (b *Broker) Close(tradeDate string, price float64) int {
	return b.SellAll(tradeDate, price)
}

// OrderTargetSize buys or sells the default symbol towards an absolute size.
func (b *Broker) OrderTargetSize(tradeDate string, price float64, size int) int {
	if b.Symbol == "" {
		return 0
	}
	delta := size - int(b.Position(b.Symbol).Size)
	if delta > 0 {
		return b.executeBuy(tradeDate, b.Symbol, price, delta)
	}
	if delta < 0 {
		return b.executeSell(tradeDate, b.Symbol, price, -delta)
	}
	return 0
}

// OrderTargetPercent sizes the default symbol to a fraction of total equity.
func (b *Broker) OrderTargetPercent(tradeDate string, price, target float64) int {
	if b.Symbol == "" {
		return 0
	}
	return b.OrderTargetPercentSym(tradeDate, b.Symbol, price, target)
}

// OrderTargetValue sizes the default symbol to an absolute currency value.
func (b *Broker) OrderTargetValue(tradeDate string, price, targetValue float64) int {
	if b.Symbol == "" {
		return 0
	}
	if targetValue < 0 {
		targetValue = 0
	}
	side := SELL
	if targetValue > 0 {
		side = BUY
	}
	execPrice := b.Slip.AdjustPrice(price, side)
	if execPrice <= 0 {
		return 0
	}
	return b.OrderTargetSize(tradeDate, price, int(math.Floor(targetValue/execPrice)))
}
