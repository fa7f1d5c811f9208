package strategy

import (
	"github.com/sirupsen/logrus"

	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/backtester"
)

// RebalanceRecord captures one executed rebalance for reporting.
type RebalanceRecord struct {
	RebalanceDate string
	Targets       map[string]float64
	OpenPrices    map[string]float64
}

// EqualWeightAnnual allocates equal weights across a fixed symbol universe,
// rebalancing on the first tradable bar of each year bucket. Prices are
// normalized total-return style: raw * adj_factor(date) / latest adj_factor
// per symbol. A rebalance attempt with missing open prices retries on the
// next bar of the same bucket.
type EqualWeightAnnual struct {
	Symbols      []string
	StartDate    string
	UseAdjusted  bool
	YearInterval int
	BarTable     string
	AdjTable     string

	RebalanceHistory []RebalanceRecord

	baseAdj    map[string]float64
	lastPeriod string
}

// NewEqualWeightAnnual returns the strategy over the given universe, trading
// the daily A tables by default.
func NewEqualWeightAnnual(symbols []string, startDate string) *EqualWeightAnnual {
	return &EqualWeightAnnual{
		Symbols:      symbols,
		StartDate:    startDate,
		UseAdjusted:  true,
		YearInterval: 1,
		BarTable:     models.TableDailyA,
		AdjTable:     models.TableAdjFactorA,
	}
}

// OnStart preloads the per-symbol adjustment-factor bases.
func (s *EqualWeightAnnual) OnStart(feed *backtester.Feed, broker *backtester.Broker) {
	s.baseAdj = map[string]float64{}
	if !s.UseAdjusted {
		return
	}
	base, err := models.LatestAdjFactors(s.AdjTable, s.Symbols)
	if err != nil {
		logrus.Warnf("equal weight: preload adj bases: %v", err)
		return
	}
	s.baseAdj = base
}

func (s *EqualWeightAnnual) rebase(symbol string, adjusted float64) float64 {
	if !s.UseAdjusted {
		return adjusted
	}
	base := s.baseAdj[symbol]
	if base <= 0 {
		base = 1.0
	}
	return adjusted / base
}

func (s *EqualWeightAnnual) loadOpens(tradeDate string, symbols []string) (map[string]float64, error) {
	if !s.UseAdjusted {
		return models.OpensOn(s.BarTable, tradeDate, symbols)
	}
	adjusted, err := models.AdjustedPricesOn(s.BarTable, s.AdjTable, "open", tradeDate, symbols)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(adjusted))
	for sym, px := range adjusted {
		out[sym] = s.rebase(sym, px)
	}
	return out, nil
}

// OnBar rebalances to equal weights on the first bar of a new year bucket.
func (s *EqualWeightAnnual) OnBar(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) {
	if bar.TradeDate < s.StartDate {
		return
	}
	pk := yearKey(bar.TradeDate, s.YearInterval)
	if pk == s.lastPeriod {
		return
	}

	targets := make(map[string]float64, len(s.Symbols))
	for _, sym := range s.Symbols {
		targets[sym] = 1.0 / float64(len(s.Symbols))
	}
	openMap, err := s.loadOpens(bar.TradeDate, s.Symbols)
	if err != nil {
		logrus.Warnf("equal weight: load opens %s: %v", bar.TradeDate, err)
		return
	}
	for _, sym := range s.Symbols {
		if _, ok := openMap[sym]; !ok {
			// not all opens available; retry on the next bar of this bucket
			return
		}
	}

	broker.RebalanceTargetPercents(bar.TradeDate, openMap, targets)
	s.lastPeriod = pk
	s.RebalanceHistory = append(s.RebalanceHistory, RebalanceRecord{
		RebalanceDate: bar.TradeDate,
		Targets:       targets,
		OpenPrices:    openMap,
	})
}

// MarkPrices values every known position at its latest close on or before
// the bar date, rebased like execution prices.
func (s *EqualWeightAnnual) MarkPrices(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) (map[string]float64, error) {
	symbols := broker.KnownSymbols()
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	marks := map[string]float64{}
	if s.UseAdjusted {
		closes, err := models.LatestClosesOnOrBefore(s.BarTable, s.AdjTable, bar.TradeDate, symbols)
		if err != nil {
			return nil, err
		}
		for sym, px := range closes {
			marks[sym] = s.rebase(sym, px)
		}
	} else {
		closes, err := models.ClosesOn(s.BarTable, bar.TradeDate, symbols)
		if err != nil {
			return nil, err
		}
		for sym, px := range closes {
			marks[sym] = px
		}
	}
	fillMarkFallbacks(marks, broker.HeldSymbols(), broker.LastPrice, func(sym string) float64 {
		return broker.Position(sym).AvgPrice
	})
	return marks, nil
}
