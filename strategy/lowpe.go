package strategy

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/backtester"
)

// LowPERecord is one selected candidate: an A-share ranked by reported PE,
// or an H leg ranked by the PE implied from its A twin's ratio and the
// CNY-converted price gap.
type LowPERecord struct {
	TradeDate string
	Leg       string
	Symbol    string
	StockName string
	PE        float64
}

// LowPERebalance is one executed rotation with its inputs.
type LowPERebalance struct {
	RebalanceDate string
	SignalDate    string
	Records       []LowPERecord
	Targets       map[string]float64
}

// LowPEQuarterly rotates into the lowest-valuation names once per period:
// the AK lowest-PE A-shares plus the HK lowest implied-PE H legs of the A/H
// pairs, equal-weighted across all picks. Held names that delist are written
// off at the bar they die. Failed rebalances (closed market, missing FX)
// retry on later bars of the same period.
type LowPEQuarterly struct {
	Pairs         []Pair
	AK            int
	HK            int
	StartDate     string
	MonthInterval int
	PEMin         float64
	UseAdjusted   bool

	RebalanceHistory []LowPERebalance

	fx         *models.FxRateCache
	baseAdjA   map[string]float64
	baseAdjH   map[string]float64
	lastPeriod string
}

// NewLowPEQuarterly returns the strategy with a quarterly rotation.
func NewLowPEQuarterly(pairs []Pair, aK, hK int, startDate string) *LowPEQuarterly {
	return &LowPEQuarterly{
		Pairs:         pairs,
		AK:            aK,
		HK:            hK,
		StartDate:     startDate,
		MonthInterval: 3,
		UseAdjusted:   true,
	}
}

// OnStart preloads the FX cache and adjustment bases.
func (s *LowPEQuarterly) OnStart(feed *backtester.Feed, broker *backtester.Broker) {
	fx, err := models.LoadFxRateCache()
	if err != nil {
		logrus.Warnf("low pe: load fx cache: %v", err)
	}
	s.fx = fx

	s.baseAdjA = map[string]float64{}
	s.baseAdjH = map[string]float64{}
	if !s.UseAdjusted {
		return
	}
	if b, err := models.LatestAdjFactors(models.TableAdjFactorA, nil); err == nil {
		s.baseAdjA = b
	}
	if b, err := models.LatestAdjFactors(models.TableAdjFactorH, nil); err == nil {
		s.baseAdjH = b
	}
}

func (s *LowPEQuarterly) rate(tradeDate string) (float64, bool) {
	if s.fx == nil {
		return 0, false
	}
	return s.fx.HkToCnyRate(tradeDate)
}

// writeOffDelisted force-writes-off any held name whose delist date has
// passed. Total loss: no executable market price exists post-delisting.
func (s *LowPEQuarterly) writeOffDelisted(bar backtester.Bar, broker *backtester.Broker) {
	held := broker.HeldSymbols()
	if len(held) == 0 {
		return
	}
	aSyms, hSyms := splitAH(held)
	delisted := map[string]string{}
	if len(aSyms) > 0 {
		if m, err := models.DelistDatesA(aSyms); err == nil {
			for sym, d := range m {
				delisted[sym] = d
			}
		} else {
			logrus.Warnf("low pe: delist check: %v", err)
		}
	}
	if len(hSyms) > 0 {
		if m, err := models.DelistDatesH(hSyms); err == nil {
			for sym, d := range m {
				delisted[sym] = d
			}
		} else {
			logrus.Warnf("low pe: delist check: %v", err)
		}
	}
	for _, sym := range held {
		if d, ok := delisted[sym]; ok && d <= bar.TradeDate {
			broker.ForceWriteOff(bar.TradeDate, sym, "delist@"+d)
		}
	}
}

func (s *LowPEQuarterly) pickLowPEA(signalDate, executeDate string) ([]LowPERecord, error) {
	if s.AK <= 0 {
		return nil, nil
	}
	asOf, err := models.LatestTradeDateOnOrBefore(models.TableDailyA, signalDate)
	if err != nil || asOf == "" {
		return nil, err
	}
	ranked, err := models.LowestPEStocks(asOf, s.PEMin, s.AK*4)
	if err != nil {
		return nil, err
	}
	tradeable, err := models.OpensOn(models.TableDailyA, executeDate, nil)
	if err != nil {
		return nil, err
	}
	var out []LowPERecord
	for _, r := range ranked {
		if _, ok := tradeable[r.TsCode]; !ok {
			continue
		}
		out = append(out, LowPERecord{
			TradeDate: asOf,
			Leg:       "A",
			Symbol:    r.TsCode,
			StockName: r.Name,
			PE:        r.PE,
		})
		if len(out) >= s.AK {
			break
		}
	}
	return out, nil
}

// pickLowPEHImplied ranks the H legs by implied PE: the A twin's reported
// ratio scaled by the CNY price gap between the two listings.
func (s *LowPEQuarterly) pickLowPEHImplied(signalDate, executeDate string) ([]LowPERecord, error) {
	if s.HK <= 0 || len(s.Pairs) == 0 {
		return nil, nil
	}
	asOf, err := models.LatestTradeDateOnOrBefore(models.TableDailyH, signalDate)
	if err != nil || asOf == "" {
		return nil, err
	}
	hkToCny, ok := s.rate(asOf)
	if !ok {
		return nil, nil
	}

	aCodes := make([]string, 0, len(s.Pairs))
	hCodes := make([]string, 0, len(s.Pairs))
	for _, p := range s.Pairs {
		aCodes = append(aCodes, p.ACode)
		hCodes = append(hCodes, p.HCode)
	}
	aPEs, err := models.PEsOn(asOf, aCodes, s.PEMin)
	if err != nil {
		return nil, err
	}
	aCloses, err := models.ClosesOn(models.TableDailyA, asOf, aCodes)
	if err != nil {
		return nil, err
	}
	hCloses, err := models.ClosesOn(models.TableDailyH, asOf, hCodes)
	if err != nil {
		return nil, err
	}
	hDelist, err := models.DelistDatesH(hCodes)
	if err != nil {
		return nil, err
	}
	hTradeable, err := models.OpensOn(models.TableDailyH, executeDate, hCodes)
	if err != nil {
		return nil, err
	}

	var implied []LowPERecord
	for _, p := range s.Pairs {
		if _, ok := hTradeable[p.HCode]; !ok {
			continue
		}
		if d, ok := hDelist[p.HCode]; ok && d <= executeDate {
			continue
		}
		aPE, okPE := aPEs[p.ACode]
		aClose, okA := aCloses[p.ACode]
		hClose, okH := hCloses[p.HCode]
		if !okPE || !okA || !okH || aClose <= 0 {
			continue
		}
		peH := aPE * (hClose * hkToCny / aClose)
		if peH <= s.PEMin {
			continue
		}
		implied = append(implied, LowPERecord{
			TradeDate: asOf,
			Leg:       "H",
			Symbol:    p.HCode,
			StockName: p.Name,
			PE:        peH,
		})
	}
	sort.Slice(implied, func(i, j int) bool { return implied[i].PE < implied[j].PE })
	if len(implied) > s.HK {
		implied = implied[:s.HK]
	}
	return implied, nil
}

// computeTargets builds equal weights across both legs' picks. Either leg
// coming up empty while requested aborts the attempt (retried next bar).
func (s *LowPEQuarterly) computeTargets(signalDate, executeDate string) (map[string]float64, []LowPERecord, error) {
	aRecs, err := s.pickLowPEA(signalDate, executeDate)
	if err != nil {
		return nil, nil, err
	}
	hRecs, err := s.pickLowPEHImplied(signalDate, executeDate)
	if err != nil {
		return nil, nil, err
	}
	if s.AK > 0 && len(aRecs) == 0 {
		return nil, nil, nil
	}
	if s.HK > 0 && len(hRecs) == 0 {
		return nil, nil, nil
	}
	recs := append(aRecs, hRecs...)
	if len(recs) == 0 {
		return nil, nil, nil
	}
	w := 1.0 / float64(len(recs))
	targets := make(map[string]float64, len(recs))
	for _, r := range recs {
		targets[r.Symbol] = w
	}
	return targets, recs, nil
}

func (s *LowPEQuarterly) loadOpens(tradeDate string, symbols []string) (map[string]float64, error) {
	aSyms, hSyms := splitAH(symbols)
	out := map[string]float64{}

	if len(aSyms) > 0 {
		opens, err := models.AdjustedPricesOn(models.TableDailyA, models.TableAdjFactorA, "open", tradeDate, aSyms)
		if err != nil {
			return nil, err
		}
		for sym, px := range opens {
			if s.UseAdjusted {
				px /= base(s.baseAdjA, sym)
			}
			out[sym] = px
		}
	}
	if len(hSyms) > 0 {
		hkToCny, ok := s.rate(tradeDate)
		if !ok {
			return map[string]float64{}, nil
		}
		opens, err := models.AdjustedPricesOn(models.TableDailyH, models.TableAdjFactorH, "open", tradeDate, hSyms)
		if err != nil {
			return nil, err
		}
		for sym, px := range opens {
			if s.UseAdjusted {
				px /= base(s.baseAdjH, sym)
			}
			out[sym] = px * hkToCny
		}
	}
	return out, nil
}

// OnBar writes off dead names, then rotates into the current low-PE set on
// the first workable bar of each period.
func (s *LowPEQuarterly) OnBar(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) {
	s.writeOffDelisted(bar, broker)

	if bar.TradeDate < s.StartDate {
		return
	}
	pk := periodKey(bar.TradeDate, s.MonthInterval)
	if pk == s.lastPeriod {
		return
	}
	prev := feed.Prev()
	if prev == nil {
		return
	}

	targets, recs, err := s.computeTargets(prev.TradeDate, bar.TradeDate)
	if err != nil {
		logrus.Warnf("low pe: compute targets %s: %v", bar.TradeDate, err)
		return
	}
	if len(targets) == 0 {
		return
	}

	priceSymbols := append(broker.HeldSymbols(), keys(targets)...)
	priceMap, err := s.loadOpens(bar.TradeDate, priceSymbols)
	if err != nil {
		logrus.Warnf("low pe: load opens %s: %v", bar.TradeDate, err)
		return
	}
	if len(priceMap) == 0 {
		return
	}

	logrus.Infof("low pe rebalance %s signal_date=%s picks=%d", bar.TradeDate, prev.TradeDate, len(recs))
	for _, r := range recs {
		logrus.Infof("  %s %s pe=%.2f name=%s", r.Leg, r.Symbol, r.PE, r.StockName)
	}

	broker.RebalanceTargetPercents(bar.TradeDate, priceMap, targets)
	s.lastPeriod = pk
	s.RebalanceHistory = append(s.RebalanceHistory, LowPERebalance{
		RebalanceDate: bar.TradeDate,
		SignalDate:    prev.TradeDate,
		Records:       recs,
		Targets:       targets,
	})
}

// MarkPrices values held positions at their CNY closes, holding the last
// known mark (then cost basis) for markets closed on this date.
func (s *LowPEQuarterly) MarkPrices(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) (map[string]float64, error) {
	symbols := broker.KnownSymbols()
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	aSyms, hSyms := splitAH(symbols)
	marks := map[string]float64{}

	if len(aSyms) > 0 {
		closes, err := models.AdjustedPricesOn(models.TableDailyA, models.TableAdjFactorA, "close", bar.TradeDate, aSyms)
		if err != nil {
			return nil, err
		}
		for sym, px := range closes {
			if s.UseAdjusted {
				px /= base(s.baseAdjA, sym)
			}
			marks[sym] = px
		}
	}
	if len(hSyms) > 0 {
		if hkToCny, ok := s.rate(bar.TradeDate); ok {
			closes, err := models.AdjustedPricesOn(models.TableDailyH, models.TableAdjFactorH, "close", bar.TradeDate, hSyms)
			if err != nil {
				return nil, err
			}
			for sym, px := range closes {
				if s.UseAdjusted {
					px /= base(s.baseAdjH, sym)
				}
				marks[sym] = px * hkToCny
			}
		}
	}

	fillMarkFallbacks(marks, broker.HeldSymbols(), broker.LastPrice, func(sym string) float64 {
		return broker.Position(sym).AvgPrice
	})
	return marks, nil
}
