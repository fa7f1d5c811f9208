package strategy

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/backtester"
)

// PremiumRecord is one A/H pair's premium observation: how much the A leg
// trades above its H leg, both expressed in CNY.
type PremiumRecord struct {
	TradeDate    string
	Name         string
	ACode        string
	HCode        string
	PremiumPct   float64
	ACloseRaw    float64
	HCloseRawCNY float64
	ACloseAdj    float64
	HCloseAdjCNY float64
}

// PremiumDecision is one leg selected at a rebalance.
type PremiumDecision struct {
	Symbol       string
	Leg          string
	PairName     string
	PremiumPct   float64
	TargetWeight float64
}

// PremiumRebalance is one executed rebalance with its inputs.
type PremiumRebalance struct {
	RebalanceDate string
	PremiumDate   string
	Decisions     []PremiumDecision
}

// AHPremiumQuarterly rotates across dual-listed A/H pairs on the premium of
// the A leg over the H leg: buy the H legs of the highest-premium pairs and
// the A legs of the lowest-premium pairs, rebalanced once per period. H-share
// quotes are converted HKD->CNY via the USD cross.
type AHPremiumQuarterly struct {
	Pairs              []Pair
	TopK               int
	BottomK            int
	StartDate          string
	CapitalSplit       float64
	MonthInterval      int
	UseAdjusted        bool
	PremiumUseAdjusted bool

	RebalanceHistory []PremiumRebalance

	fx         *models.FxRateCache
	baseAdjA   map[string]float64
	baseAdjH   map[string]float64
	lastPeriod string
}

// NewAHPremiumQuarterly returns the strategy with the usual half/half
// capital split and a quarterly rebalance.
func NewAHPremiumQuarterly(pairs []Pair, topK, bottomK int, startDate string) *AHPremiumQuarterly {
	return &AHPremiumQuarterly{
		Pairs:         pairs,
		TopK:          topK,
		BottomK:       bottomK,
		StartDate:     startDate,
		CapitalSplit:  0.5,
		MonthInterval: 3,
		UseAdjusted:   true,
	}
}

// OnStart preloads the FX rate cache and the adjustment-factor bases.
func (s *AHPremiumQuarterly) OnStart(feed *backtester.Feed, broker *backtester.Broker) {
	fx, err := models.LoadFxRateCache()
	if err != nil {
		logrus.Warnf("ah premium: load fx cache: %v", err)
	}
	s.fx = fx

	s.baseAdjA = map[string]float64{}
	s.baseAdjH = map[string]float64{}
	if !s.UseAdjusted && !s.PremiumUseAdjusted {
		return
	}
	if base, err := models.LatestAdjFactors(models.TableAdjFactorA, nil); err == nil {
		s.baseAdjA = base
	} else {
		logrus.Warnf("ah premium: preload a bases: %v", err)
	}
	if base, err := models.LatestAdjFactors(models.TableAdjFactorH, nil); err == nil {
		s.baseAdjH = base
	} else {
		logrus.Warnf("ah premium: preload h bases: %v", err)
	}
}

func (s *AHPremiumQuarterly) rate(tradeDate string) (float64, bool) {
	if s.fx == nil {
		return 0, false
	}
	return s.fx.HkToCnyRate(tradeDate)
}

func base(m map[string]float64, sym string) float64 {
	b := m[sym]
	if b <= 0 {
		return 1.0
	}
	return b
}

func (s *AHPremiumQuarterly) isRebalanceDay(bar backtester.Bar, feed *backtester.Feed) bool {
	if bar.TradeDate < s.StartDate {
		return false
	}
	pk := periodKey(bar.TradeDate, s.MonthInterval)
	if pk == s.lastPeriod {
		return false
	}
	prev := feed.Prev()
	return prev == nil || periodKey(prev.TradeDate, s.MonthInterval) != pk
}

// loadPremiums computes premium records from the pair closes of one date.
func (s *AHPremiumQuarterly) loadPremiums(tradeDate string) ([]PremiumRecord, error) {
	aCodes := make([]string, 0, len(s.Pairs))
	hCodes := make([]string, 0, len(s.Pairs))
	for _, p := range s.Pairs {
		aCodes = append(aCodes, p.ACode)
		hCodes = append(hCodes, p.HCode)
	}

	aCloses, err := models.ClosesOn(models.TableDailyA, tradeDate, aCodes)
	if err != nil {
		return nil, err
	}
	hCloses, err := models.ClosesOn(models.TableDailyH, tradeDate, hCodes)
	if err != nil {
		return nil, err
	}
	aFactors, err := models.AdjFactorsOn(models.TableAdjFactorA, tradeDate, aCodes)
	if err != nil {
		return nil, err
	}
	hFactors, err := models.AdjFactorsOn(models.TableAdjFactorH, tradeDate, hCodes)
	if err != nil {
		return nil, err
	}
	hkToCny, ok := s.rate(tradeDate)
	if !ok {
		logrus.Warnf("ah premium: no fx rate for %s", tradeDate)
		return nil, nil
	}

	var recs []PremiumRecord
	for _, p := range s.Pairs {
		aClose, okA := aCloses[p.ACode]
		hClose, okH := hCloses[p.HCode]
		if !okA || !okH {
			continue
		}
		hCloseCNY := hClose * hkToCny
		if hCloseCNY <= 0 {
			continue
		}
		aAdj := aClose * base(aFactors, p.ACode) / base(s.baseAdjA, p.ACode)
		hAdjCNY := hClose * base(hFactors, p.HCode) / base(s.baseAdjH, p.HCode) * hkToCny
		if hAdjCNY <= 0 && s.PremiumUseAdjusted {
			continue
		}
		premium := (aClose/hCloseCNY - 1) * 100
		if s.PremiumUseAdjusted {
			premium = (aAdj/hAdjCNY - 1) * 100
		}
		recs = append(recs, PremiumRecord{
			TradeDate:    tradeDate,
			Name:         p.Name,
			ACode:        p.ACode,
			HCode:        p.HCode,
			PremiumPct:   premium,
			ACloseRaw:    aClose,
			HCloseRawCNY: hCloseCNY,
			ACloseAdj:    aAdj,
			HCloseAdjCNY: hAdjCNY,
		})
	}
	return recs, nil
}

// loadOpens returns CNY open prices for execution, adjustment-rebased when
// configured. An unavailable FX rate yields an empty map so the caller
// retries on a later bar.
func (s *AHPremiumQuarterly) loadOpens(tradeDate string, symbols []string) (map[string]float64, error) {
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
			logrus.Warnf("ah premium: no fx rate for opens on %s", tradeDate)
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

// OnBar rebalances once per period: H legs of the top premiums, A legs of
// the bottom premiums, using the previous bar's premiums as the signal.
func (s *AHPremiumQuarterly) OnBar(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) {
	if !s.isRebalanceDay(bar, feed) {
		return
	}
	prev := feed.Prev()
	if prev == nil {
		return
	}
	recs, err := s.loadPremiums(prev.TradeDate)
	if err != nil {
		logrus.Warnf("ah premium: load premiums %s: %v", prev.TradeDate, err)
		return
	}
	if len(recs) == 0 {
		return
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].PremiumPct < recs[j].PremiumPct })

	bottomK := s.BottomK
	if bottomK > len(recs) {
		bottomK = len(recs)
	}
	topK := s.TopK
	if topK > len(recs) {
		topK = len(recs)
	}
	bottom := recs[:bottomK]
	top := recs[len(recs)-topK:]
	if len(bottom) == 0 || len(top) == 0 {
		return
	}

	wEachA := (1 - s.CapitalSplit) / float64(len(bottom))
	wEachH := s.CapitalSplit / float64(len(top))
	targets := map[string]float64{}
	var decisions []PremiumDecision
	for _, r := range bottom {
		targets[r.ACode] = wEachA
		decisions = append(decisions, PremiumDecision{
			Symbol: r.ACode, Leg: "A", PairName: r.Name,
			PremiumPct: r.PremiumPct, TargetWeight: wEachA,
		})
	}
	for _, r := range top {
		targets[r.HCode] = wEachH
		decisions = append(decisions, PremiumDecision{
			Symbol: r.HCode, Leg: "H", PairName: r.Name,
			PremiumPct: r.PremiumPct, TargetWeight: wEachH,
		})
	}

	priceSymbols := append(broker.HeldSymbols(), keys(targets)...)
	priceMap, err := s.loadOpens(bar.TradeDate, priceSymbols)
	if err != nil {
		logrus.Warnf("ah premium: load opens %s: %v", bar.TradeDate, err)
		return
	}
	if len(priceMap) == 0 {
		return
	}

	logrus.Infof("ah premium rebalance %s premium_date=%s A=%d H=%d",
		bar.TradeDate, prev.TradeDate, len(bottom), len(top))
	for _, d := range decisions {
		logrus.Infof("  %s leg=%s prem=%.2f%% wt=%.4f pair=%s",
			d.Symbol, d.Leg, d.PremiumPct, d.TargetWeight, d.PairName)
	}

	broker.RebalanceTargetPercents(bar.TradeDate, priceMap, targets)
	s.lastPeriod = periodKey(bar.TradeDate, s.MonthInterval)
	s.RebalanceHistory = append(s.RebalanceHistory, PremiumRebalance{
		RebalanceDate: bar.TradeDate,
		PremiumDate:   prev.TradeDate,
		Decisions:     decisions,
	})
}

// MarkPrices values held positions at their CNY closes, falling back to the
// last known mark (then cost basis) for markets closed on this date.
func (s *AHPremiumQuarterly) MarkPrices(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) (map[string]float64, error) {
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

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
