package backtester

import (
	"math"
	"sort"
)

// AnnualReturn is one calendar year's return on the equity curve, measured
// from the previous year's closing equity (or the first point for the first
// year).
type AnnualReturn struct {
	Year   string
	Return float64
}

// ComputeAnnualReturns groups the curve by calendar year and returns one
// entry per year in chronological order.
func ComputeAnnualReturns(curve []EquityPoint) []AnnualReturn {
	if len(curve) == 0 {
		return nil
	}
	yearStart := map[string]float64{}
	yearEnd := map[string]float64{}
	for _, pt := range curve {
		year := pt.TradeDate[:4]
		if _, ok := yearStart[year]; !ok {
			yearStart[year] = pt.Equity
		}
		yearEnd[year] = pt.Equity
	}
	years := make([]string, 0, len(yearEnd))
	for year := range yearEnd {
		years = append(years, year)
	}
	sort.Strings(years)

	out := make([]AnnualReturn, 0, len(years))
	var prevYearEnd float64
	for i, year := range years {
		startEq := yearStart[year]
		if i > 0 {
			startEq = prevYearEnd
		}
		endEq := yearEnd[year]
		ret := 0.0
		if startEq > 0 {
			ret = endEq/startEq - 1
		}
		out = append(out, AnnualReturn{Year: year, Return: ret})
		prevYearEnd = endEq
	}
	return out
}

// ComputeMaxDrawdown returns the deepest peak-to-trough decline (a value
// <= 0) and the dates of the peak and the trough that bound it.
func ComputeMaxDrawdown(curve []EquityPoint) (maxDD float64, peakDate, troughDate string) {
	if len(curve) == 0 {
		return 0, "", ""
	}
	peakEq := curve[0].Equity
	currentPeakDate := curve[0].TradeDate
	peakDate = currentPeakDate
	troughDate = currentPeakDate
	for _, pt := range curve[1:] {
		if pt.Equity > peakEq {
			peakEq = pt.Equity
			currentPeakDate = pt.TradeDate
		}
		dd := pt.Equity/peakEq - 1
		if dd < maxDD {
			maxDD = dd
			peakDate = currentPeakDate
			troughDate = pt.TradeDate
		}
	}
	return maxDD, peakDate, troughDate
}

// ComputeDailyReturns returns the bar-over-bar simple returns of the curve.
// Points following a non-positive equity value are skipped.
func ComputeDailyReturns(curve []EquityPoint) []float64 {
	var rets []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev > 0 {
			rets = append(rets, curve[i].Equity/prev-1)
		}
	}
	return rets
}

// RiskMetrics is the annualized performance summary of an equity curve.
// The risk-free rate is assumed to be zero.
type RiskMetrics struct {
	CAGR      float64
	AnnReturn float64
	AnnVol    float64
	Sharpe    float64
	WinRate   float64
}

// DefaultAnnFactor is the trading-day annualization factor.
const DefaultAnnFactor = 252

// ComputeRiskMetrics derives the annualized metrics from the curve, using the
// population standard deviation of daily returns. Returns ok=false for curves
// too short to produce a single daily return.
func ComputeRiskMetrics(curve []EquityPoint, initialEquity float64, annFactor int) (RiskMetrics, bool) {
	dailyRets := ComputeDailyReturns(curve)
	if len(dailyRets) == 0 {
		return RiskMetrics{}, false
	}
	totalDays := float64(len(dailyRets))
	finalEquity := curve[len(curve)-1].Equity

	cagr := 0.0
	if initialEquity > 0 {
		cagr = math.Pow(finalEquity/initialEquity, float64(annFactor)/totalDays) - 1
	}

	var sum float64
	for _, r := range dailyRets {
		sum += r
	}
	meanDaily := sum / totalDays

	stdDaily := 0.0
	if len(dailyRets) > 1 {
		var sq float64
		for _, r := range dailyRets {
			d := r - meanDaily
			sq += d * d
		}
		stdDaily = math.Sqrt(sq / totalDays)
	}

	annVol := stdDaily * math.Sqrt(float64(annFactor))
	annReturn := math.Pow(1+meanDaily, float64(annFactor)) - 1
	sharpe := 0.0
	if annVol > 0 {
		sharpe = annReturn / annVol
	}
	wins := 0
	for _, r := range dailyRets {
		if r > 0 {
			wins++
		}
	}
	return RiskMetrics{
		CAGR:      cagr,
		AnnReturn: annReturn,
		AnnVol:    annVol,
		Sharpe:    sharpe,
		WinRate:   float64(wins) / totalDays,
	}, true
}
