package models

import (
	"github.com/google/btree"
	"github.com/oarkflow/errors"
)

// FX pair codes carried in the fx_daily table.
const (
	FxUsdCnh = "USDCNH.FXCM"
	FxUsdHkd = "USDHKD.FXCM"
)

// FxDaily is one FX quote row. Mid prices are derived as (bid+ask)/2.
type FxDaily struct {
	ID        int     `json:"-"`
	TsCode    string  `json:"ts_code" gorm:"index:idx_fx_code_date,unique"`
	TradeDate string  `json:"trade_date" gorm:"index:idx_fx_code_date,unique"`
	BidClose  float64 `json:"bid_close"`
	AskClose  float64 `json:"ask_close"`
}

// TableName maps the model to its table
func (FxDaily) TableName() string { return "fx_daily" }

func (f FxDaily) mid() float64 {
	return (f.BidClose + f.AskClose) / 2
}

type fxRateEntry struct {
	tradeDate string
	rate      float64
}

// FxRateCache answers latest-on-or-before HKD->CNY rate lookups from an
// in-memory ordered index, loaded once from fx_daily. H-share quotes are in
// HKD while backtest cash is CNY; the rate is the USD cross
// (USD/CNH mid divided by USD/HKD mid).
type FxRateCache struct {
	tree *btree.BTreeG[fxRateEntry]
}

// LoadFxRateCache builds the cache from every date carrying both pairs.
func LoadFxRateCache() (*FxRateCache, error) {
	var rows []FxDaily
	if err := DB.Where("ts_code IN ?", []string{FxUsdCnh, FxUsdHkd}).
		Order("trade_date").Find(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load fx_daily", "")
	}

	cnh := map[string]float64{}
	hkd := map[string]float64{}
	for _, r := range rows {
		if r.mid() <= 0 {
			continue
		}
		switch r.TsCode {
		case FxUsdCnh:
			cnh[r.TradeDate] = r.mid()
		case FxUsdHkd:
			hkd[r.TradeDate] = r.mid()
		}
	}

	tree := btree.NewG(16, func(a, b fxRateEntry) bool { return a.tradeDate < b.tradeDate })
	for date, usdCnh := range cnh {
		usdHkd, ok := hkd[date]
		if !ok || usdHkd <= 0 {
			continue
		}
		tree.ReplaceOrInsert(fxRateEntry{tradeDate: date, rate: usdCnh / usdHkd})
	}
	return &FxRateCache{tree: tree}, nil
}

// HkToCnyRate returns the HKD->CNY rate as of the latest date on or before
// tradeDate with both pairs quoted. ok is false when no such date exists.
func (c *FxRateCache) HkToCnyRate(tradeDate string) (rate float64, ok bool) {
	c.tree.DescendLessOrEqual(fxRateEntry{tradeDate: tradeDate}, func(e fxRateEntry) bool {
		rate = e.rate
		ok = true
		return false
	})
	return rate, ok
}

// Len returns the number of dates in the cache.
func (c *FxRateCache) Len() int {
	return c.tree.Len()
}
