package models

import (
	"github.com/oarkflow/errors"
)

// Adjustment-factor table names.
const (
	TableAdjFactorA = "adj_factor_a"
	TableAdjFactorH = "adj_factor_h"
)

// AdjFactorA is one A-share adjustment-factor row.
type AdjFactorA struct {
	ID        int     `json:"-"`
	TsCode    string  `json:"ts_code" gorm:"index:idx_adj_a_code_date,unique"`
	TradeDate string  `json:"trade_date" gorm:"index:idx_adj_a_code_date,unique"`
	AdjFactor float64 `json:"adj_factor"`
}

// TableName maps the model to its table
func (AdjFactorA) TableName() string { return TableAdjFactorA }

// AdjFactorH is one H-share adjustment-factor row.
type AdjFactorH struct {
	ID        int     `json:"-"`
	TsCode    string  `json:"ts_code" gorm:"index:idx_adj_h_code_date,unique"`
	TradeDate string  `json:"trade_date" gorm:"index:idx_adj_h_code_date,unique"`
	AdjFactor float64 `json:"adj_factor"`
}

// TableName maps the model to its table
func (AdjFactorH) TableName() string { return TableAdjFactorH }

// LatestAdjFactors returns symbol -> newest adjustment factor from table.
// These are the per-symbol normalization bases for total-return pricing:
// adjusted = raw * factor(date) / base(symbol).
func LatestAdjFactors(table string, symbols []string) (map[string]float64, error) {
	type row struct {
		TsCode    string
		AdjFactor float64
	}
	var rows []row
	sql := `
	SELECT a.ts_code, a.adj_factor
	FROM ` + table + ` a
	JOIN (SELECT ts_code, MAX(trade_date) AS last_date FROM ` + table + ` GROUP BY ts_code) t
	  ON t.ts_code = a.ts_code AND t.last_date = a.trade_date`
	q := DB.Raw(sql)
	if len(symbols) > 0 {
		q = DB.Raw(sql+" WHERE a.ts_code IN ?", symbols)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load latest adj factors from "+table, "")
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.AdjFactor > 0 {
			out[r.TsCode] = r.AdjFactor
		}
	}
	return out, nil
}

// AdjFactorsOn returns symbol -> adjustment factor on the given date.
// Symbols without a row that day are absent; callers treat them as 1.0.
func AdjFactorsOn(table, tradeDate string, symbols []string) (map[string]float64, error) {
	type row struct {
		TsCode    string
		AdjFactor float64
	}
	var rows []row
	q := DB.Table(table).
		Select("ts_code, adj_factor").
		Where("trade_date = ?", tradeDate)
	if len(symbols) > 0 {
		q = q.Where("ts_code IN ?", symbols)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load adj factors from "+table, "")
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.AdjFactor > 0 {
			out[r.TsCode] = r.AdjFactor
		}
	}
	return out, nil
}

// AdjustedPricesOn returns symbol -> raw price times that day's adjustment
// factor (1.0 when missing) for the given price column.
func AdjustedPricesOn(barTable, adjTable, column, tradeDate string, symbols []string) (map[string]float64, error) {
	raw, err := pricesOn(barTable, column, tradeDate, symbols)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return raw, nil
	}
	factors, err := AdjFactorsOn(adjTable, tradeDate, symbols)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for sym, px := range raw {
		f, ok := factors[sym]
		if !ok {
			f = 1.0
		}
		out[sym] = px * f
	}
	return out, nil
}
