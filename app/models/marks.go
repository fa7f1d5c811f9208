package models

import (
	"github.com/oarkflow/errors"
)

// LatestTradeDateOnOrBefore returns the newest trade date in table that is
// <= the given date, or "" when none exists.
func LatestTradeDateOnOrBefore(table, tradeDate string) (string, error) {
	var date *string
	if err := DB.Table(table).
		Select("MAX(trade_date)").
		Where("trade_date <= ?", tradeDate).
		Scan(&date).Error; err != nil {
		return "", errors.NewE(err, "resolve as-of date for "+table, "")
	}
	if date == nil {
		return "", nil
	}
	return *date, nil
}

// LatestClosesOnOrBefore returns symbol -> close * adj_factor as of each
// symbol's own newest trade date <= tradeDate. Symbols with no row at all are
// absent. Used for valuation marks on calendar dates where a market was
// closed.
func LatestClosesOnOrBefore(barTable, adjTable, tradeDate string, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	type row struct {
		TsCode    string
		Close     float64
		AdjFactor float64
	}
	var rows []row
	sql := `
	WITH last AS (
	  SELECT ts_code, MAX(trade_date) AS trade_date
	  FROM ` + barTable + `
	  WHERE ts_code IN ? AND trade_date <= ?
	  GROUP BY ts_code
	)
	SELECT d.ts_code, d.close, COALESCE(af.adj_factor, 1.0) AS adj_factor
	FROM last l
	JOIN ` + barTable + ` d
	  ON d.ts_code = l.ts_code AND d.trade_date = l.trade_date
	LEFT JOIN ` + adjTable + ` af
	  ON af.ts_code = d.ts_code AND af.trade_date = d.trade_date`
	if err := DB.Raw(sql, symbols, tradeDate).Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load latest closes from "+barTable, "")
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.Close > 0 {
			f := r.AdjFactor
			if f <= 0 {
				f = 1.0
			}
			out[r.TsCode] = r.Close * f
		}
	}
	return out, nil
}

// PEsOn returns symbol -> positive PE ratio from the extended daily table on
// the given date.
func PEsOn(tradeDate string, symbols []string, minPE float64) (map[string]float64, error) {
	type row struct {
		TsCode string
		PE     float64
	}
	var rows []row
	q := DB.Table(TableExtDailyA).
		Select("ts_code, pe").
		Where("trade_date = ? AND pe IS NOT NULL AND pe > ?", tradeDate, minPE)
	if len(symbols) > 0 {
		q = q.Where("ts_code IN ?", symbols)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load pe ratios", "")
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.TsCode] = r.PE
	}
	return out, nil
}

// DelistDatesH returns ts_code -> delist date for delisted H-shares in the
// given set (all of them when symbols is empty).
func DelistDatesH(symbols []string) (map[string]string, error) {
	var rows []StockBasicH
	q := DB.Where("delist_date IS NOT NULL AND delist_date <> ''")
	if len(symbols) > 0 {
		q = q.Where("ts_code IN ?", symbols)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load h delist dates", "")
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.TsCode] = r.DelistDate
	}
	return out, nil
}
