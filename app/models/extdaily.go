package models

import (
	"github.com/oarkflow/errors"
)

// TableExtDailyA holds extended A-share daily fields (valuation ratios).
const TableExtDailyA = "bak_daily_a"

// ExtDailyA is one extended daily row; PE is nil when the exchange reports
// no ratio (loss-making or suspended names).
type ExtDailyA struct {
	ID        int      `json:"-"`
	TsCode    string   `json:"ts_code" gorm:"index:idx_ext_a_code_date,unique"`
	TradeDate string   `json:"trade_date" gorm:"index:idx_ext_a_code_date,unique"`
	PE        *float64 `json:"pe"`
	TotalMv   float64  `json:"total_mv"`
}

// TableName maps the model to its table
func (ExtDailyA) TableName() string { return TableExtDailyA }

// RankedStock is one low-PE candidate joined with its metadata.
type RankedStock struct {
	TsCode string
	Name   string
	PE     float64
}

// LowestPEStocks returns the limit lowest-PE listed A-shares as of the
// newest extended-daily date on or before tradeDate. Names delisted on or
// before that date and non-positive ratios are excluded.
func LowestPEStocks(tradeDate string, minPE float64, limit int) ([]RankedStock, error) {
	var asOf *string
	if err := DB.Table(TableExtDailyA).
		Select("MAX(trade_date)").
		Where("trade_date <= ?", tradeDate).
		Scan(&asOf).Error; err != nil {
		return nil, errors.NewE(err, "resolve ext daily as-of date", "")
	}
	if asOf == nil {
		return nil, nil
	}

	var rows []RankedStock
	sql := `
	SELECT b.ts_code, s.name, b.pe
	FROM ` + TableExtDailyA + ` b
	JOIN stock_basic_a s ON s.ts_code = b.ts_code
	WHERE b.trade_date = ?
	  AND b.pe IS NOT NULL
	  AND b.pe > ?
	  AND (s.delist_date IS NULL OR s.delist_date = '' OR s.delist_date > ?)
	ORDER BY b.pe ASC
	LIMIT ?`
	if err := DB.Raw(sql, *asOf, minPE, tradeDate, limit).Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "rank low pe stocks", "")
	}
	return rows, nil
}
