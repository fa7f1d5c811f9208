package models

import (
	"github.com/oarkflow/errors"
	"gorm.io/gorm/clause"

	"github.com/oarkflow/qs/backtester"
)

// Daily table names used by feeds and the sync layer.
const (
	TableDailyA = "daily_a"
	TableDailyH = "daily_h"
)

// DailyBarA is one A-share daily OHLC row, keyed by (ts_code, trade_date).
type DailyBarA struct {
	ID        int     `json:"-"`
	TsCode    string  `json:"ts_code" gorm:"index:idx_daily_a_code_date,unique"`
	TradeDate string  `json:"trade_date" gorm:"index:idx_daily_a_code_date,unique"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	PctChg    float64 `json:"pct_chg"`
	Vol       float64 `json:"vol"`
	Amount    float64 `json:"amount"`
}

// TableName maps the model to its table
func (DailyBarA) TableName() string { return TableDailyA }

// DailyBarH is one H-share daily OHLC row, keyed by (ts_code, trade_date).
type DailyBarH struct {
	ID        int     `json:"-"`
	TsCode    string  `json:"ts_code" gorm:"index:idx_daily_h_code_date,unique"`
	TradeDate string  `json:"trade_date" gorm:"index:idx_daily_h_code_date,unique"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	PctChg    float64 `json:"pct_chg"`
	Vol       float64 `json:"vol"`
	Amount    float64 `json:"amount"`
}

// TableName maps the model to its table
func (DailyBarH) TableName() string { return TableDailyH }

// CreateDailyBars inserts rows into table, ignoring duplicates of the
// (ts_code, trade_date) unique key. Returns the number of new rows.
func CreateDailyBars(table string, rows []map[string]interface{}) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx := DB.Table(table).Clauses(clause.OnConflict{DoNothing: true}).Create(rows)
	if tx.Error != nil {
		return 0, errors.NewE(tx.Error, "insert daily bars into "+table, "")
	}
	return tx.RowsAffected, nil
}

type barRow struct {
	TradeDate string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	PctChg    *float64
}

func toBars(rows []barRow) []backtester.Bar {
	bars := make([]backtester.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, backtester.Bar{
			TradeDate: r.TradeDate,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			PctChg:    r.PctChg,
		})
	}
	return bars
}

// GetBars loads a single symbol's bars from table, ordered by trade date.
// An empty end date means "until the latest row".
func GetBars(table, tsCode, start, end string) ([]backtester.Bar, error) {
	q := DB.Table(table).
		Select("trade_date, open, high, low, close, pct_chg").
		Where("ts_code = ? AND trade_date >= ?", tsCode, start)
	if end != "" {
		q = q.Where("trade_date <= ?", end)
	}
	var rows []barRow
	if err := q.Order("trade_date").Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load bars from "+table, "")
	}
	return toBars(rows), nil
}

// GetCalendarBars builds a combined A+H trading calendar: one synthetic bar
// per date that appears in either daily table. OHLC are placeholder
// aggregates; calendar strategies only consume the trade date.
func GetCalendarBars(start, end string) ([]backtester.Bar, error) {
	sql := `
	SELECT trade_date,
	       MIN(open)  AS open,
	       MIN(high)  AS high,
	       MIN(low)   AS low,
	       MIN(close) AS close,
	       NULL       AS pct_chg
	FROM (
	  SELECT trade_date, open, high, low, close FROM daily_a
	  UNION ALL
	  SELECT trade_date, open, high, low, close FROM daily_h
	)
	WHERE trade_date >= ?`
	args := []interface{}{start}
	if end != "" {
		sql += " AND trade_date <= ?"
		args = append(args, end)
	}
	sql += " GROUP BY 1 ORDER BY 1"

	var rows []barRow
	if err := DB.Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load calendar bars", "")
	}
	return toBars(rows), nil
}

// GetCalendarBarsForSymbols builds a multi-symbol trading calendar from one
// table: one synthetic bar per date any of the symbols traded.
func GetCalendarBarsForSymbols(table string, symbols []string, start, end string) ([]backtester.Bar, error) {
	if len(symbols) == 0 {
		return nil, errors.New("symbols must not be empty")
	}
	q := DB.Table(table).
		Select("trade_date, MIN(open) AS open, MIN(high) AS high, MIN(low) AS low, MIN(close) AS close, NULL AS pct_chg").
		Where("ts_code IN ? AND trade_date >= ?", symbols, start)
	if end != "" {
		q = q.Where("trade_date <= ?", end)
	}
	var rows []barRow
	if err := q.Group("trade_date").Order("trade_date").Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load calendar bars from "+table, "")
	}
	return toBars(rows), nil
}

// OpensOn returns symbol -> open price for the given date from table,
// skipping rows without a positive open.
func OpensOn(table, tradeDate string, symbols []string) (map[string]float64, error) {
	return pricesOn(table, "open", tradeDate, symbols)
}

// ClosesOn returns symbol -> close price for the given date from table.
func ClosesOn(table, tradeDate string, symbols []string) (map[string]float64, error) {
	return pricesOn(table, "close", tradeDate, symbols)
}

func pricesOn(table, column, tradeDate string, symbols []string) (map[string]float64, error) {
	type row struct {
		TsCode string
		Price  float64
	}
	var rows []row
	q := DB.Table(table).
		Select("ts_code, "+column+" AS price").
		Where("trade_date = ?", tradeDate)
	if len(symbols) > 0 {
		q = q.Where("ts_code IN ?", symbols)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load "+column+" prices from "+table, "")
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.Price > 0 {
			out[r.TsCode] = r.Price
		}
	}
	return out, nil
}

// LatestTradeDate returns the newest trade date in table for tsCode, or ""
// when the symbol has no rows.
func LatestTradeDate(table, tsCode string) (string, error) {
	return boundaryTradeDate(table, tsCode, "MAX")
}

// EarliestTradeDate returns the oldest trade date in table for tsCode.
func EarliestTradeDate(table, tsCode string) (string, error) {
	return boundaryTradeDate(table, tsCode, "MIN")
}

func boundaryTradeDate(table, tsCode, agg string) (string, error) {
	var date *string
	q := DB.Table(table).Select(agg + "(trade_date)")
	if tsCode != "" {
		q = q.Where("ts_code = ?", tsCode)
	}
	if err := q.Scan(&date).Error; err != nil {
		return "", errors.NewE(err, "query trade date boundary of "+table, "")
	}
	if date == nil {
		return "", nil
	}
	return *date, nil
}
