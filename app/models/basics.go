package models

import (
	"github.com/oarkflow/errors"
	"gorm.io/gorm/clause"
)

// StockBasicA is A-share security metadata, including its delisting date
// ("" while listed).
type StockBasicA struct {
	ID         int    `json:"-"`
	TsCode     string `json:"ts_code" gorm:"uniqueIndex"`
	Name       string `json:"name"`
	Industry   string `json:"industry"`
	Market     string `json:"market"`
	ListDate   string `json:"list_date"`
	DelistDate string `json:"delist_date"`
}

// TableName maps the model to its table
func (StockBasicA) TableName() string { return "stock_basic_a" }

// StockBasicH is H-share security metadata.
type StockBasicH struct {
	ID         int    `json:"-"`
	TsCode     string `json:"ts_code" gorm:"uniqueIndex"`
	Name       string `json:"name"`
	ListDate   string `json:"list_date"`
	DelistDate string `json:"delist_date"`
}

// TableName maps the model to its table
func (StockBasicH) TableName() string { return "stock_basic_h" }

// UpsertStockBasicsA replaces A-share metadata rows on ts_code conflicts.
func UpsertStockBasicsA(rows []StockBasicA) error {
	if len(rows) == 0 {
		return nil
	}
	if err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ts_code"}},
		UpdateAll: true,
	}).Create(&rows).Error; err != nil {
		return errors.NewE(err, "upsert stock_basic_a", "")
	}
	return nil
}

// UpsertStockBasicsH replaces H-share metadata rows on ts_code conflicts.
func UpsertStockBasicsH(rows []StockBasicH) error {
	if len(rows) == 0 {
		return nil
	}
	if err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ts_code"}},
		UpdateAll: true,
	}).Create(&rows).Error; err != nil {
		return errors.NewE(err, "upsert stock_basic_h", "")
	}
	return nil
}

// DelistDatesA returns ts_code -> delist date for every delisted A-share in
// the given set (all of them when symbols is empty).
func DelistDatesA(symbols []string) (map[string]string, error) {
	var rows []StockBasicA
	q := DB.Where("delist_date IS NOT NULL AND delist_date <> ''")
	if len(symbols) > 0 {
		q = q.Where("ts_code IN ?", symbols)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load delist dates", "")
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.TsCode] = r.DelistDate
	}
	return out, nil
}

// SearchableStocks returns all A-share metadata rows for search indexing.
func SearchableStocks() ([]StockBasicA, error) {
	var rows []StockBasicA
	if err := DB.Order("ts_code").Find(&rows).Error; err != nil {
		return nil, errors.NewE(err, "load stock_basic_a", "")
	}
	return rows, nil
}
