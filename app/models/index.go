package models

// TableIndexGlobal holds daily rows of global index proxies (HSI, IXIC).
const TableIndexGlobal = "index_global"

// IndexGlobal is one global-index daily row, keyed by (ts_code, trade_date).
type IndexGlobal struct {
	ID        int     `json:"-"`
	TsCode    string  `json:"ts_code" gorm:"index:idx_index_global_code_date,unique"`
	TradeDate string  `json:"trade_date" gorm:"index:idx_index_global_code_date,unique"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Vol       float64 `json:"vol"`
}

// TableName maps the model to its table
func (IndexGlobal) TableName() string { return TableIndexGlobal }
