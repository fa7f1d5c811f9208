package sync

import (
	"time"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"

	"github.com/oarkflow/qs/app/models"
)

// DefaultStartDate is the first trade date pulled for a symbol with no
// stored history.
const DefaultStartDate = "20120101"

var barFields = []string{
	"ts_code", "trade_date", "open", "high", "low", "close",
	"pre_close", "pct_chg", "vol", "amount",
}

// tableConfig binds one local table to its remote api: which endpoint to
// call, which columns to keep, and where its symbol universe comes from.
type tableConfig struct {
	Table     string
	APIName   string
	Fields    []string
	CodeTable string   // symbol universe from a basics table, or
	Codes     []string // an explicit code list
}

var tableConfigs = []tableConfig{
	{Table: models.TableDailyA, APIName: "daily", Fields: barFields, CodeTable: "stock_basic_a"},
	{Table: models.TableAdjFactorA, APIName: "adj_factor", Fields: []string{"ts_code", "trade_date", "adj_factor"}, CodeTable: "stock_basic_a"},
	{Table: models.TableExtDailyA, APIName: "bak_daily", Fields: []string{"ts_code", "trade_date", "pe", "total_mv"}, CodeTable: "stock_basic_a"},
	{Table: models.TableDailyH, APIName: "hk_daily", Fields: barFields, CodeTable: "stock_basic_h"},
	{Table: models.TableAdjFactorH, APIName: "hk_daily_adj", Fields: []string{"ts_code", "trade_date", "adj_factor"}, CodeTable: "stock_basic_h"},
	{Table: "fx_daily", APIName: "fx_daily", Fields: []string{"ts_code", "trade_date", "bid_close", "ask_close"}, Codes: []string{models.FxUsdCnh, models.FxUsdHkd}},
}

// Syncer runs the incremental table sync. Each (table, symbol) pair tracks
// its own progress: a day is only marked synced once new rows actually
// landed, so a table whose upstream lags (factors publishing after bars)
// gets retried on the next run of the same day.
type Syncer struct {
	Client    *Client
	StartDate string
	Today     string
}

// NewSyncer returns a syncer starting empty symbols at DefaultStartDate.
func NewSyncer(client *Client) *Syncer {
	return &Syncer{
		Client:    client,
		StartDate: DefaultStartDate,
		Today:     time.Now().Format("20060102"),
	}
}

// SyncAll syncs the basics tables first, then every configured daily table.
func (s *Syncer) SyncAll() error {
	if err := s.SyncStockBasics(); err != nil {
		return err
	}
	for _, cfg := range tableConfigs {
		if err := s.syncTable(cfg); err != nil {
			return err
		}
	}
	return nil
}

// SyncTable syncs a single table by name.
func (s *Syncer) SyncTable(table string) error {
	for _, cfg := range tableConfigs {
		if cfg.Table == table {
			return s.syncTable(cfg)
		}
	}
	return errors.New("unknown sync table: " + table)
}

func (s *Syncer) universe(cfg tableConfig) ([]string, error) {
	if len(cfg.Codes) > 0 {
		return cfg.Codes, nil
	}
	var codes []string
	if err := models.DB.Table(cfg.CodeTable).Order("ts_code").Pluck("ts_code", &codes).Error; err != nil {
		return nil, errors.NewE(err, "load symbol universe from "+cfg.CodeTable, "")
	}
	return codes, nil
}

func (s *Syncer) syncTable(cfg tableConfig) error {
	codes, err := s.universe(cfg)
	if err != nil {
		return err
	}
	log.Info().Str("table", cfg.Table).Int("symbols", len(codes)).Msg("sync table")

	for _, code := range codes {
		if err := s.syncSymbol(cfg, code); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncSymbol(cfg tableConfig, code string) error {
	state, err := models.GetSyncState(cfg.Table, code)
	if err != nil {
		return err
	}
	if state != nil && state.LastDate == s.Today {
		return nil
	}

	latest, err := models.LatestTradeDate(cfg.Table, code)
	if err != nil {
		return err
	}
	start := s.StartDate
	if latest != "" {
		start, err = nextDay(latest)
		if err != nil {
			return err
		}
	}
	if start > s.Today {
		return models.MarkSynced(cfg.Table, code, s.Today)
	}

	rows, err := s.Client.Fetch(cfg.APIName, map[string]string{
		"ts_code":    code,
		"start_date": start,
		"end_date":   s.Today,
	}, cfg.Fields)
	if err != nil {
		return err
	}

	inserted := int64(0)
	if len(rows) > 0 {
		inserted, err = models.CreateDailyBars(cfg.Table, filterColumns(rows, cfg.Fields))
		if err != nil {
			return err
		}
		log.Info().
			Str("table", cfg.Table).
			Str("ts_code", code).
			Int64("inserted", inserted).
			Int("fetched", len(rows)).
			Msg("sync symbol")
	}

	// A catch-up window that reached today without producing rows is left
	// unmarked: today's data may simply not be published yet.
	if inserted > 0 || start < s.Today {
		return models.MarkSynced(cfg.Table, code, s.Today)
	}
	return nil
}

// SyncStockBasics refreshes the A- and H-share security metadata, listed
// and delisted names both.
func (s *Syncer) SyncStockBasics() error {
	var aRows []models.StockBasicA
	for _, status := range []string{"L", "D"} {
		rows, err := s.Client.Fetch("stock_basic",
			map[string]string{"list_status": status},
			[]string{"ts_code", "name", "industry", "market", "list_date", "delist_date"})
		if err != nil {
			return err
		}
		for _, r := range rows {
			aRows = append(aRows, models.StockBasicA{
				TsCode:     str(r, "ts_code"),
				Name:       str(r, "name"),
				Industry:   str(r, "industry"),
				Market:     str(r, "market"),
				ListDate:   str(r, "list_date"),
				DelistDate: str(r, "delist_date"),
			})
		}
	}
	if err := models.UpsertStockBasicsA(aRows); err != nil {
		return err
	}
	log.Info().Int("rows", len(aRows)).Msg("synced stock_basic_a")

	var hRows []models.StockBasicH
	for _, status := range []string{"L", "D"} {
		rows, err := s.Client.Fetch("hk_basic",
			map[string]string{"list_status": status},
			[]string{"ts_code", "name", "list_date", "delist_date"})
		if err != nil {
			return err
		}
		for _, r := range rows {
			hRows = append(hRows, models.StockBasicH{
				TsCode:     str(r, "ts_code"),
				Name:       str(r, "name"),
				ListDate:   str(r, "list_date"),
				DelistDate: str(r, "delist_date"),
			})
		}
	}
	if err := models.UpsertStockBasicsH(hRows); err != nil {
		return err
	}
	log.Info().Int("rows", len(hRows)).Msg("synced stock_basic_h")
	return nil
}

// filterColumns keeps only the configured columns of each row, dropping
// anything extra the api returned.
func filterColumns(rows []map[string]interface{}, fields []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		row := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			if v, ok := r[f]; ok && v != nil {
				row[f] = v
			}
		}
		if len(row) > 0 {
			out = append(out, row)
		}
	}
	return out
}

func str(row map[string]interface{}, key string) string {
	v, ok := convert.ToString(row[key])
	if !ok {
		return ""
	}
	return v
}

func nextDay(date string) (string, error) {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return "", errors.NewE(err, "parse trade date "+date, "")
	}
	return t.AddDate(0, 0, 1).Format("20060102"), nil
}
