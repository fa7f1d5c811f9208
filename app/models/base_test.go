package models_test

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oarkflow/qs/app/models"
)

type ModelsTestSuite struct {
	suite.Suite
}

func f(v float64) *float64 { return &v }

func (suite *ModelsTestSuite) SetupSuite() {
	logrus.SetLevel(logrus.ErrorLevel)
	models.DB, _ = gorm.Open(sqlite.Open("models_test.sqlite3"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})

	models.DB.AutoMigrate(
		&models.DailyBarA{},
		&models.DailyBarH{},
		&models.AdjFactorA{},
		&models.AdjFactorH{},
		&models.FxDaily{},
		&models.StockBasicA{},
		&models.StockBasicH{},
		&models.ExtDailyA{},
		&models.SyncState{},
	)

	models.DB.Create(&[]models.DailyBarA{
		{TsCode: "000001.SZ", TradeDate: "20240101", Open: 9.8, High: 10.1, Low: 9.7, Close: 10, PctChg: 1.0},
		{TsCode: "000001.SZ", TradeDate: "20240102", Open: 10.2, High: 11.2, Low: 10.1, Close: 11, PctChg: 10.0},
		{TsCode: "000001.SZ", TradeDate: "20240103", Open: 11.1, High: 12.3, Low: 11.0, Close: 12, PctChg: 9.1},
		{TsCode: "000002.SZ", TradeDate: "20240102", Open: 20, High: 21, Low: 19, Close: 20.5, PctChg: 0.5},
	})
	models.DB.Create(&[]models.DailyBarH{
		{TsCode: "00700.HK", TradeDate: "20240102", Open: 300, High: 305, Low: 298, Close: 302, PctChg: 0.2},
		{TsCode: "00700.HK", TradeDate: "20240104", Open: 304, High: 310, Low: 303, Close: 309, PctChg: 2.3},
	})
	models.DB.Create(&[]models.AdjFactorA{
		{TsCode: "000001.SZ", TradeDate: "20240101", AdjFactor: 1.0},
		{TsCode: "000001.SZ", TradeDate: "20240103", AdjFactor: 2.0},
	})
	models.DB.Create(&[]models.FxDaily{
		{TsCode: models.FxUsdCnh, TradeDate: "20240101", BidClose: 7.1, AskClose: 7.3},
		{TsCode: models.FxUsdHkd, TradeDate: "20240101", BidClose: 7.7, AskClose: 7.9},
		{TsCode: models.FxUsdCnh, TradeDate: "20240102", BidClose: 7.2, AskClose: 7.4},
		{TsCode: models.FxUsdCnh, TradeDate: "20240103", BidClose: 7.2, AskClose: 7.4},
		{TsCode: models.FxUsdHkd, TradeDate: "20240103", BidClose: 7.7, AskClose: 7.9},
	})
	models.DB.Create(&[]models.StockBasicA{
		{TsCode: "000001.SZ", Name: "PAB", Industry: "bank", ListDate: "19910403"},
		{TsCode: "000002.SZ", Name: "Vanke", Industry: "estate", ListDate: "19910129"},
		{TsCode: "000003.SZ", Name: "Gone", DelistDate: "20230101"},
	})
	models.DB.Create(&[]models.ExtDailyA{
		{TsCode: "000001.SZ", TradeDate: "20240102", PE: f(8.0)},
		{TsCode: "000002.SZ", TradeDate: "20240102", PE: nil},
		{TsCode: "000003.SZ", TradeDate: "20240102", PE: f(5.0)},
	})
}

func (suite *ModelsTestSuite) TearDownSuite() {
	os.Remove("models_test.sqlite3")
}

func (suite *ModelsTestSuite) TestGetBars() {
	bars, err := models.GetBars(models.TableDailyA, "000001.SZ", "20240101", "")
	suite.NoError(err)
	suite.Len(bars, 3)
	suite.Equal("20240101", bars[0].TradeDate)
	suite.Equal(10.0, bars[0].Close)
	suite.NotNil(bars[0].PctChg)
	suite.Equal(1.0, *bars[0].PctChg)

	bars, err = models.GetBars(models.TableDailyA, "000001.SZ", "20240101", "20240102")
	suite.NoError(err)
	suite.Len(bars, 2)
}

func (suite *ModelsTestSuite) TestCalendarBarsUnionAH() {
	bars, err := models.GetCalendarBars("20240101", "")
	suite.NoError(err)
	suite.Len(bars, 4)
	suite.Equal("20240101", bars[0].TradeDate)
	suite.Equal("20240104", bars[3].TradeDate)
	suite.Nil(bars[0].PctChg)
}

func (suite *ModelsTestSuite) TestCalendarBarsForSymbols() {
	bars, err := models.GetCalendarBarsForSymbols(
		models.TableDailyA, []string{"000001.SZ", "000002.SZ"}, "20240101", "")
	suite.NoError(err)
	suite.Len(bars, 3)

	_, err = models.GetCalendarBarsForSymbols(models.TableDailyA, nil, "20240101", "")
	suite.Error(err)
}

func (suite *ModelsTestSuite) TestCreateDailyBarsIgnoresDuplicates() {
	rows := []map[string]interface{}{
		{"ts_code": "600000.SH", "trade_date": "20240101", "open": 7.0, "high": 7.2,
			"low": 6.9, "close": 7.1, "pre_close": 7.0, "pct_chg": 1.4, "vol": 1000.0, "amount": 7100.0},
	}
	n, err := models.CreateDailyBars(models.TableDailyA, rows)
	suite.NoError(err)
	suite.Equal(int64(1), n)

	n, err = models.CreateDailyBars(models.TableDailyA, rows)
	suite.NoError(err)
	suite.Equal(int64(0), n)
}

func (suite *ModelsTestSuite) TestTradeDateBoundaries() {
	latest, err := models.LatestTradeDate(models.TableDailyA, "000001.SZ")
	suite.NoError(err)
	suite.Equal("20240103", latest)

	earliest, err := models.EarliestTradeDate(models.TableDailyA, "000001.SZ")
	suite.NoError(err)
	suite.Equal("20240101", earliest)

	latest, err = models.LatestTradeDate(models.TableDailyA, "999999.SZ")
	suite.NoError(err)
	suite.Equal("", latest)
}

func (suite *ModelsTestSuite) TestOpensAndClosesOn() {
	opens, err := models.OpensOn(models.TableDailyA, "20240102", []string{"000001.SZ", "000002.SZ"})
	suite.NoError(err)
	suite.Equal(10.2, opens["000001.SZ"])
	suite.Equal(20.0, opens["000002.SZ"])

	closes, err := models.ClosesOn(models.TableDailyA, "20240103", nil)
	suite.NoError(err)
	suite.Equal(map[string]float64{"000001.SZ": 12.0}, closes)
}

func (suite *ModelsTestSuite) TestAdjFactors() {
	latest, err := models.LatestAdjFactors(models.TableAdjFactorA, []string{"000001.SZ"})
	suite.NoError(err)
	suite.Equal(2.0, latest["000001.SZ"])

	on, err := models.AdjFactorsOn(models.TableAdjFactorA, "20240101", nil)
	suite.NoError(err)
	suite.Equal(1.0, on["000001.SZ"])

	adjusted, err := models.AdjustedPricesOn(
		models.TableDailyA, models.TableAdjFactorA, "close", "20240103", []string{"000001.SZ"})
	suite.NoError(err)
	suite.InDelta(24.0, adjusted["000001.SZ"], 1e-9)
}

func (suite *ModelsTestSuite) TestFxRateCache() {
	cache, err := models.LoadFxRateCache()
	suite.NoError(err)
	// 20240102 has only one leg of the cross, so two usable dates remain
	suite.Equal(2, cache.Len())

	rate, ok := cache.HkToCnyRate("20240102")
	suite.True(ok)
	suite.InDelta(7.2/7.8, rate, 1e-9)

	_, ok = cache.HkToCnyRate("20231231")
	suite.False(ok)
}

func (suite *ModelsTestSuite) TestSyncState() {
	st, err := models.GetSyncState(models.TableDailyA, "000001.SZ")
	suite.NoError(err)
	suite.Nil(st)

	suite.NoError(models.MarkSynced(models.TableDailyA, "000001.SZ", "20240103"))
	st, err = models.GetSyncState(models.TableDailyA, "000001.SZ")
	suite.NoError(err)
	suite.NotNil(st)
	suite.Equal("20240103", st.LastDate)

	suite.NoError(models.MarkSynced(models.TableDailyA, "000001.SZ", "20240104"))
	st, _ = models.GetSyncState(models.TableDailyA, "000001.SZ")
	suite.Equal("20240104", st.LastDate)
}

func (suite *ModelsTestSuite) TestLowestPEStocks() {
	ranked, err := models.LowestPEStocks("20240105", 0, 10)
	suite.NoError(err)
	// the delisted name and the nil-PE name are both excluded
	suite.Len(ranked, 1)
	suite.Equal("000001.SZ", ranked[0].TsCode)
	suite.Equal(8.0, ranked[0].PE)
}

func (suite *ModelsTestSuite) TestDelistDates() {
	delisted, err := models.DelistDatesA(nil)
	suite.NoError(err)
	suite.Equal(map[string]string{"000003.SZ": "20230101"}, delisted)
}

func (suite *ModelsTestSuite) TestLatestClosesOnOrBefore() {
	// 00700.HK did not trade on 20240103; its 20240102 close carries over
	marks, err := models.LatestClosesOnOrBefore(
		models.TableDailyH, models.TableAdjFactorH, "20240103", []string{"00700.HK"})
	suite.NoError(err)
	suite.Equal(302.0, marks["00700.HK"])

	marks, err = models.LatestClosesOnOrBefore(
		models.TableDailyA, models.TableAdjFactorA, "20240103", []string{"000001.SZ"})
	suite.NoError(err)
	suite.InDelta(24.0, marks["000001.SZ"], 1e-9)
}

func (suite *ModelsTestSuite) TestLatestTradeDateOnOrBefore() {
	asOf, err := models.LatestTradeDateOnOrBefore(models.TableDailyH, "20240103")
	suite.NoError(err)
	suite.Equal("20240102", asOf)

	asOf, err = models.LatestTradeDateOnOrBefore(models.TableDailyH, "20231231")
	suite.NoError(err)
	suite.Equal("", asOf)
}

func (suite *ModelsTestSuite) TestPEsOn() {
	pes, err := models.PEsOn("20240102", nil, 0)
	suite.NoError(err)
	suite.Equal(map[string]float64{"000001.SZ": 8.0, "000003.SZ": 5.0}, pes)

	pes, err = models.PEsOn("20240102", []string{"000001.SZ"}, 0)
	suite.NoError(err)
	suite.Equal(map[string]float64{"000001.SZ": 8.0}, pes)
}

func TestModels(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
