package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/app/server"
)

type WebTestSuite struct {
	suite.Suite
}

func (suite *WebTestSuite) SetupSuite() {
	logrus.SetLevel(logrus.ErrorLevel)
	models.DB, _ = gorm.Open(sqlite.Open("web_test.sqlite3"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	models.DB.AutoMigrate(&models.DailyBarA{}, &models.StockBasicA{})

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		px := 10 + float64(i)*0.1
		models.DB.Create(&models.DailyBarA{
			TsCode:    "600000.SH",
			TradeDate: day.Format("20060102"),
			Open:      px,
			High:      px,
			Low:       px,
			Close:     px,
		})
		day = day.AddDate(0, 0, 1)
	}
}

func (suite *WebTestSuite) TearDownSuite() {
	os.Remove("web_test.sqlite3")
}

func (suite *WebTestSuite) TestBarsAPIHandler() {
	// normal access
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/bars?symbol=600000.SH&start=2024-01-01", nil)
	server.BarsAPIHandler(recorder, req)
	resp := recorder.Result()

	var body struct {
		Symbol string                   `json:"symbol"`
		Table  string                   `json:"table"`
		Bars   []map[string]interface{} `json:"bars"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	suite.Equal(200, resp.StatusCode)
	suite.Equal("application/json", resp.Header.Get("Content-Type"))
	suite.Equal("600000.SH", body.Symbol)
	suite.Equal("daily_a", body.Table)
	suite.Len(body.Bars, 40)

	// wrong request, when no symbol
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/bars", nil)
	server.BarsAPIHandler(recorder, req)
	resp = recorder.Result()
	raw, _ := io.ReadAll(resp.Body)

	suite.Equal(400, resp.StatusCode)
	suite.Equal("{\"error\":\"bad parameter(symbol)\"}", string(raw))
}

func (suite *WebTestSuite) TestBacktestAPIHandler() {
	// normal access
	recorder := httptest.NewRecorder()
	jsonData, _ := json.Marshal(server.BacktestRequest{
		Strategy: "sma",
		Symbol:   "600000.SH",
		Start:    "20240101",
	})
	req := httptest.NewRequest("POST", "/backtest", bytes.NewReader(jsonData))
	server.BacktestAPIHandler(recorder, req)
	resp := recorder.Result()

	var result server.BacktestResponse
	json.NewDecoder(resp.Body).Decode(&result)

	suite.Equal(200, resp.StatusCode)
	suite.Equal("application/json", resp.Header.Get("Content-Type"))
	suite.Equal("sma", result.Strategy)
	suite.Equal(40, result.Bars)
	suite.Len(result.EquityCurve, 40)
	suite.Greater(result.FinalEquity, 0.0)

	// wrong request, unknown strategy
	recorder = httptest.NewRecorder()
	jsonData, _ = json.Marshal(server.BacktestRequest{Strategy: "nope"})
	req = httptest.NewRequest("POST", "/backtest", bytes.NewReader(jsonData))
	server.BacktestAPIHandler(recorder, req)
	resp = recorder.Result()

	suite.Equal(400, resp.StatusCode)

	// wrong request, GET instead of POST
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/backtest", nil)
	server.BacktestAPIHandler(recorder, req)
	resp = recorder.Result()

	suite.Equal(405, resp.StatusCode)
}

func (suite *WebTestSuite) TestSearchAPIHandler() {
	// wrong request, when no query
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/search", nil)
	server.SearchAPIHandler(recorder, req)
	resp := recorder.Result()
	raw, _ := io.ReadAll(resp.Body)

	suite.Equal(400, resp.StatusCode)
	suite.Equal("{\"error\":\"bad parameter(q)\"}", string(raw))

	// index never built
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/search?q=bank", nil)
	server.SearchAPIHandler(recorder, req)
	resp = recorder.Result()

	suite.Equal(503, resp.StatusCode)
}

func TestWeb(t *testing.T) {
	suite.Run(t, new(WebTestSuite))
}
