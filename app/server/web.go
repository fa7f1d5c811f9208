package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/araddon/dateparse"
	"github.com/oarkflow/search"
	"github.com/sirupsen/logrus"

	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/backtester"
	"github.com/oarkflow/qs/config"
	"github.com/oarkflow/qs/strategy"
)

// JSONError is json error massage
type JSONError struct {
	Error string `json:"error"`
}

func errorAPI(w http.ResponseWriter, message string, code int) {
	jsonMessage, err := json.Marshal(JSONError{Error: message})
	if err != nil {
		logrus.Warnf("error message create error: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(code)
	w.Write(jsonMessage)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		logrus.Warnf("response json error: %v", err)
		errorAPI(w, "response json error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

// IndexAPIHandler lists the api surface, when path is "/"
func IndexAPIHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]interface{}{
		"service":   "qs",
		"endpoints": []string{"/bars", "/backtest", "/search"},
	})
}

// normalizeDate accepts both 20240102 and looser forms like 2024-01-02.
func normalizeDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return "", err
	}
	return t.Format("20060102"), nil
}

// BarsAPIHandler returns one symbol's daily bars as JSON,
// when path is "/bars"
func BarsAPIHandler(w http.ResponseWriter, req *http.Request) {
	logrus.Infof("bars get request: url -> %s", req.URL)

	symbol := req.URL.Query().Get("symbol")
	if symbol == "" {
		errorAPI(w, "bad parameter(symbol)", http.StatusBadRequest)
		return
	}
	table := req.URL.Query().Get("table")
	if table == "" {
		table = models.TableDailyA
	}
	start, err := normalizeDate(req.URL.Query().Get("start"))
	if err != nil {
		errorAPI(w, "bad parameter(start)", http.StatusBadRequest)
		return
	}
	end, err := normalizeDate(req.URL.Query().Get("end"))
	if err != nil {
		errorAPI(w, "bad parameter(end)", http.StatusBadRequest)
		return
	}

	bars, err := models.GetBars(table, symbol, start, end)
	if err != nil {
		logrus.Warnf("bars load error: %v", err)
		errorAPI(w, fmt.Sprintf("bars load error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"symbol": symbol, "table": table, "bars": bars})
}

// BacktestRequest is the POST body of /backtest.
type BacktestRequest struct {
	Strategy string   `json:"strategy"`
	Symbol   string   `json:"symbol"`
	Symbols  []string `json:"symbols"`
	Table    string   `json:"table"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Cash     float64  `json:"cash"`
	PairsCSV string   `json:"pairs_csv"`
	TradeLog bool     `json:"trade_log"`
}

// BacktestResponse summarizes one run for the API client.
type BacktestResponse struct {
	Strategy      string                     `json:"strategy"`
	Bars          int                        `json:"bars"`
	InitialCash   float64                    `json:"initial_cash"`
	FinalEquity   float64                    `json:"final_equity"`
	ReturnPct     float64                    `json:"return_pct"`
	TotalFees     float64                    `json:"total_fees"`
	AnnualReturns []backtester.AnnualReturn  `json:"annual_returns"`
	MaxDrawdown   float64                    `json:"max_drawdown"`
	DDPeak        string                     `json:"dd_peak"`
	DDTrough      string                     `json:"dd_trough"`
	Risk          *backtester.RiskMetrics    `json:"risk,omitempty"`
	Trades        []backtester.TradeRecord   `json:"trades,omitempty"`
	EquityCurve   []backtester.EquityPoint   `json:"equity_curve"`
}

func buildRun(req BacktestRequest) ([]backtester.Bar, backtester.Strategy, backtester.RunOptions, error) {
	opts := backtester.RunOptions{
		InitialCash:    req.Cash,
		EnableTradeLog: req.TradeLog,
	}
	table := req.Table
	if table == "" {
		table = models.TableDailyA
	}

	switch req.Strategy {
	case "sma":
		if req.Symbol == "" {
			return nil, nil, opts, fmt.Errorf("sma strategy needs a symbol")
		}
		bars, err := models.GetBars(table, req.Symbol, req.Start, req.End)
		if err != nil {
			return nil, nil, opts, err
		}
		opts.Symbol = req.Symbol
		return bars, strategy.NewSMACross(0, 0), opts, nil

	case "pair":
		if len(req.Symbols) != 2 {
			return nil, nil, opts, fmt.Errorf("pair strategy needs symbols [a_code, h_code]")
		}
		ctx, err := strategy.NewPairContextFromDB(req.Symbols[1], req.Start, req.End)
		if err != nil {
			return nil, nil, opts, err
		}
		bars, err := models.GetBars(models.TableDailyA, req.Symbols[0], req.Start, req.End)
		if err != nil {
			return nil, nil, opts, err
		}
		return bars, strategy.NewPairRotation(req.Symbols[0], req.Symbols[1], ctx), opts, nil

	case "equalweight":
		if len(req.Symbols) == 0 {
			return nil, nil, opts, fmt.Errorf("equalweight strategy needs symbols")
		}
		bars, err := models.GetCalendarBarsForSymbols(table, req.Symbols, req.Start, req.End)
		if err != nil {
			return nil, nil, opts, err
		}
		return bars, strategy.NewEqualWeightAnnual(req.Symbols, req.Start), opts, nil

	case "premium", "lowpe":
		pairsCSV := req.PairsCSV
		if pairsCSV == "" {
			pairsCSV = strategy.DefaultPairsCSV
		}
		pairs, err := strategy.LoadPairs(pairsCSV)
		if err != nil {
			return nil, nil, opts, err
		}
		bars, err := models.GetCalendarBars(req.Start, req.End)
		if err != nil {
			return nil, nil, opts, err
		}
		if req.Strategy == "premium" {
			return bars, strategy.NewAHPremiumQuarterly(pairs, 5, 5, req.Start), opts, nil
		}
		return bars, strategy.NewLowPEQuarterly(pairs, 5, 5, req.Start), opts, nil
	}
	return nil, nil, opts, fmt.Errorf("unknown strategy: %s", req.Strategy)
}

// BacktestAPIHandler executes a backtest and returns its summary,
// when path is "/backtest"
func BacktestAPIHandler(w http.ResponseWriter, req *http.Request) {
	logrus.Info("backtest request")
	if req.Method != http.MethodPost {
		errorAPI(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var bt BacktestRequest
	if err := json.NewDecoder(req.Body).Decode(&bt); err != nil {
		logrus.Warnf("backtest params error: %v", err)
		errorAPI(w, fmt.Sprintf("backtest params error: %v", err), http.StatusBadRequest)
		return
	}
	var err error
	if bt.Start, err = normalizeDate(bt.Start); err != nil {
		errorAPI(w, "bad parameter(start)", http.StatusBadRequest)
		return
	}
	if bt.End, err = normalizeDate(bt.End); err != nil {
		errorAPI(w, "bad parameter(end)", http.StatusBadRequest)
		return
	}

	bars, strat, opts, err := buildRun(bt)
	if err != nil {
		logrus.Warnf("backtest build error: %v", err)
		errorAPI(w, fmt.Sprintf("backtest build error: %v", err), http.StatusBadRequest)
		return
	}

	result, err := backtester.RunBacktest(bars, strat, opts)
	if err != nil {
		logrus.Warnf("backtest error: %v", err)
		errorAPI(w, fmt.Sprintf("backtest error: %v", err), http.StatusInternalServerError)
		return
	}

	resp := BacktestResponse{
		Strategy:      bt.Strategy,
		Bars:          len(result.EquityCurve),
		InitialCash:   result.InitialCash,
		FinalEquity:   result.FinalEquity,
		ReturnPct:     (result.FinalEquity/result.InitialCash - 1) * 100,
		TotalFees:     result.Broker.TotalFees,
		AnnualReturns: result.AnnualReturns,
		MaxDrawdown:   result.MaxDrawdown,
		DDPeak:        result.DDPeak,
		DDTrough:      result.DDTrough,
		EquityCurve:   result.EquityCurve,
	}
	if result.HasRisk {
		resp.Risk = &result.Risk
	}
	if bt.TradeLog {
		resp.Trades = result.Broker.Trades
	}
	writeJSON(w, resp)
}

const searchEngineKey = "stocks"

// InitSearchIndex loads the security metadata into the in-process search
// engine backing /search.
func InitSearchIndex() error {
	stocks, err := models.SearchableStocks()
	if err != nil {
		return err
	}
	docs := make([]map[string]any, 0, len(stocks))
	for _, s := range stocks {
		docs = append(docs, map[string]any{
			"ts_code":     s.TsCode,
			"name":        s.Name,
			"industry":    s.Industry,
			"market":      s.Market,
			"list_date":   s.ListDate,
			"delist_date": s.DelistDate,
		})
	}
	engine, err := search.SetEngine[map[string]any](searchEngineKey, &search.Config{})
	if err != nil {
		return err
	}
	logrus.Infof("indexing %d securities", len(docs))
	engine.InsertWithPool(docs, runtime.NumCPU(), 1000)
	logrus.Info("security index ready")
	return nil
}

// SearchAPIHandler looks up securities by code, name or industry,
// when path is "/search"
func SearchAPIHandler(w http.ResponseWriter, req *http.Request) {
	logrus.Infof("search request: url -> %s", req.URL)

	query := req.URL.Query().Get("q")
	if query == "" {
		errorAPI(w, "bad parameter(q)", http.StatusBadRequest)
		return
	}
	engine, err := search.GetEngine[map[string]any](searchEngineKey)
	if err != nil {
		logrus.Warnf("search engine error: %v", err)
		errorAPI(w, "search index not ready", http.StatusServiceUnavailable)
		return
	}
	result, err := engine.Search(&search.Params{
		Query:      query,
		Properties: []string{"ts_code", "name", "industry"},
	})
	if err != nil {
		logrus.Warnf("search error: %v", err)
		errorAPI(w, fmt.Sprintf("search error: %v", err), http.StatusInternalServerError)
		return
	}
	hits := make([]map[string]any, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, hit.Data)
	}
	writeJSON(w, map[string]interface{}{"query": query, "count": len(hits), "hits": hits})
}

// Handler returns the api routing table.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", IndexAPIHandler)
	mux.HandleFunc("/bars", BarsAPIHandler)
	mux.HandleFunc("/backtest", BacktestAPIHandler)
	mux.HandleFunc("/search", SearchAPIHandler)
	return mux
}

// Run starts webserver
func Run() {
	logrus.Info("server start")
	if err := InitSearchIndex(); err != nil {
		logrus.Warnf("search index error: %v", err)
	}
	logrus.Fatalln(http.ListenAndServe(fmt.Sprintf("%s:%d", config.Config.IP, config.Config.Port), Handler()))
}
