package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/oarkflow/xid"
	"github.com/sirupsen/logrus"

	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/app/server"
	"github.com/oarkflow/qs/backtester"
	"github.com/oarkflow/qs/config"
	"github.com/oarkflow/qs/log"
	"github.com/oarkflow/qs/scrape"
	"github.com/oarkflow/qs/strategy"
	qssync "github.com/oarkflow/qs/sync"
)

type cliFlags struct {
	serve       bool
	sync        bool
	syncTable   string
	scrapePairs bool

	feed       string
	strategy   string
	symbol     string
	symbols    string
	table      string
	start      string
	end        string
	cash       float64
	logTrades  bool
	markPolicy string
	outDir     string
	tag        string
	pairsCSV   string
	short      int
	long       int
	topK       int
	bottomK    int
	aK         int
	hK         int
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.BoolVar(&f.serve, "serve", false, "start the HTTP API server")
	flag.BoolVar(&f.sync, "sync", false, "run the incremental data sync")
	flag.StringVar(&f.syncTable, "sync-table", "", "sync a single table instead of all")
	flag.BoolVar(&f.scrapePairs, "scrape-pairs", false, "rebuild data/ah_codes.csv from the public pair table")

	flag.StringVar(&f.feed, "feed", "single", "bar feed: single, calendar_ah or calendar_symbols")
	flag.StringVar(&f.strategy, "strategy", "sma", "strategy: sma, pair, equalweight, premium or lowpe")
	flag.StringVar(&f.symbol, "symbol", "", "symbol for single-symbol strategies")
	flag.StringVar(&f.symbols, "symbols", "", "comma-separated symbol list")
	flag.StringVar(&f.table, "table", models.TableDailyA, "daily bar table")
	flag.StringVar(&f.start, "start", "", "start date")
	flag.StringVar(&f.end, "end", "", "end date")
	flag.Float64Var(&f.cash, "cash", 0, "initial cash (0 = config default)")
	flag.BoolVar(&f.logTrades, "log-trades", false, "echo every fill to the log")
	flag.StringVar(&f.markPolicy, "mark-error-policy", "", "mark error policy: raise, warn or ignore")
	flag.StringVar(&f.outDir, "out-dir", "", "output directory for result CSVs")
	flag.StringVar(&f.tag, "tag", "", "run tag used in output file names")
	flag.StringVar(&f.pairsCSV, "pairs-csv", strategy.DefaultPairsCSV, "A/H pair table path")
	flag.IntVar(&f.short, "short", 0, "short SMA period")
	flag.IntVar(&f.long, "long", 0, "long SMA period")
	flag.IntVar(&f.topK, "top-k", 5, "premium: number of H legs")
	flag.IntVar(&f.bottomK, "bottom-k", 5, "premium: number of A legs")
	flag.IntVar(&f.aK, "a-k", 5, "lowpe: number of A picks")
	flag.IntVar(&f.hK, "h-k", 0, "lowpe: number of implied-PE H picks")
	flag.Parse()
	return f
}

func parseDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		logrus.Fatalf("bad date %q: %v", s, err)
	}
	return t.Format("20060102")
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadBars(f cliFlags, symbols []string) []backtester.Bar {
	var (
		bars []backtester.Bar
		err  error
	)
	switch f.feed {
	case "single":
		if f.symbol == "" {
			logrus.Fatal("-feed single needs -symbol")
		}
		bars, err = models.GetBars(f.table, f.symbol, f.start, f.end)
	case "calendar_ah":
		bars, err = models.GetCalendarBars(f.start, f.end)
	case "calendar_symbols":
		bars, err = models.GetCalendarBarsForSymbols(f.table, symbols, f.start, f.end)
	default:
		logrus.Fatalf("unknown feed: %s", f.feed)
	}
	if err != nil {
		logrus.Fatalf("load bars: %v", err)
	}
	if len(bars) == 0 {
		logrus.Fatal("no bars in the requested range")
	}
	return bars
}

func buildStrategy(f cliFlags, symbols []string) backtester.Strategy {
	switch f.strategy {
	case "sma":
		return strategy.NewSMACross(f.short, f.long)
	case "pair":
		if len(symbols) != 2 {
			logrus.Fatal("-strategy pair needs -symbols a_code,h_code")
		}
		ctx, err := strategy.NewPairContextFromDB(symbols[1], f.start, f.end)
		if err != nil {
			logrus.Fatalf("load pair context: %v", err)
		}
		return strategy.NewPairRotation(symbols[0], symbols[1], ctx)
	case "equalweight":
		if len(symbols) == 0 {
			logrus.Fatal("-strategy equalweight needs -symbols")
		}
		return strategy.NewEqualWeightAnnual(symbols, f.start)
	case "premium":
		pairs, err := strategy.LoadPairs(f.pairsCSV)
		if err != nil {
			logrus.Fatalf("load pairs: %v", err)
		}
		return strategy.NewAHPremiumQuarterly(pairs, f.topK, f.bottomK, f.start)
	case "lowpe":
		pairs, err := strategy.LoadPairs(f.pairsCSV)
		if err != nil {
			logrus.Fatalf("load pairs: %v", err)
		}
		return strategy.NewLowPEQuarterly(pairs, f.aK, f.hK, f.start)
	}
	logrus.Fatalf("unknown strategy: %s", f.strategy)
	return nil
}

func runBacktest(f cliFlags) {
	symbols := splitSymbols(f.symbols)
	bars := loadBars(f, symbols)
	strat := buildStrategy(f, symbols)

	cash := f.cash
	if cash == 0 {
		cash = config.Config.InitialCash
	}
	policy := f.markPolicy
	if policy == "" {
		policy = config.Config.MarkErrorPolicy
	}
	opts := backtester.RunOptions{
		InitialCash:     cash,
		EnableTradeLog:  f.logTrades,
		MarkErrorPolicy: backtester.MarkErrorPolicy(policy),
	}
	if f.feed == "single" {
		opts.Symbol = f.symbol
	}

	result, err := backtester.RunBacktest(bars, strat, opts)
	if err != nil {
		logrus.Fatalf("backtest: %v", err)
	}

	tag := f.tag
	if tag == "" {
		tag = xid.New().String()
	}
	outDir := f.outDir
	if outDir == "" {
		outDir = config.Config.OutDir
	}
	equityPath := filepath.Join(outDir, fmt.Sprintf("equity_%s.csv", tag))
	tradesPath := filepath.Join(outDir, fmt.Sprintf("trades_%s.csv", tag))
	if err := backtester.WriteEquityCurveCSV(result.EquityCurve, equityPath); err != nil {
		logrus.Fatalf("write equity curve: %v", err)
	}
	if err := backtester.WriteTradesCSV(result.Broker, tradesPath); err != nil {
		logrus.Fatalf("write trades: %v", err)
	}

	result.WriteSummary(os.Stdout)
	fmt.Printf("Equity curve: %s\n", equityPath)
	fmt.Printf("Trades: %s\n", tradesPath)
}

func runSync(f cliFlags) {
	syncer := qssync.NewSyncer(qssync.NewClient(
		config.Config.TushareURL,
		config.Config.TushareToken,
		config.Config.SyncRateLimit,
	))
	var err error
	if f.syncTable != "" {
		err = syncer.SyncTable(f.syncTable)
	} else {
		err = syncer.SyncAll()
	}
	if err != nil {
		logrus.Fatalf("sync: %v", err)
	}
	if f.syncTable == "" {
		if err := qssync.SyncGlobalIndexes(syncer.StartDate); err != nil {
			logrus.Fatalf("sync global indexes: %v", err)
		}
	}
}

func main() {
	f := parseFlags()
	f.start = parseDate(f.start)
	f.end = parseDate(f.end)

	config.InitConfig()
	log.SetLogging()
	models.InitDB()

	switch {
	case f.scrapePairs:
		if _, err := scrape.Scrape("", f.pairsCSV); err != nil {
			logrus.Fatalf("scrape pairs: %v", err)
		}
	case f.sync:
		runSync(f)
	case f.serve:
		server.Run()
	default:
		runBacktest(f)
	}
}
