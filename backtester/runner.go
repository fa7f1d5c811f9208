package backtester

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultInitialCash is the starting cash when the caller does not specify one.
const DefaultInitialCash = 1_000_000.0

// RunOptions configures a single RunBacktest call.
type RunOptions struct {
	InitialCash     float64
	Symbol          string // default symbol for single-instrument feeds; empty for calendar feeds
	EnableTradeLog  bool
	MarkErrorPolicy MarkErrorPolicy
}

// BacktestResult bundles the equity curve, the broker's final state, and the
// derived performance statistics of one run.
type BacktestResult struct {
	InitialCash   float64
	FinalEquity   float64
	EquityCurve   []EquityPoint
	Broker        *Broker
	AnnualReturns []AnnualReturn
	MaxDrawdown   float64
	DDPeak        string
	DDTrough      string
	Risk          RiskMetrics
	HasRisk       bool
}

// RunBacktest wires feed, broker and engine together, runs the simulation,
// and computes the summary statistics.
func RunBacktest(bars []Bar, strategy Strategy, opts RunOptions) (*BacktestResult, error) {
	if opts.InitialCash == 0 {
		opts.InitialCash = DefaultInitialCash
	}
	if opts.MarkErrorPolicy == "" {
		opts.MarkErrorPolicy = MarkErrorWarn
	}
	feed := NewFeed(bars)
	broker := NewBroker(opts.InitialCash, opts.Symbol)
	broker.EnableTradeLog = opts.EnableTradeLog
	engine := NewEngine(feed, broker, strategy)
	engine.MarkPolicy = opts.MarkErrorPolicy

	curve, err := engine.Run()
	if err != nil {
		return nil, err
	}
	finalEquity := opts.InitialCash
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}
	maxDD, ddPeak, ddTrough := ComputeMaxDrawdown(curve)
	risk, hasRisk := ComputeRiskMetrics(curve, opts.InitialCash, DefaultAnnFactor)
	return &BacktestResult{
		InitialCash:   opts.InitialCash,
		FinalEquity:   finalEquity,
		EquityCurve:   curve,
		Broker:        broker,
		AnnualReturns: ComputeAnnualReturns(curve),
		MaxDrawdown:   maxDD,
		DDPeak:        ddPeak,
		DDTrough:      ddTrough,
		Risk:          risk,
		HasRisk:       hasRisk,
	}, nil
}

// WriteEquityCurveCSV writes the curve as trade_date,equity rows, creating
// parent directories as needed.
func WriteEquityCurveCSV(curve []EquityPoint, outPath string) error {
	f, err := createWithDirs(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"trade_date", "equity"}); err != nil {
		return err
	}
	for _, pt := range curve {
		if err := w.Write([]string{pt.TradeDate, fmt.Sprintf("%.2f", pt.Equity)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTradesCSV writes the broker's trade log, creating parent directories
// as needed.
func WriteTradesCSV(broker *Broker, outPath string) error {
	f, err := createWithDirs(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"trade_date", "action", "symbol", "price", "exec_price", "size",
		"gross_amount", "fees", "cash_after", "position_after", "equity_after",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, tr := range broker.Trades {
		row := []string{
			tr.TradeDate,
			tr.Action,
			tr.Symbol,
			fmt.Sprintf("%.4f", tr.Price),
			fmt.Sprintf("%.4f", tr.ExecPrice),
			strconv.Itoa(int(tr.Size)),
			fmt.Sprintf("%.2f", tr.GrossAmount),
			fmt.Sprintf("%.2f", tr.Fees),
			fmt.Sprintf("%.2f", tr.CashAfter),
			strconv.Itoa(int(tr.PositionAfter)),
			fmt.Sprintf("%.2f", tr.EquityAfter),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func createWithDirs(outPath string) (*os.File, error) {
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return os.Create(outPath)
}

// WriteSummary prints the human-readable result summary.
func (r *BacktestResult) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Bars: %d  Final Equity: %.2f  Return: %.2f%%  Total Fees: %.2f\n",
		len(r.EquityCurve), r.FinalEquity, (r.FinalEquity/r.InitialCash-1)*100, r.Broker.TotalFees)
	if len(r.AnnualReturns) > 0 {
		fmt.Fprintln(w, "Annual Returns:")
		for _, ar := range r.AnnualReturns {
			fmt.Fprintf(w, "  %s: %.2f%%\n", ar.Year, ar.Return*100)
		}
	}
	if r.DDPeak != "" && r.DDTrough != "" {
		fmt.Fprintf(w, "Max Drawdown: %.2f%%  Period: %s -> %s\n", r.MaxDrawdown*100, r.DDPeak, r.DDTrough)
	}
	if r.HasRisk {
		fmt.Fprintf(w, "CAGR: %.2f%%  AnnReturn: %.2f%%  AnnVol: %.2f%%  Sharpe: %.2f  WinRate: %.2f%%\n",
			r.Risk.CAGR*100, r.Risk.AnnReturn*100, r.Risk.AnnVol*100, r.Risk.Sharpe, r.Risk.WinRate*100)
	}
}
