package strategy

import (
	"github.com/oarkflow/qs/app/models"
	"github.com/oarkflow/qs/backtester"
)

// PairContext is the H-leg side channel for PairRotation: per-date open,
// percent change, and close of the H symbol. The feed itself carries the
// A-leg bars.
type PairContext struct {
	HOpen  map[string]float64
	HPct   map[string]float64
	HClose map[string]float64
}

// NewPairContextFromDB loads the H leg's daily rows into a PairContext.
func NewPairContextFromDB(hSymbol, start, end string) (*PairContext, error) {
	bars, err := models.GetBars(models.TableDailyH, hSymbol, start, end)
	if err != nil {
		return nil, err
	}
	ctx := &PairContext{
		HOpen:  make(map[string]float64, len(bars)),
		HPct:   make(map[string]float64, len(bars)),
		HClose: make(map[string]float64, len(bars)),
	}
	for _, b := range bars {
		ctx.HOpen[b.TradeDate] = b.Open
		ctx.HClose[b.TradeDate] = b.Close
		if b.PctChg != nil {
			ctx.HPct[b.TradeDate] = *b.PctChg
		}
	}
	return ctx, nil
}

// PairRotation is a mean-reversion rotation across one dual-listed A/H pair:
// whichever leg moved stronger yesterday, buy the other leg today, all-in and
// mutually exclusive.
type PairRotation struct {
	ASymbol string
	HSymbol string
	Ctx     *PairContext
}

// NewPairRotation wires the two legs with the H-leg side channel.
func NewPairRotation(aSymbol, hSymbol string, ctx *PairContext) *PairRotation {
	return &PairRotation{ASymbol: aSymbol, HSymbol: hSymbol, Ctx: ctx}
}

// MarkPrices values the A leg at the bar close and the H leg at its own
// close when the H market traded that day.
func (s *PairRotation) MarkPrices(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) (map[string]float64, error) {
	marks := map[string]float64{s.ASymbol: bar.Close}
	if hClose, ok := s.Ctx.HClose[bar.TradeDate]; ok {
		marks[s.HSymbol] = hClose
	}
	return marks, nil
}

// OnBar compares yesterday's percent changes and rotates into the weaker leg.
func (s *PairRotation) OnBar(bar backtester.Bar, feed *backtester.Feed, broker *backtester.Broker) {
	prev := feed.Prev()
	if prev == nil || prev.PctChg == nil {
		return
	}
	hChg, ok := s.Ctx.HPct[prev.TradeDate]
	if !ok {
		return
	}
	aChg := *prev.PctChg
	if hChg == aChg {
		return
	}
	wantA := hChg > aChg
	hOpen, ok := s.Ctx.HOpen[bar.TradeDate]
	if !ok {
		return
	}

	aPos := broker.Position(s.ASymbol)
	hPos := broker.Position(s.HSymbol)
	if wantA {
		if hPos.Size > 0 {
			broker.SellAllSym(bar.TradeDate, s.HSymbol, hOpen)
		}
		if aPos.Size == 0 {
			broker.BuyAllSym(bar.TradeDate, s.ASymbol, bar.Open)
		}
	} else {
		if aPos.Size > 0 {
			broker.SellAllSym(bar.TradeDate, s.ASymbol, bar.Open)
		}
		if hPos.Size == 0 {
			broker.BuyAllSym(bar.TradeDate, s.HSymbol, hOpen)
		}
	}
}
