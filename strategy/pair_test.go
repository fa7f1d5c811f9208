package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oarkflow/qs/backtester"
)

func pf(v float64) *float64 { return &v }

func TestPairRotationRotatesIntoWeakerLeg(t *testing.T) {
	// day 1: no signal (no prev). day 2: H rose more than A yesterday -> buy A.
	// day 3: A rose more than H yesterday -> rotate into H.
	bars := []backtester.Bar{
		{TradeDate: "20240101", Open: 10, Close: 10, PctChg: pf(0.5)},
		{TradeDate: "20240102", Open: 10, Close: 10, PctChg: pf(3.0)},
		{TradeDate: "20240103", Open: 10, Close: 10, PctChg: pf(0.0)},
	}
	ctx := &PairContext{
		HOpen:  map[string]float64{"20240102": 20, "20240103": 20},
		HPct:   map[string]float64{"20240101": 2.0, "20240102": 1.0},
		HClose: map[string]float64{"20240101": 20, "20240102": 20, "20240103": 20},
	}
	s := NewPairRotation("600000.SH", "00001.HK", ctx)

	broker := backtester.NewBroker(1000, "")
	broker.Commission = backtester.CommissionInfo{}
	broker.Slip = backtester.SlippageModel{}
	engine := backtester.NewEngine(backtester.NewFeed(bars), broker, s)

	curve, err := engine.Run()

	assert.NoError(t, err)
	assert.Len(t, curve, 3)
	// day 2: H (+2.0) beat A (+0.5) yesterday -> long the A leg
	// day 3: A (+3.0) beat H (+1.0) yesterday -> sell A, long the H leg
	assert.Len(t, broker.Trades, 3)
	assert.Equal(t, backtester.ActionBuy, broker.Trades[0].Action)
	assert.Equal(t, "600000.SH", broker.Trades[0].Symbol)
	assert.Equal(t, backtester.ActionSell, broker.Trades[1].Action)
	assert.Equal(t, "600000.SH", broker.Trades[1].Symbol)
	assert.Equal(t, backtester.ActionBuy, broker.Trades[2].Action)
	assert.Equal(t, "00001.HK", broker.Trades[2].Symbol)
	assert.Equal(t, 0.0, broker.Position("600000.SH").Size)
	assert.Greater(t, broker.Position("00001.HK").Size, 0.0)
}

func TestPairRotationSkipsWithoutHData(t *testing.T) {
	bars := []backtester.Bar{
		{TradeDate: "20240101", Open: 10, Close: 10, PctChg: pf(1.0)},
		{TradeDate: "20240102", Open: 10, Close: 10, PctChg: pf(1.0)},
	}
	s := NewPairRotation("600000.SH", "00001.HK", &PairContext{
		HOpen:  map[string]float64{},
		HPct:   map[string]float64{},
		HClose: map[string]float64{"20240101": 20, "20240102": 20},
	})
	broker := backtester.NewBroker(1000, "")
	engine := backtester.NewEngine(backtester.NewFeed(bars), broker, s)

	_, err := engine.Run()

	assert.NoError(t, err)
	assert.Empty(t, broker.Trades)
}

func TestPairRotationMarks(t *testing.T) {
	ctx := &PairContext{
		HClose: map[string]float64{"20240102": 22},
	}
	s := NewPairRotation("600000.SH", "00001.HK", ctx)
	broker := backtester.NewBroker(1000, "")

	marks, err := s.MarkPrices(backtester.Bar{TradeDate: "20240102", Close: 11}, nil, broker)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"600000.SH": 11, "00001.HK": 22}, marks)

	marks, err = s.MarkPrices(backtester.Bar{TradeDate: "20240103", Close: 12}, nil, broker)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"600000.SH": 12}, marks)
}
