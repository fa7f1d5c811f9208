package backtester

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Strategy receives each bar in order and trades against the broker.
// The only data a strategy may use on a bar is the bar itself and the feed's
// backward-looking cursor; the feed never exposes future bars.
type Strategy interface {
	OnBar(bar Bar, feed *Feed, broker *Broker)
}

// Starter is implemented by strategies that need a one-time setup call
// before the first bar.
type Starter interface {
	OnStart(feed *Feed, broker *Broker)
}

// Ender is implemented by strategies that need a teardown call after the
// last bar. It always runs, even when the run aborts under the raise policy.
type Ender interface {
	OnEnd(feed *Feed, broker *Broker)
}

// MarkPricer is implemented by multi-symbol strategies that supply their own
// valuation marks per bar. Strategies without it get the default marking of
// the broker's single default symbol at the bar close.
type MarkPricer interface {
	MarkPrices(bar Bar, feed *Feed, broker *Broker) (map[string]float64, error)
}

// MarkErrorPolicy decides what the engine does when mark-price collection
// fails or produces no marks while multi-symbol positions are open.
type MarkErrorPolicy string

const (
	MarkErrorRaise  MarkErrorPolicy = "raise"
	MarkErrorWarn   MarkErrorPolicy = "warn"
	MarkErrorIgnore MarkErrorPolicy = "ignore"
)

// EquityPoint is one point of the equity curve: total equity marked at the
// end of one bar.
type EquityPoint struct {
	TradeDate string
	Equity    float64
}

// Engine drives one single-threaded pass over the feed.
type Engine struct {
	Feed       *Feed
	Broker     *Broker
	Strategy   Strategy
	MarkPolicy MarkErrorPolicy
}

// NewEngine wires a feed, broker and strategy together with the default
// warn mark-error policy.
func NewEngine(feed *Feed, broker *Broker, strategy Strategy) *Engine {
	return &Engine{Feed: feed, Broker: broker, Strategy: strategy, MarkPolicy: MarkErrorWarn}
}

func (e *Engine) handleMarkIssue(bar Bar, err error) error {
	switch e.MarkPolicy {
	case MarkErrorRaise:
		return fmt.Errorf("mark prices on %s: %w", bar.TradeDate, err)
	case MarkErrorIgnore:
	default:
		logrus.Warnf("mark prices on %s: %v", bar.TradeDate, err)
	}
	return nil
}

// openNonDefaultPositions reports whether the broker holds anything besides
// its configured default symbol.
func (e *Engine) openNonDefaultPositions() bool {
	for _, sym := range e.Broker.HeldSymbols() {
		if sym != e.Broker.Symbol {
			return true
		}
	}
	return false
}

// Run executes the simulation: one OnBar call and one equity point per bar.
// The returned curve has exactly one point per bar, dated like the feed. The
// only error path is a mark-price failure under the raise policy; every other
// condition is resolved by clamping or by the configured policy.
func (e *Engine) Run() ([]EquityPoint, error) {
	e.Feed.Reset()
	if starter, ok := e.Strategy.(Starter); ok {
		starter.OnStart(e.Feed, e.Broker)
	}
	if ender, ok := e.Strategy.(Ender); ok {
		defer ender.OnEnd(e.Feed, e.Broker)
	}
	if e.Feed.Len() == 0 {
		return []EquityPoint{}, nil
	}

	curve := make([]EquityPoint, 0, e.Feed.Len())
	for {
		bar := e.Feed.Current()
		e.Strategy.OnBar(bar, e.Feed, e.Broker)

		collected := false
		defaultMarked := false
		if pricer, ok := e.Strategy.(MarkPricer); ok {
			marks, err := pricer.MarkPrices(bar, e.Feed, e.Broker)
			if err != nil {
				if perr := e.handleMarkIssue(bar, err); perr != nil {
					return curve, perr
				}
			} else if len(marks) > 0 {
				e.Broker.UpdateMarks(marks)
				collected = true
				_, defaultMarked = marks[e.Broker.Symbol]
			}
		}
		// the close mark is a fallback; a hook-supplied mark for the
		// default symbol takes precedence
		if e.Broker.Symbol != "" && !defaultMarked {
			e.Broker.UpdateMarks(map[string]float64{e.Broker.Symbol: bar.Close})
			collected = true
		}
		if !collected && e.openNonDefaultPositions() {
			err := fmt.Errorf("no marks collected while multi-symbol positions are open")
			if perr := e.handleMarkIssue(bar, err); perr != nil {
				return curve, perr
			}
		}

		curve = append(curve, EquityPoint{TradeDate: bar.TradeDate, Equity: e.Broker.TotalEquity()})
		if !e.Feed.Step() {
			break
		}
	}
	return curve, nil
}
