package backtester

// Bar is one trading day's observation for a single calendar stream.
// TradeDate uses the YYYYMMDD string form used throughout the daily tables.
// PctChg is nil for synthetic calendar bars built from a table union.
type Bar struct {
	TradeDate string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	PctChg    *float64
}

// Feed is an ordered sequence of bars with a movable cursor.
// The cursor only moves forward via Step; Reset rewinds it to the start.
type Feed struct {
	bars []Bar
	idx  int
}

// NewFeed returns a Feed positioned at the first bar.
func NewFeed(bars []Bar) *Feed {
	return &Feed{bars: bars}
}

// Len returns the number of bars in the feed.
func (f *Feed) Len() int {
	return len(f.bars)
}

// Idx returns the current cursor position.
func (f *Feed) Idx() int {
	return f.idx
}

// Current returns the bar under the cursor.
func (f *Feed) Current() Bar {
	return f.bars[f.idx]
}

// Prev returns the bar before the cursor, or nil at the first bar.
func (f *Feed) Prev() *Bar {
	if f.idx == 0 {
		return nil
	}
	return &f.bars[f.idx-1]
}

// Step advances the cursor by one bar and reports whether a bar exists there.
func (f *Feed) Step() bool {
	if f.idx+1 >= len(f.bars) {
		return false
	}
	f.idx++
	return true
}

// Reset rewinds the cursor to the first bar.
func (f *Feed) Reset() {
	f.idx = 0
}
