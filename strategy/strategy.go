// Package strategy contains the trading strategies runnable by the backtest
// engine: a talib SMA crossover, an A/H pair rotation, a periodic
// equal-weight allocation, an A/H premium mean-reversion rotation, and a
// low-PE rotation with delisting write-offs.
package strategy

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/oarkflow/errors"
)

// Pair is one dual-listed A/H pairing, loaded from data/ah_codes.csv.
type Pair struct {
	Name  string
	ACode string
	HCode string
}

// DefaultPairsCSV is where the scraper drops the A/H code table.
const DefaultPairsCSV = "data/ah_codes.csv"

// LoadPairs reads the A/H pair table. The HK column header varies between
// scrapes ("hk_code" or "c"); rows missing either code are skipped.
func LoadPairs(csvPath string) ([]Pair, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.NewE(err, "open pairs csv", "")
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.NewE(err, "read pairs csv header", "")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	hkCol, ok := col["hk_code"]
	if !ok {
		if hkCol, ok = col["c"]; !ok {
			return nil, errors.New("pairs csv missing hk_code column")
		}
	}
	nameCol, cnCol := col["name"], col["cn_code"]

	var pairs []Pair
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		get := func(i int) string {
			if i < 0 || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		p := Pair{Name: get(nameCol), ACode: get(cnCol), HCode: get(hkCol)}
		if p.ACode == "" || p.HCode == "" {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// periodKey buckets a YYYYMMDD date into its rebalance period, e.g. a
// 3-month interval maps 20240501 to "2024P1".
func periodKey(tradeDate string, monthInterval int) string {
	if monthInterval <= 0 {
		monthInterval = 3
	}
	month, _ := strconv.Atoi(tradeDate[4:6])
	return tradeDate[:4] + "P" + strconv.Itoa((month-1)/monthInterval)
}

// yearKey buckets a YYYYMMDD date into its year bucket, e.g. a 2-year
// interval maps 2020 and 2021 to the same key.
func yearKey(tradeDate string, yearInterval int) string {
	if yearInterval <= 0 {
		yearInterval = 1
	}
	year, _ := strconv.Atoi(tradeDate[:4])
	return "Y" + strconv.Itoa(year/yearInterval)
}

// splitAH partitions symbols into A-share and H-share lists by suffix.
func splitAH(symbols []string) (aSyms, hSyms []string) {
	for _, s := range symbols {
		switch {
		case strings.HasSuffix(s, ".SH"), strings.HasSuffix(s, ".SZ"):
			aSyms = append(aSyms, s)
		case strings.HasSuffix(s, ".HK"):
			hSyms = append(hSyms, s)
		}
	}
	return aSyms, hSyms
}

// fillMarkFallbacks completes a mark map for the held symbols that lack a
// fresh price: hold the last known mark, else fall back to cost basis.
func fillMarkFallbacks(marks map[string]float64, held []string, lastPrice func(string) (float64, bool), avgPrice func(string) float64) {
	for _, sym := range held {
		if _, ok := marks[sym]; ok {
			continue
		}
		if last, ok := lastPrice(sym); ok {
			marks[sym] = last
			continue
		}
		if avg := avgPrice(sym); avg > 0 {
			marks[sym] = avg
		}
	}
}
