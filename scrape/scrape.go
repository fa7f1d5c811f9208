// Package scrape builds the A/H dual-listing pair table consumed by the
// pair strategies, from a public quote page listing both codes per company.
package scrape

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/oarkflow/errors"
	"github.com/sirupsen/logrus"
)

// DefaultOutputPath is where the pair strategies look for the table.
const DefaultOutputPath = "data/ah_codes.csv"

const defaultSourceURL = "https://stock.finance.sina.com.cn/hkstock/view/ah.php"

var outputHeader = []string{"name", "cn_code", "hk_code"}

// Scrape fetches the A/H pair table and writes it as CSV to outPath
// (DefaultOutputPath when empty). Returns the number of pairs written.
func Scrape(url, outPath string) (int, error) {
	if url == "" {
		url = defaultSourceURL
	}
	if outPath == "" {
		outPath = DefaultOutputPath
	}
	df, err := scrapeData(url)
	if err != nil {
		return 0, err
	}
	pairs := cleanDf(df)
	if len(pairs) == 0 {
		return 0, errors.New("no pairs found at " + url)
	}
	if err := saveCSV(pairs, outPath); err != nil {
		return 0, err
	}
	logrus.Infof("wrote %d pairs to %s", len(pairs), outPath)
	return len(pairs), nil
}

func scrapeData(url string) ([][]string, error) {
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.5005.115 Safari/537.36"),
	)

	var df [][]string
	c.OnHTML("table", func(e *colly.HTMLElement) {
		e.ForEach("tr", func(_ int, el *colly.HTMLElement) {
			var row []string
			el.ForEach("th, td", func(_ int, cell *colly.HTMLElement) {
				row = append(row, strings.TrimSpace(cell.Text))
			})
			if len(row) > 0 {
				df = append(df, row)
			}
		})
	})
	c.OnRequest(func(r *colly.Request) {
		logrus.Infof("visiting %s", r.URL.String())
	})
	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = errors.NewE(err, fmt.Sprintf("fetch %s (status %d)", url, r.StatusCode), "")
	})

	if err := c.Visit(url); err != nil {
		return nil, errors.NewE(err, "visit "+url, "")
	}
	if visitErr != nil {
		return nil, visitErr
	}
	return df, nil
}

// cleanDf extracts (name, a code, h code) rows from the raw table, dropping
// duplicates, header rows and anything that does not normalize to a valid
// code pair.
func cleanDf(df [][]string) [][]string {
	unique := make(map[string]bool)
	var pairs [][]string
	for _, row := range df {
		name, aCode, hCode, ok := extractPair(row)
		if !ok {
			continue
		}
		key := aCode + "," + hCode
		if unique[key] {
			continue
		}
		unique[key] = true
		pairs = append(pairs, []string{name, aCode, hCode})
	}
	return pairs
}

// extractPair scans a table row for one A code and one H code. The name is
// taken as the cell before the first code.
func extractPair(row []string) (name, aCode, hCode string, ok bool) {
	nameIdx := -1
	for i, cell := range row {
		if c, isA := normalizeACode(cell); isA && aCode == "" {
			aCode = c
			if nameIdx == -1 {
				nameIdx = i - 1
			}
			continue
		}
		if c, isH := normalizeHCode(cell); isH && hCode == "" {
			hCode = c
			if nameIdx == -1 {
				nameIdx = i - 1
			}
		}
	}
	if aCode == "" || hCode == "" {
		return "", "", "", false
	}
	if nameIdx >= 0 && nameIdx < len(row) {
		name = row[nameIdx]
	}
	return name, aCode, hCode, true
}

// normalizeACode turns a bare 6-digit mainland code into its suffixed form.
// Codes already carrying a .SH/.SZ suffix pass through.
func normalizeACode(cell string) (string, bool) {
	cell = strings.ToUpper(strings.TrimSpace(cell))
	if strings.HasSuffix(cell, ".SH") || strings.HasSuffix(cell, ".SZ") {
		base := strings.TrimSuffix(strings.TrimSuffix(cell, ".SH"), ".SZ")
		if isDigits(base) && len(base) == 6 {
			return cell, true
		}
		return "", false
	}
	if !isDigits(cell) || len(cell) != 6 {
		return "", false
	}
	switch cell[0] {
	case '6':
		return cell + ".SH", true
	case '0', '3':
		return cell + ".SZ", true
	}
	return "", false
}

// normalizeHCode turns a bare HK code into its zero-padded .HK form.
func normalizeHCode(cell string) (string, bool) {
	cell = strings.ToUpper(strings.TrimSpace(cell))
	if strings.HasSuffix(cell, ".HK") {
		base := strings.TrimSuffix(cell, ".HK")
		if isDigits(base) && len(base) <= 5 {
			return fmt.Sprintf("%05s.HK", base), true
		}
		return "", false
	}
	if isDigits(cell) && len(cell) >= 4 && len(cell) <= 5 && cell[0] == '0' {
		return fmt.Sprintf("%05s.HK", cell), true
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func saveCSV(pairs [][]string, outPath string) error {
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewE(err, "create output dir "+dir, "")
		}
	}
	file, err := os.Create(outPath)
	if err != nil {
		return errors.NewE(err, "create "+outPath, "")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()
	if err := writer.Write(outputHeader); err != nil {
		return errors.NewE(err, "write csv header", "")
	}
	for _, row := range pairs {
		if err := writer.Write(row); err != nil {
			return errors.NewE(err, "write csv row", "")
		}
	}
	writer.Flush()
	return writer.Error()
}
