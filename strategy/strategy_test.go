package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriodKey(t *testing.T) {
	assert.Equal(t, "2024P0", periodKey("20240115", 3))
	assert.Equal(t, "2024P0", periodKey("20240331", 3))
	assert.Equal(t, "2024P1", periodKey("20240401", 3))
	assert.Equal(t, "2024P3", periodKey("20241231", 3))
	assert.Equal(t, "2024P4", periodKey("20240520", 1))
}

func TestYearKey(t *testing.T) {
	assert.Equal(t, "Y2024", yearKey("20240102", 1))
	// a 2-year interval buckets adjacent years together
	assert.Equal(t, yearKey("20200601", 2), yearKey("20210601", 2))
	assert.NotEqual(t, yearKey("20210601", 2), yearKey("20220601", 2))
}

func TestSplitAH(t *testing.T) {
	a, h := splitAH([]string{"600000.SH", "00700.HK", "000001.SZ", "USDCNH.FXCM"})
	assert.Equal(t, []string{"600000.SH", "000001.SZ"}, a)
	assert.Equal(t, []string{"00700.HK"}, h)
}

func TestLoadPairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ah_codes.csv")
	csv := "name,cn_code,hk_code\nPing An,601318.SH,02318.HK\nBad Row,,\nCM Bank,600036.SH,03968.HK\n"
	assert.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	pairs, err := LoadPairs(path)
	assert.NoError(t, err)
	assert.Len(t, pairs, 2)
	assert.Equal(t, Pair{Name: "Ping An", ACode: "601318.SH", HCode: "02318.HK"}, pairs[0])
}

func TestLoadPairsLegacyColumnName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ah_codes.csv")
	csv := "name,cn_code,c\nPing An,601318.SH,02318.HK\n"
	assert.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	pairs, err := LoadPairs(path)
	assert.NoError(t, err)
	assert.Len(t, pairs, 1)
	assert.Equal(t, "02318.HK", pairs[0].HCode)
}

func TestLoadPairsMissingColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ah_codes.csv")
	assert.NoError(t, os.WriteFile(path, []byte("name,cn_code\nX,601318.SH\n"), 0o644))

	_, err := LoadPairs(path)
	assert.Error(t, err)
}

func TestFillMarkFallbacks(t *testing.T) {
	marks := map[string]float64{"A": 10}
	last := map[string]float64{"B": 7}
	avg := map[string]float64{"B": 6, "C": 5}

	fillMarkFallbacks(marks, []string{"A", "B", "C"},
		func(sym string) (float64, bool) { v, ok := last[sym]; return v, ok },
		func(sym string) float64 { return avg[sym] })

	// fresh mark kept, B holds its last mark, C falls back to cost basis
	assert.Equal(t, map[string]float64{"A": 10, "B": 7, "C": 5}, marks)
}
