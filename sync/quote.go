package sync

import (
	"time"

	"github.com/markcheno/go-quote"
	"github.com/oarkflow/log"

	"github.com/oarkflow/qs/app/models"
)

// GlobalIndexProxies maps local index codes to the Yahoo symbols used to
// fetch them. The upstream api gates global indexes behind a higher tier,
// so these come from the free quote feed instead.
var GlobalIndexProxies = map[string]string{
	"HSI":  "^HSI",
	"IXIC": "^IXIC",
}

// SyncGlobalIndexes pulls daily history for the proxy indexes and stores
// whatever is newer than what the table already holds.
func SyncGlobalIndexes(startDate string) error {
	end := time.Now().Format("2006-01-02")
	for code, yahooSym := range GlobalIndexProxies {
		latest, err := models.LatestTradeDate(models.TableIndexGlobal, code)
		if err != nil {
			return err
		}
		start := startDate
		if latest != "" {
			next, err := nextDay(latest)
			if err != nil {
				return err
			}
			start = next
		}
		startISO, err := toISODate(start)
		if err != nil {
			return err
		}

		q, err := quote.NewQuoteFromYahoo(yahooSym, startISO, end, quote.Daily, false)
		if err != nil {
			log.Warn().Str("symbol", yahooSym).Err(err).Msg("fetch global index")
			continue
		}
		rows := make([]map[string]interface{}, 0, len(q.Date))
		for i := range q.Date {
			rows = append(rows, map[string]interface{}{
				"ts_code":    code,
				"trade_date": q.Date[i].Format("20060102"),
				"open":       q.Open[i],
				"high":       q.High[i],
				"low":        q.Low[i],
				"close":      q.Close[i],
				"vol":        q.Volume[i],
			})
		}
		inserted, err := models.CreateDailyBars(models.TableIndexGlobal, rows)
		if err != nil {
			return err
		}
		log.Info().Str("ts_code", code).Int64("inserted", inserted).Msg("synced global index")
	}
	return nil
}

func toISODate(date string) (string, error) {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}
