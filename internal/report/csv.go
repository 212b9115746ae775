package report

import (
	"encoding/csv"
	"os"
	"sort"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ohsome-cli/internal/model"
)

type seriesRow struct {
	Timestamp string `csv:"timestamp"`
	Created   int64  `csv:"created"`
	Modified  int64  `csv:"modified"`
	Deleted   int64  `csv:"deleted"`
	Total     int64  `csv:"total"`
}

// seriesRows aligns the three metric series of a cell on the union of
// their timestamps. Missing points count as zero.
func seriesRows(series map[model.MetricKind]model.MergedSeries) []seriesRow {
	byTime := make(map[time.Time]*seriesRow)
	for kind, s := range series {
		for _, r := range s.Records {
			row, ok := byTime[r.Timestamp]
			if !ok {
				row = &seriesRow{Timestamp: r.Timestamp.UTC().Format(time.RFC3339)}
				byTime[r.Timestamp] = row
			}
			switch kind {
			case model.MetricCreated:
				row.Created += r.Count
			case model.MetricModified:
				row.Modified += r.Count
			case model.MetricDeleted:
				row.Deleted += r.Count
			}
			row.Total += r.Count
		}
	}

	keys := make([]time.Time, 0, len(byTime))
	for ts := range byTime {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	rows := make([]seriesRow, len(keys))
	for i, ts := range keys {
		rows[i] = *byTime[ts]
	}
	return rows
}

func writeCSV[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if len(rows) == 0 {
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return eris.Wrapf(err, "report: encode header %s", path)
		}
	}
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return eris.Wrapf(err, "report: encode %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "report: flush %s", path)
	}
	return f.Close()
}
