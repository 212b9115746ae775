// Package series joins per-interval count fragments into one chronological series.
package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// EmptySeriesError means no fragment carried a single record.
type EmptySeriesError struct {
	CellID int64
	Kind   model.MetricKind
}

func (e *EmptySeriesError) Error() string {
	return fmt.Sprintf("series: no records for cell %d %s", e.CellID, e.Kind)
}

// Merge concatenates fragments in the order given and deduplicates by
// timestamp. When two fragments report the same timestamp the later
// fragment wins, since interval boundaries are shared between neighbours.
// All records must belong to the same cell and kind.
func Merge(fragments [][]model.CountRecord) (model.MergedSeries, error) {
	var (
		cellID int64
		kind   model.MetricKind
		seen   bool
	)
	byTime := make(map[time.Time]model.CountRecord)

	for fi, frag := range fragments {
		for _, r := range frag {
			if !seen {
				cellID, kind, seen = r.CellID, r.Kind, true
			} else if r.CellID != cellID || r.Kind != kind {
				return model.MergedSeries{}, eris.Errorf(
					"series: fragment %d mixes cell %d %s into cell %d %s",
					fi, r.CellID, r.Kind, cellID, kind)
			}
			r.Timestamp = r.Timestamp.UTC()
			byTime[r.Timestamp] = r
		}
	}

	if !seen {
		return model.MergedSeries{}, &EmptySeriesError{}
	}

	out := model.MergedSeries{CellID: cellID, Kind: kind, Records: make([]model.CountRecord, 0, len(byTime))}
	for _, r := range byTime {
		out.Records = append(out.Records, r)
	}
	sortRecords(out.Records)
	return out, nil
}

// MergeFor is Merge with the expected cell and kind, so an empty result
// still reports which series was missing.
func MergeFor(cellID int64, kind model.MetricKind, fragments [][]model.CountRecord) (model.MergedSeries, error) {
	s, err := Merge(fragments)
	if err != nil {
		var ee *EmptySeriesError
		if eris.As(err, &ee) {
			return model.MergedSeries{}, &EmptySeriesError{CellID: cellID, Kind: kind}
		}
		return model.MergedSeries{}, err
	}
	if s.CellID != cellID || s.Kind != kind {
		return model.MergedSeries{}, eris.Errorf("series: expected cell %d %s, got cell %d %s", cellID, kind, s.CellID, s.Kind)
	}
	return s, nil
}

// Combine sums several series of the same cell by timestamp over the union
// of their timestamps, labelling the result with kind.
func Combine(kind model.MetricKind, series ...model.MergedSeries) (model.MergedSeries, error) {
	if len(series) == 0 {
		return model.MergedSeries{}, &EmptySeriesError{Kind: kind}
	}
	cellID := series[0].CellID
	sums := make(map[time.Time]int64)
	for _, s := range series {
		if s.CellID != cellID {
			return model.MergedSeries{}, eris.Errorf("series: cannot combine cell %d with cell %d", s.CellID, cellID)
		}
		for _, r := range s.Records {
			sums[r.Timestamp.UTC()] += r.Count
		}
	}
	if len(sums) == 0 {
		return model.MergedSeries{}, &EmptySeriesError{CellID: cellID, Kind: kind}
	}

	out := model.MergedSeries{CellID: cellID, Kind: kind, Records: make([]model.CountRecord, 0, len(sums))}
	for ts, n := range sums {
		out.Records = append(out.Records, model.CountRecord{CellID: cellID, Timestamp: ts, Kind: kind, Count: n})
	}
	sortRecords(out.Records)
	return out, nil
}

func sortRecords(recs []model.CountRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}
