package model

import "time"

// CountRecord is one row of an ohsome count time series.
type CountRecord struct {
	CellID    int64      `json:"cell_id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      MetricKind `json:"kind"`
	Count     int64      `json:"count"`
}

// MergedSeries is the chronological series for one cell and one metric kind.
// Timestamps are strictly increasing.
type MergedSeries struct {
	CellID  int64         `json:"cell_id"`
	Kind    MetricKind    `json:"kind"`
	Records []CountRecord `json:"records"`
}

// Len returns the number of records.
func (s MergedSeries) Len() int {
	return len(s.Records)
}

// Total sums all counts in the series.
func (s MergedSeries) Total() int64 {
	var total int64
	for _, r := range s.Records {
		total += r.Count
	}
	return total
}

// Last returns the final timestamp, or the zero time for an empty series.
func (s MergedSeries) Last() time.Time {
	if len(s.Records) == 0 {
		return time.Time{}
	}
	return s.Records[len(s.Records)-1].Timestamp
}

// Cumulative returns the running total at each record.
func (s MergedSeries) Cumulative() []int64 {
	out := make([]int64, len(s.Records))
	var sum int64
	for i, r := range s.Records {
		sum += r.Count
		out[i] = sum
	}
	return out
}

// Timestamps returns the record timestamps in order.
func (s MergedSeries) Timestamps() []time.Time {
	out := make([]time.Time, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Timestamp
	}
	return out
}
