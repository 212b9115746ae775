package model

// CellActivity is the total contribution count of a cell over the study
// window, used to rank cells.
type CellActivity struct {
	CellID   int64  `json:"cell_id" csv:"cell_id" yaml:"cell_id"`
	Rank     int    `json:"rank" csv:"rank" yaml:"rank"`
	Created  int64  `json:"created" csv:"created" yaml:"created"`
	Modified int64  `json:"modified" csv:"modified" yaml:"modified"`
	Deleted  int64  `json:"deleted" csv:"deleted" yaml:"deleted"`
	Total    int64  `json:"total" csv:"total" yaml:"total"`
	Error    string `json:"error,omitempty" csv:"error,omitempty" yaml:"error,omitempty"`
}

// Set stores the total for one kind and refreshes Total.
func (a *CellActivity) Set(kind MetricKind, n int64) {
	switch kind {
	case MetricCreated:
		a.Created = n
	case MetricModified:
		a.Modified = n
	case MetricDeleted:
		a.Deleted = n
	}
	a.Total = a.Created + a.Modified + a.Deleted
}

// RegionActivity summarises the ranked cells of one region so regions can
// be compared. Error is set when the region could not be ranked at all.
type RegionActivity struct {
	Region          string  `json:"region" csv:"region" yaml:"region"`
	CellsRanked     int     `json:"cells_ranked" csv:"cells_ranked" yaml:"cells_ranked"`
	CellsFailed     int     `json:"cells_failed" csv:"cells_failed" yaml:"cells_failed"`
	TotalActivity   int64   `json:"total_activity" csv:"total_activity" yaml:"total_activity"`
	AverageActivity float64 `json:"average_activity" csv:"average_activity" yaml:"average_activity"`
	MaxActivity     int64   `json:"max_activity" csv:"max_activity" yaml:"max_activity"`
	Created         int64   `json:"created" csv:"created" yaml:"created"`
	Modified        int64   `json:"modified" csv:"modified" yaml:"modified"`
	Deleted         int64   `json:"deleted" csv:"deleted" yaml:"deleted"`
	Error           string  `json:"error,omitempty" csv:"error,omitempty" yaml:"error,omitempty"`
}

// SummarizeRegion totals the ranked cells of a region. Failed cells count
// as zero activity but are still ranked.
func SummarizeRegion(region string, ranked []CellActivity) RegionActivity {
	out := RegionActivity{Region: region, CellsRanked: len(ranked)}
	for _, a := range ranked {
		if a.Error != "" {
			out.CellsFailed++
		}
		out.TotalActivity += a.Total
		out.Created += a.Created
		out.Modified += a.Modified
		out.Deleted += a.Deleted
		if a.Total > out.MaxActivity {
			out.MaxActivity = a.Total
		}
	}
	if len(ranked) > 0 {
		out.AverageActivity = float64(out.TotalActivity) / float64(len(ranked))
	}
	return out
}
