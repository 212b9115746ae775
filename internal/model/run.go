package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a stored pipeline execution.
type Run struct {
	ID        string         `json:"id"`
	Region    string         `json:"region"`
	Params    map[string]any `json:"params,omitempty"`
	Status    RunStatus      `json:"status"`
	Summary   *RunSummary    `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Stage names where a cell can drop out of the pipeline.
const (
	StageFetch       = "fetch"
	StageMerge       = "merge"
	StagePersistence = "persistence"
)

// SkipReason records why a cell (or one of its metrics) produced no output.
type SkipReason struct {
	CellID int64      `json:"cell_id" yaml:"cell_id"`
	Kind   MetricKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Stage  string     `json:"stage" yaml:"stage"`
	Error  string     `json:"error" yaml:"error"`
}

// FitRef points at a fit that did not converge.
type FitRef struct {
	CellID int64      `json:"cell_id" yaml:"cell_id"`
	Kind   MetricKind `json:"kind" yaml:"kind"`
	Reason string     `json:"reason" yaml:"reason"`
}

// CellResult collects everything derived for one cell.
type CellResult struct {
	CellID      int64                       `json:"cell_id" yaml:"cell_id"`
	Series      map[MetricKind]MergedSeries `json:"series,omitempty" yaml:"-"`
	Persistence *PersistenceMetric          `json:"persistence,omitempty" yaml:"persistence,omitempty"`
	Fits        []SaturationFit             `json:"fits,omitempty" yaml:"fits,omitempty"`
	Skipped     []SkipReason                `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Complete reports whether every metric was merged and persistence is defined.
func (c CellResult) Complete() bool {
	if len(c.Skipped) > 0 {
		return false
	}
	for _, k := range AllMetrics {
		if _, ok := c.Series[k]; !ok {
			return false
		}
	}
	return c.Persistence != nil
}

// RunSummary is the user-facing outcome of a run.
type RunSummary struct {
	RunID       string       `json:"run_id" yaml:"run_id"`
	Region      string       `json:"region" yaml:"region"`
	Window      TimeInterval `json:"window" yaml:"window"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time    `json:"completed_at" yaml:"completed_at"`
	Complete    []int64      `json:"complete" yaml:"complete"`
	Skipped     []SkipReason `json:"skipped" yaml:"skipped"`
	Unconverged []FitRef     `json:"unconverged" yaml:"unconverged"`
	Cells       []CellResult `json:"cells" yaml:"cells"`
}

// Add folds a cell result into the summary.
func (s *RunSummary) Add(c CellResult) {
	s.Cells = append(s.Cells, c)
	if c.Complete() {
		s.Complete = append(s.Complete, c.CellID)
	}
	s.Skipped = append(s.Skipped, c.Skipped...)
	for _, f := range c.Fits {
		if f.Status == FitNotConverged {
			s.Unconverged = append(s.Unconverged, FitRef{CellID: f.CellID, Kind: f.Kind, Reason: f.Reason})
		}
	}
}
