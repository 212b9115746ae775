// Package monitoring summarizes recent run health and raises alerts when
// runs fail or fits stop converging.
package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/store"
)

// Snapshot holds a point-in-time view of run health.
type Snapshot struct {
	// Runs within the lookback window.
	RunsTotal       int     `json:"runs_total" yaml:"runs_total"`
	RunsComplete    int     `json:"runs_complete" yaml:"runs_complete"`
	RunsFailed      int     `json:"runs_failed" yaml:"runs_failed"`
	RunsRunning     int     `json:"runs_running" yaml:"runs_running"`
	RunsUnreachable int     `json:"runs_unreachable" yaml:"runs_unreachable"`
	FailRate        float64 `json:"fail_rate" yaml:"fail_rate"`

	// Cells and fits of completed runs.
	CellsComplete   int            `json:"cells_complete" yaml:"cells_complete"`
	CellsSkipped    int            `json:"cells_skipped" yaml:"cells_skipped"`
	SkipsByStage    map[string]int `json:"skips_by_stage" yaml:"skips_by_stage"`
	FitsTotal       int            `json:"fits_total" yaml:"fits_total"`
	FitsUnconverged int            `json:"fits_unconverged" yaml:"fits_unconverged"`
	UnconvergedRate float64        `json:"unconverged_rate" yaml:"unconverged_rate"`

	LookbackHours int       `json:"lookback_hours" yaml:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at" yaml:"collected_at"`
}

// maxRuns bounds how many runs a single snapshot reads.
const maxRuns = 10000

// Collector gathers snapshots from the run store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect reads the runs created in the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		SkipsByStage:  map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        maxRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
			if strings.Contains(r.Error, "unreachable") {
				snap.RunsUnreachable++
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Summary != nil {
			addSummary(snap, r.Summary)
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.FitsTotal > 0 {
		snap.UnconvergedRate = float64(snap.FitsUnconverged) / float64(snap.FitsTotal)
	}
	return snap, nil
}

func addSummary(snap *Snapshot, s *model.RunSummary) {
	snap.CellsComplete += len(s.Complete)

	skipped := make(map[int64]struct{})
	for _, r := range s.Skipped {
		skipped[r.CellID] = struct{}{}
		snap.SkipsByStage[r.Stage]++
	}
	snap.CellsSkipped += len(skipped)

	for _, c := range s.Cells {
		snap.FitsTotal += len(c.Fits)
	}
	snap.FitsUnconverged += len(s.Unconverged)
}
