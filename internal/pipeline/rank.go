package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ohsome-cli/internal/interval"
	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/series"
)

// Rank sums created, modified and deleted counts over the whole window for
// each cell and returns the topN most active, highest first. topN <= 0
// returns every cell. Cells whose queries fail are logged and count as zero.
func (p *Pipeline) Rank(ctx context.Context, cells []model.GridCell, topN int) ([]model.CellActivity, error) {
	intervals, err := interval.Split(p.opts.Start, p.opts.End, p.opts.MaxSpan)
	if err != nil {
		return nil, err
	}

	activity := make([]model.CellActivity, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.opts.Concurrency, 1))

	for i, cell := range cells {
		g.Go(func() error {
			activity[i] = p.cellActivity(gctx, cell, intervals)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(activity, func(i, j int) bool {
		if activity[i].Total != activity[j].Total {
			return activity[i].Total > activity[j].Total
		}
		return activity[i].CellID < activity[j].CellID
	})
	for i := range activity {
		activity[i].Rank = i + 1
	}
	if topN > 0 && len(activity) > topN {
		activity = activity[:topN]
	}

	zap.L().Info("pipeline: ranking complete", zap.Int("cells", len(cells)), zap.Int("returned", len(activity)))
	return activity, nil
}

func (p *Pipeline) cellActivity(ctx context.Context, cell model.GridCell, intervals []model.TimeInterval) model.CellActivity {
	a := model.CellActivity{CellID: cell.ID}
	for _, kind := range model.AllMetrics {
		frags := make([][]model.CountRecord, 0, len(intervals))
		for _, iv := range intervals {
			if ctx.Err() != nil {
				return model.CellActivity{CellID: cell.ID, Error: ctx.Err().Error()}
			}
			recs, err := p.fetcher.Fetch(ctx, cell, iv, kind)
			if err != nil {
				zap.L().Warn("pipeline: rank query failed, counting cell as zero",
					zap.Int64("cell", cell.ID), zap.String("kind", string(kind)), zap.Error(err))
				return model.CellActivity{CellID: cell.ID, Error: err.Error()}
			}
			frags = append(frags, recs)
		}
		// Boundary days shared by two intervals must only count once.
		var total int64
		if s, err := series.MergeFor(cell.ID, kind, frags); err == nil {
			total = s.Total()
		}
		a.Set(kind, total)
	}
	return a
}
