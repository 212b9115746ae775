// Package pipeline drives a study run: split the window, fetch every metric
// of every cell, merge, compute persistence and fit saturation curves.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ohsome-cli/internal/interval"
	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/persistence"
	"github.com/sells-group/ohsome-cli/internal/saturation"
	"github.com/sells-group/ohsome-cli/internal/series"
	"github.com/sells-group/ohsome-cli/internal/store"
	"github.com/sells-group/ohsome-cli/pkg/ohsome"
)

// ErrEndpointUnreachable is returned when every cell failed only because
// the ohsome endpoint could not be reached.
var ErrEndpointUnreachable = eris.New("pipeline: ohsome endpoint unreachable")

// Renderer writes per-cell artifacts and the final summary.
type Renderer interface {
	RenderCell(c model.CellResult) ([]string, error)
	RenderSummary(s *model.RunSummary) ([]string, error)
}

// Options describes one study run.
type Options struct {
	Region      string
	Start       time.Time
	End         time.Time
	MaxSpan     time.Duration
	Concurrency int
	// Params is stored with the run record.
	Params map[string]any
}

// Option configures optional pipeline hooks.
type Option func(*Pipeline)

// WithStore records the run and each cell result.
func WithStore(st store.Store) Option {
	return func(p *Pipeline) {
		p.store = st
	}
}

// WithRenderer writes charts, tables and the summary as cells complete.
func WithRenderer(r Renderer) Option {
	return func(p *Pipeline) {
		p.renderer = r
	}
}

// Pipeline is safe to Run more than once; runs share no state.
type Pipeline struct {
	fetcher  ohsome.Fetcher
	fitter   *saturation.Fitter
	store    store.Store
	renderer Renderer
	opts     Options
}

// New creates a Pipeline.
func New(fetcher ohsome.Fetcher, fitter *saturation.Fitter, opts Options, options ...Option) *Pipeline {
	if fitter == nil {
		fitter = saturation.NewFitter(0, 0)
	}
	p := &Pipeline{fetcher: fetcher, fitter: fitter, opts: opts}
	for _, o := range options {
		o(p)
	}
	return p
}

type cellOutcome struct {
	result      model.CellResult
	done        bool
	unreachable bool
}

// Run processes cells and returns the summary. Per-cell failures are
// recorded in the summary and never returned. The returned error is
// run-fatal: an invalid window, an unreachable endpoint or cancellation.
// On cancellation the summary still holds every cell that finished.
func (p *Pipeline) Run(ctx context.Context, cells []model.GridCell) (*model.RunSummary, error) {
	intervals, err := interval.Split(p.opts.Start, p.opts.End, p.opts.MaxSpan)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("region", p.opts.Region))
	summary := &model.RunSummary{
		Region:    p.opts.Region,
		Window:    model.TimeInterval{Start: p.opts.Start, End: p.opts.End},
		StartedAt: time.Now().UTC(),
	}

	if p.store != nil {
		run, err := p.store.CreateRun(ctx, p.opts.Region, p.opts.Params)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		summary.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}

	log.Info("pipeline: starting run",
		zap.Int("cells", len(cells)),
		zap.Int("intervals", len(intervals)),
		zap.Int("concurrency", max(p.opts.Concurrency, 1)),
	)

	outcomes := make([]cellOutcome, len(cells))
	runCell := func(ctx context.Context, i int) {
		res, unreachable, err := p.processCell(ctx, cells[i], intervals)
		if err != nil {
			log.Warn("pipeline: cell interrupted", zap.Int64("cell", cells[i].ID), zap.Error(err))
			return
		}
		outcomes[i] = cellOutcome{result: res, done: true, unreachable: unreachable}
		p.afterCell(ctx, summary.RunID, res)
	}

	if p.opts.Concurrency <= 1 {
		for i := range cells {
			if ctx.Err() != nil {
				break
			}
			runCell(ctx, i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for i := range cells {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				runCell(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	allUnreachable := len(cells) > 0
	for _, o := range outcomes {
		if !o.done {
			allUnreachable = false
			continue
		}
		summary.Add(o.result)
		if !o.unreachable {
			allUnreachable = false
		}
	}
	summary.CompletedAt = time.Now().UTC()

	var runErr error
	switch {
	case ctx.Err() != nil:
		runErr = eris.Wrap(ctx.Err(), "pipeline: run cancelled")
	case allUnreachable:
		runErr = ErrEndpointUnreachable
	}

	p.finish(ctx, log, summary, runErr)
	return summary, runErr
}

// processCell fetches and analyses one cell. The bool reports whether every
// metric failed with an unreachable-endpoint error. A non-nil error means
// the context ended before the cell finished.
func (p *Pipeline) processCell(ctx context.Context, cell model.GridCell, intervals []model.TimeInterval) (model.CellResult, bool, error) {
	log := zap.L().With(zap.Int64("cell", cell.ID))
	res := model.CellResult{CellID: cell.ID, Series: make(map[model.MetricKind]model.MergedSeries, len(model.AllMetrics))}
	unreachable := 0

	for _, kind := range model.AllMetrics {
		frags := make([][]model.CountRecord, 0, len(intervals))
		var fetchErr error
		for _, iv := range intervals {
			if err := ctx.Err(); err != nil {
				return res, false, err
			}
			recs, err := p.fetcher.Fetch(ctx, cell, iv, kind)
			if err != nil {
				if ctx.Err() != nil {
					return res, false, ctx.Err()
				}
				fetchErr = err
				break
			}
			frags = append(frags, recs)
		}

		if fetchErr != nil {
			log.Warn("pipeline: skipping metric", zap.String("kind", string(kind)), zap.Error(fetchErr))
			res.Skipped = append(res.Skipped, skip(cell.ID, kind, model.StageFetch, fetchErr))
			if ohsome.IsUnreachable(fetchErr) {
				unreachable++
			}
			continue
		}

		s, err := series.MergeFor(cell.ID, kind, frags)
		if err != nil {
			var empty *series.EmptySeriesError
			if errors.As(err, &empty) {
				log.Info("pipeline: empty series", zap.String("kind", string(kind)))
			} else {
				log.Warn("pipeline: merge failed", zap.String("kind", string(kind)), zap.Error(err))
			}
			res.Skipped = append(res.Skipped, skip(cell.ID, kind, model.StageMerge, err))
			continue
		}
		res.Series[kind] = s
		res.Fits = append(res.Fits, p.fitter.Fit(s))
	}

	created, okC := res.Series[model.MetricCreated]
	modified, okM := res.Series[model.MetricModified]
	deleted, okD := res.Series[model.MetricDeleted]
	if okC && okM && okD {
		removed, err := series.Combine(model.MetricRemoved, modified, deleted)
		if err != nil {
			res.Skipped = append(res.Skipped, skip(cell.ID, "", model.StagePersistence, err))
		} else {
			m := persistence.Compute(created, removed)
			res.Persistence = &m
		}
	} else {
		res.Skipped = append(res.Skipped, model.SkipReason{
			CellID: cell.ID,
			Stage:  model.StagePersistence,
			Error:  "created, modified and deleted series are all required",
		})
	}

	return res, unreachable == len(model.AllMetrics), nil
}

func (p *Pipeline) afterCell(ctx context.Context, runID string, res model.CellResult) {
	log := zap.L().With(zap.Int64("cell", res.CellID))
	if p.store != nil && runID != "" {
		if err := p.store.SaveCellResult(ctx, runID, res); err != nil {
			log.Warn("pipeline: failed to save cell result", zap.Error(err))
		}
	}
	if p.renderer != nil {
		if _, err := p.renderer.RenderCell(res); err != nil {
			log.Warn("pipeline: failed to render cell", zap.Error(err))
		}
	}

	fields := []zap.Field{zap.Bool("complete", res.Complete()), zap.Int("skipped", len(res.Skipped))}
	if res.Persistence != nil && res.Persistence.Ratio != nil {
		fields = append(fields, zap.Float64("persistence", *res.Persistence.Ratio))
	}
	log.Info("pipeline: cell done", fields...)
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, summary *model.RunSummary, runErr error) {
	if p.renderer != nil {
		if _, err := p.renderer.RenderSummary(summary); err != nil {
			log.Warn("pipeline: failed to render summary", zap.Error(err))
		}
	}

	if p.store != nil && summary.RunID != "" {
		// The run context may already be cancelled; record the outcome anyway.
		sctx := context.WithoutCancel(ctx)
		var err error
		if runErr != nil {
			err = p.store.FailRun(sctx, summary.RunID, runErr)
		} else {
			err = p.store.CompleteRun(sctx, summary.RunID, summary)
		}
		if err != nil {
			log.Warn("pipeline: failed to record run outcome", zap.Error(err))
		}
	}

	log.Info("pipeline: run finished",
		zap.Int64s("complete", summary.Complete),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("unconverged", len(summary.Unconverged)),
		zap.Duration("elapsed", summary.CompletedAt.Sub(summary.StartedAt)),
		zap.NamedError("run_error", runErr),
	)
	for _, s := range summary.Skipped {
		log.Info("pipeline: skipped",
			zap.Int64("cell", s.CellID), zap.String("kind", string(s.Kind)),
			zap.String("stage", s.Stage), zap.String("reason", s.Error))
	}
	for _, f := range summary.Unconverged {
		log.Info("pipeline: fit not converged",
			zap.Int64("cell", f.CellID), zap.String("kind", string(f.Kind)), zap.String("reason", f.Reason))
	}
}

func skip(cellID int64, kind model.MetricKind, stage string, err error) model.SkipReason {
	return model.SkipReason{CellID: cellID, Kind: kind, Stage: stage, Error: err.Error()}
}
