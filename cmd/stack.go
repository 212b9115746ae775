package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/config"
	"github.com/sells-group/ohsome-cli/internal/grid"
	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/resilience"
	"github.com/sells-group/ohsome-cli/internal/store"
	"github.com/sells-group/ohsome-cli/pkg/ohsome"
)

// initStore opens and migrates the configured store. Driver "none" returns
// a nil store and no error.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "ohsome.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// buildFetcher assembles the fetch chain: the HTTP client behind a circuit
// breaker, retried with backoff and, when enabled, served from the cache.
func buildFetcher(c *config.Config, st store.Store) ohsome.Fetcher {
	cbCfg := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("ohsome: circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	client := ohsome.NewClient(
		ohsome.WithBaseURL(c.Ohsome.BaseURL),
		ohsome.WithTimeout(time.Duration(c.Ohsome.TimeoutSecs)*time.Second),
		ohsome.WithRateLimit(c.Ohsome.RateLimit),
		ohsome.WithFilter(c.Ohsome.Filter),
		ohsome.WithPeriod(c.Ohsome.Period),
		ohsome.WithCircuitBreaker(resilience.NewCircuitBreaker(cbCfg)),
	)

	var f ohsome.Fetcher = ohsome.NewRetryingFetcher(client, resilience.FromRetryConfig(
		c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs, c.Retry.Multiplier,
	))

	if c.Cache.Enabled && st != nil {
		ttl := time.Duration(c.Cache.TTLHours) * time.Hour
		f = store.NewCachingFetcher(f, st, ttl, store.CacheScope{
			BaseURL: c.Ohsome.BaseURL,
			Filter:  c.Ohsome.Filter,
			Period:  c.Ohsome.Period,
		})
	}
	return f
}

// loadCells reads the grid of the first study region and selects the
// requested cells. A nil ids falls back to the configured cells.
func loadCells(c *config.Config, ids []int64) ([]model.GridCell, error) {
	if ids == nil {
		ids = c.Study.Cells
	}
	return loadRegionCells(c.StudyRegions()[0], ids)
}

// loadRegionCells reads one region's grid. An empty ids selects every cell.
func loadRegionCells(region config.RegionConfig, ids []int64) ([]model.GridCell, error) {
	loader := grid.Loader{IDProperty: region.IDProperty}
	cells, err := loader.Load(region.GridPath, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "load grid for %s", region.Name)
	}
	return cells, nil
}

// runParams is the config snapshot stored with each run.
func runParams(c *config.Config, cells []model.GridCell) map[string]any {
	ids := make([]int64, len(cells))
	for i, cell := range cells {
		ids[i] = cell.ID
	}
	return map[string]any{
		"cells":         ids,
		"start":         c.Study.Start,
		"end":           c.Study.End,
		"max_span_days": c.Study.MaxSpanDays,
		"filter":        c.Ohsome.Filter,
		"period":        c.Ohsome.Period,
		"grid_path":     c.StudyRegions()[0].GridPath,
	}
}
