package ohsome

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/internal/resilience"
)

// RetryingFetcher retries transient failures of the wrapped Fetcher with
// bounded exponential backoff. Fatal failures are returned on first sight.
type RetryingFetcher struct {
	next Fetcher
	cfg  resilience.RetryConfig
}

// NewRetryingFetcher wraps next with the given retry policy.
func NewRetryingFetcher(next Fetcher, cfg resilience.RetryConfig) *RetryingFetcher {
	return &RetryingFetcher{next: next, cfg: cfg}
}

// Fetch implements Fetcher.
func (r *RetryingFetcher) Fetch(ctx context.Context, cell model.GridCell, iv model.TimeInterval, kind model.MetricKind) ([]model.CountRecord, error) {
	cfg := r.cfg
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("ohsome.fetch",
			zap.Int64("cell", cell.ID),
			zap.String("kind", string(kind)),
			zap.String("interval", iv.String()),
		)
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.CountRecord, error) {
		return r.next.Fetch(ctx, cell, iv, kind)
	})
}
