package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/model"
	"github.com/sells-group/ohsome-cli/pkg/ohsome"
)

// CacheScope holds the request settings that change what ohsome returns
// for the same cell, interval and kind.
type CacheScope struct {
	BaseURL string
	Filter  string
	Period  string
}

// CachingFetcher serves ohsome responses from the store when a fresh entry
// exists and records successful responses otherwise. Cache read and write
// failures are logged and never fail the fetch.
type CachingFetcher struct {
	next  ohsome.Fetcher
	store Store
	ttl   time.Duration
	scope CacheScope
}

// NewCachingFetcher wraps next. scope is mixed into every key.
func NewCachingFetcher(next ohsome.Fetcher, st Store, ttl time.Duration, scope CacheScope) *CachingFetcher {
	return &CachingFetcher{next: next, store: st, ttl: ttl, scope: scope}
}

// CacheKey identifies one cell, interval and kind query under scope. The
// cell's encoded boundary is part of the key, so a regenerated grid that
// reuses an ID does not hit entries of the old polygon.
func CacheKey(cell model.GridCell, iv model.TimeInterval, kind model.MetricKind, scope CacheScope) string {
	h := sha256.New()
	for _, part := range []string{
		strconv.FormatInt(cell.ID, 10),
		cellBoundary(cell),
		iv.String(),
		string(kind),
		scope.Filter,
		scope.Period,
		scope.BaseURL,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cellBoundary(cell model.GridCell) string {
	bpolys, err := ohsome.EncodeBPolys(cell)
	if err != nil {
		return ""
	}
	return bpolys
}

// Fetch implements ohsome.Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, cell model.GridCell, iv model.TimeInterval, kind model.MetricKind) ([]model.CountRecord, error) {
	key := CacheKey(cell, iv, kind, c.scope)
	log := zap.L().With(zap.Int64("cell", cell.ID), zap.String("kind", string(kind)), zap.String("interval", iv.String()))

	cached, err := c.store.GetCachedResponse(ctx, key)
	switch {
	case err != nil:
		log.Warn("store: cache read failed", zap.Error(err))
	case cached == nil:
	case !matchesQuery(cached, cell.ID, kind):
		log.Warn("store: cached records belong to another query, refetching", zap.String("key", key))
	default:
		log.Debug("store: cache hit")
		return cached, nil
	}

	recs, err := c.next.Fetch(ctx, cell, iv, kind)
	if err != nil {
		return nil, err
	}

	if err := c.store.SetCachedResponse(ctx, key, recs, c.ttl); err != nil {
		log.Warn("store: cache write failed", zap.Error(err))
	}
	return recs, nil
}

// matchesQuery reports whether every cached record is for cellID and kind.
func matchesQuery(recs []model.CountRecord, cellID int64, kind model.MetricKind) bool {
	for _, r := range recs {
		if r.CellID != cellID || r.Kind != kind {
			return false
		}
	}
	return true
}
