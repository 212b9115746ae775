package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/ohsome-cli/internal/model"
)

type countingFetcher struct {
	calls int
	recs  []model.CountRecord
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, _ model.GridCell, _ model.TimeInterval, _ model.MetricKind) ([]model.CountRecord, error) {
	f.calls++
	return f.recs, f.err
}

func cacheCell() model.GridCell {
	return model.GridCell{ID: 523, Geometry: geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})}
}

func cacheInterval() model.TimeInterval {
	return model.TimeInterval{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCacheKey(t *testing.T) {
	iv := cacheInterval()
	cell := cacheCell()
	scope := CacheScope{BaseURL: "https://api.ohsome.org/v1", Filter: "building=*", Period: "P1D"}

	k := CacheKey(cell, iv, model.MetricCreated, scope)
	assert.Len(t, k, 64)
	assert.Equal(t, k, CacheKey(cell, iv, model.MetricCreated, scope))

	other := cell
	other.ID = 557
	assert.NotEqual(t, k, CacheKey(other, iv, model.MetricCreated, scope))
	assert.NotEqual(t, k, CacheKey(cell, iv, model.MetricDeleted, scope))

	tests := []struct {
		name  string
		scope CacheScope
	}{
		{"filter", CacheScope{BaseURL: scope.BaseURL, Filter: "highway=*", Period: scope.Period}},
		{"period", CacheScope{BaseURL: scope.BaseURL, Filter: scope.Filter, Period: "P1M"}},
		{"base url", CacheScope{BaseURL: "http://localhost:8080", Filter: scope.Filter, Period: scope.Period}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, k, CacheKey(cell, iv, model.MetricCreated, tt.scope))
		})
	}

	t.Run("geometry", func(t *testing.T) {
		moved := cell
		moved.Geometry = geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}})
		assert.NotEqual(t, k, CacheKey(moved, iv, model.MetricCreated, scope))
	})
}

func TestCachingFetcher_MissThenHit(t *testing.T) {
	st := newTestSQLite(t)
	inner := &countingFetcher{recs: []model.CountRecord{
		{CellID: 523, Kind: model.MetricCreated, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Count: 7},
	}}
	cf := NewCachingFetcher(inner, st, time.Hour, CacheScope{})

	first, err := cf.Fetch(context.Background(), cacheCell(), cacheInterval(), model.MetricCreated)
	require.NoError(t, err)
	second, err := cf.Fetch(context.Background(), cacheCell(), cacheInterval(), model.MetricCreated)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
}

func TestCachingFetcher_ErrorsAreNotCached(t *testing.T) {
	st := newTestSQLite(t)
	inner := &countingFetcher{err: errors.New("503")}
	cf := NewCachingFetcher(inner, st, time.Hour, CacheScope{})

	for i := 0; i < 2; i++ {
		_, err := cf.Fetch(context.Background(), cacheCell(), cacheInterval(), model.MetricCreated)
		require.Error(t, err)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCachingFetcher_PeriodIsolatesEntries(t *testing.T) {
	st := newTestSQLite(t)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	daily := &countingFetcher{recs: []model.CountRecord{
		{CellID: 523, Kind: model.MetricCreated, Timestamp: day, Count: 3},
		{CellID: 523, Kind: model.MetricCreated, Timestamp: day.AddDate(0, 0, 1), Count: 4},
	}}
	_, err := NewCachingFetcher(daily, st, time.Hour, CacheScope{Period: "P1D"}).
		Fetch(context.Background(), cacheCell(), cacheInterval(), model.MetricCreated)
	require.NoError(t, err)

	monthly := &countingFetcher{recs: []model.CountRecord{
		{CellID: 523, Kind: model.MetricCreated, Timestamp: day, Count: 7},
	}}
	got, err := NewCachingFetcher(monthly, st, time.Hour, CacheScope{Period: "P1M"}).
		Fetch(context.Background(), cacheCell(), cacheInterval(), model.MetricCreated)
	require.NoError(t, err)

	assert.Equal(t, 1, monthly.calls)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Count)
}

func TestCachingFetcher_MismatchedEntryIsRefetched(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)
	scope := CacheScope{Period: "P1D"}
	key := CacheKey(cacheCell(), cacheInterval(), model.MetricCreated, scope)
	require.NoError(t, st.SetCachedResponse(ctx, key, []model.CountRecord{
		{CellID: 557, Kind: model.MetricDeleted, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Count: 99},
	}, time.Hour))

	inner := &countingFetcher{recs: []model.CountRecord{
		{CellID: 523, Kind: model.MetricCreated, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Count: 7},
	}}
	got, err := NewCachingFetcher(inner, st, time.Hour, scope).Fetch(ctx, cacheCell(), cacheInterval(), model.MetricCreated)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	require.Len(t, got, 1)
	assert.Equal(t, int64(523), got[0].CellID)
	assert.Equal(t, int64(7), got[0].Count)

	stored, err := st.GetCachedResponse(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}
