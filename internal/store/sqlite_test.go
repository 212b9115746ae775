package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(cellID int64) model.CellResult {
	ratio := 0.6
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.CellResult{
		CellID: cellID,
		Series: map[model.MetricKind]model.MergedSeries{
			model.MetricCreated: {CellID: cellID, Kind: model.MetricCreated, Records: []model.CountRecord{
				{CellID: cellID, Kind: model.MetricCreated, Timestamp: ts, Count: 100},
			}},
		},
		Persistence: &model.PersistenceMetric{CellID: cellID, Ratio: &ratio, TotalCreated: 100, TotalRemoved: 40, At: ts},
		Fits: []model.SaturationFit{
			{CellID: cellID, Kind: model.MetricCreated, Status: model.FitUnfit, Points: 1, Reason: "too short"},
		},
	}
}

func TestSQLite_RunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "Curitiba", map[string]any{"cells": []int64{523, 557}})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	summary := &model.RunSummary{RunID: run.ID, Region: "Curitiba", Complete: []int64{523}}
	require.NoError(t, s.CompleteRun(ctx, run.ID, summary))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, "Curitiba", got.Region)
	require.NotNil(t, got.Summary)
	assert.Equal(t, []int64{523}, got.Summary.Complete)
	assert.Contains(t, got.Params, "cells")
}

func TestSQLite_FailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "Curitiba", nil)
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, errors.New("endpoint unreachable")))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "endpoint unreachable", got.Error)
	assert.Nil(t, got.Summary)
}

func TestSQLite_UnknownRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	require.Error(t, s.CompleteRun(ctx, "missing", &model.RunSummary{}))
	require.Error(t, s.FailRun(ctx, "missing", errors.New("x")))
}

func TestSQLite_ListRunsFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.CreateRun(ctx, "Curitiba", nil)
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "São Paulo", nil)
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, a.ID, errors.New("boom")))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)

	sp, err := s.ListRuns(ctx, RunFilter{Region: "São Paulo"})
	require.NoError(t, err)
	assert.Len(t, sp, 1)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_ListRunsCreatedAfter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_, err := s.CreateRun(ctx, "Curitiba", nil)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	recent, err := s.CreateRun(ctx, "Curitiba", nil)
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, RunFilter{CreatedAfter: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, recent.ID, runs[0].ID)
}

func TestSQLite_CellResults(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "Curitiba", nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveCellResult(ctx, run.ID, sampleResult(557)))
	require.NoError(t, s.SaveCellResult(ctx, run.ID, sampleResult(523)))

	updated := sampleResult(557)
	updated.Skipped = []model.SkipReason{{CellID: 557, Kind: model.MetricDeleted, Stage: model.StageFetch, Error: "400"}}
	require.NoError(t, s.SaveCellResult(ctx, run.ID, updated))

	got, err := s.ListCellResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(523), got[0].CellID)
	assert.Equal(t, int64(557), got[1].CellID)
	require.Len(t, got[1].Skipped, 1)
	require.NotNil(t, got[0].Persistence)
	assert.InDelta(t, 0.6, *got[0].Persistence.Ratio, 1e-9)
	assert.Equal(t, int64(100), got[0].Series[model.MetricCreated].Total())
}

func TestSQLite_ResponseCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	recs, err := s.GetCachedResponse(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, recs)

	want := []model.CountRecord{{CellID: 1, Kind: model.MetricCreated, Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Count: 5}}
	require.NoError(t, s.SetCachedResponse(ctx, "k1", want, time.Hour))

	got, err := s.GetCachedResponse(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.SetCachedResponse(ctx, "empty", nil, time.Hour))
	got, err = s.GetCachedResponse(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLite_ResponseCacheExpires(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.SetCachedResponse(ctx, "k", []model.CountRecord{{Count: 1}}, time.Hour))

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	got, err := s.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
