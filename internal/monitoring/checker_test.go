package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ohsome-cli/internal/config"
	"github.com/sells-group/ohsome-cli/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24, FailureRateThreshold: 0.1}
	checker := NewChecker(newTestCollector(&fakeStore{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(newTestCollector(&fakeStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var hooks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hooks.Add(1)
	}))
	defer srv.Close()

	recent := collectNow.Add(-time.Hour)
	st := &fakeStore{runs: []model.Run{
		{ID: "a", Status: model.RunStatusFailed, Error: "pipeline: ohsome endpoint unreachable", CreatedAt: recent},
		{ID: "b", Status: model.RunStatusFailed, Error: "pipeline: ohsome endpoint unreachable", CreatedAt: recent},
		{ID: "c", Status: model.RunStatusComplete, CreatedAt: recent},
	}}
	cfg := config.MonitoringConfig{
		WebhookURL:               srv.URL,
		LookbackWindowHours:      24,
		FailureRateThreshold:     0.5,
		UnconvergedRateThreshold: 0.5,
	}
	checker := NewChecker(newTestCollector(st), NewAlerter(cfg), cfg)

	// Failure rate 2/3 and two unreachable runs.
	assert.Equal(t, 2, checker.Check(context.Background()))
	assert.Equal(t, int32(2), hooks.Load())
}

func TestChecker_SuppressesRepeatsWithinWindow(t *testing.T) {
	var hooks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hooks.Add(1)
	}))
	defer srv.Close()

	recent := collectNow.Add(-time.Hour)
	st := &fakeStore{runs: []model.Run{
		{ID: "a", Status: model.RunStatusFailed, Error: "pipeline: run cancelled", CreatedAt: recent},
		{ID: "b", Status: model.RunStatusFailed, Error: "pipeline: run cancelled", CreatedAt: recent},
		{ID: "c", Status: model.RunStatusFailed, Error: "pipeline: run cancelled", CreatedAt: recent},
	}}
	cfg := config.MonitoringConfig{WebhookURL: srv.URL, LookbackWindowHours: 6, FailureRateThreshold: 0.5}
	checker := NewChecker(newTestCollector(st), NewAlerter(cfg), cfg)

	clock := collectNow
	checker.now = func() time.Time { return clock }

	assert.Equal(t, 1, checker.Check(context.Background()))
	assert.Equal(t, 0, checker.Check(context.Background()))

	clock = clock.Add(7 * time.Hour)
	assert.Equal(t, 1, checker.Check(context.Background()))
	assert.Equal(t, int32(2), hooks.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&fakeStore{listErr: errors.New("db down")}), NewAlerter(cfg), cfg)
	assert.Equal(t, 0, checker.Check(context.Background()))
}
