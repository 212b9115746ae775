package saturation

import (
	"errors"
	"math"
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

type fakeOptimizer struct {
	calls int
	x     []float64
	err   error
}

func (f *fakeOptimizer) Minimize(_ func([]float64) float64, _ []float64) ([]float64, error) {
	f.calls++
	return f.x, f.err
}

var origin = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func seriesOf(counts ...int64) model.MergedSeries {
	s := model.MergedSeries{CellID: 557, Kind: model.MetricCreated}
	for i, n := range counts {
		s.Records = append(s.Records, model.CountRecord{
			CellID: 557, Kind: model.MetricCreated, Timestamp: origin.AddDate(0, 0, i), Count: n,
		})
	}
	return s
}

// logisticSeries returns daily increments whose running total follows a
// logistic curve with the given capacity, rate and midpoint day.
func logisticSeries(days int, k, r, mid float64) model.MergedSeries {
	counts := make([]int64, days)
	var prev int64
	for d := 0; d < days; d++ {
		cum := int64(math.Round(model.Logistic(k, r, float64(d)-mid)))
		counts[d] = cum - prev
		prev = cum
	}
	return seriesOf(counts...)
}

func TestFit_TooFewPointsSkipsOptimizer(t *testing.T) {
	opt := &fakeOptimizer{}
	f := &Fitter{MinPoints: 5, Optimizer: opt}

	got := f.Fit(seriesOf(1, 2, 3))
	assert.Equal(t, model.FitUnfit, got.Status)
	assert.Equal(t, 3, got.Points)
	assert.NotEmpty(t, got.Reason)
	assert.Equal(t, 0, opt.calls)
}

func TestFit_AllZeroIsUnfit(t *testing.T) {
	opt := &fakeOptimizer{}
	got := (&Fitter{MinPoints: 5, Optimizer: opt}).Fit(seriesOf(0, 0, 0, 0, 0, 0))
	assert.Equal(t, model.FitUnfit, got.Status)
	assert.Equal(t, 0, opt.calls)
}

func TestFit_OptimizerErrorIsNotConverged(t *testing.T) {
	opt := &fakeOptimizer{err: ErrNotConverged}
	got := (&Fitter{MinPoints: 5, Optimizer: opt}).Fit(seriesOf(1, 2, 3, 4, 5, 6))
	assert.Equal(t, model.FitNotConverged, got.Status)
	assert.Equal(t, 1, opt.calls)
}

func TestFit_NonFiniteParametersAreNotConverged(t *testing.T) {
	opt := &fakeOptimizer{x: []float64{math.NaN(), 0, 0.5}}
	got := (&Fitter{MinPoints: 5, Optimizer: opt}).Fit(seriesOf(1, 2, 3, 4, 5, 6))
	assert.Equal(t, model.FitNotConverged, got.Status)
}

func TestFit_WrongParameterCount(t *testing.T) {
	opt := &fakeOptimizer{x: []float64{1}}
	got := (&Fitter{MinPoints: 5, Optimizer: opt}).Fit(seriesOf(1, 2, 3, 4, 5, 6))
	assert.Equal(t, model.FitNotConverged, got.Status)
}

func TestFit_RecoversLogisticParameters(t *testing.T) {
	s := logisticSeries(90, 1000, 0.15, 40)

	got := NewFitter(5, 5000).Fit(s)
	require.Equal(t, model.FitOK, got.Status, got.Reason)

	assert.InDelta(t, 1000, got.Capacity, 50)
	assert.InDelta(t, 0.15, got.GrowthRate, 0.03)
	assert.InDelta(t, 40, got.Midpoint.Sub(origin).Hours()/24, 2)
	assert.Greater(t, got.RSquared, 0.99)
	assert.Less(t, got.RMSE, 20.0)
	assert.Equal(t, 90, got.Points)

	assert.InDelta(t, 500, got.Evaluate(got.Midpoint), 30)
}

func TestGoodness_PerfectFit(t *testing.T) {
	y := []float64{1, 2, 3}
	rsq, rmse := goodness(y, y)
	assert.Equal(t, 1.0, rsq)
	assert.Equal(t, 0.0, rmse)
}

func TestNelderMead_MinimisesQuadratic(t *testing.T) {
	x, err := NelderMead{MaxIterations: 1000}.Minimize(func(p []float64) float64 {
		return (p[0]-3)*(p[0]-3) + (p[1]+1)*(p[1]+1)
	}, []float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 3, x[0], 1e-3)
	assert.InDelta(t, -1, x[1], 1e-3)
}

func TestNelderMead_IterationLimit(t *testing.T) {
	_, err := NelderMead{MaxIterations: 1}.Minimize(func(p []float64) float64 {
		return (p[0]-3)*(p[0]-3) + (p[1]+1)*(p[1]+1)
	}, []float64{0, 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConverged))
}

func TestNelderMead_StopsOnceObjectiveStopsImproving(t *testing.T) {
	evals := 0
	x, err := NelderMead{MaxIterations: 100000}.Minimize(func(p []float64) float64 {
		evals++
		return 7
	}, []float64{1, 2})
	require.NoError(t, err)
	assert.Len(t, x, 2)
	assert.Less(t, evals, 100000)
}
