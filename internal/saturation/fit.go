// Package saturation fits a logistic growth curve to cumulative contribution
// counts to estimate where mapping activity levels off.
package saturation

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/ohsome-cli/internal/model"
)

const (
	defaultMinPoints     = 5
	defaultMaxIterations = 2000

	// Guard value for objective evaluations that overflow.
	penalty = 1e300
)

// Fitter fits K / (1 + exp(-r (t - t0))) to the cumulative sum of a series.
type Fitter struct {
	MinPoints int
	Optimizer Optimizer
}

// NewFitter returns a Fitter using gonum Nelder-Mead.
func NewFitter(minPoints, maxIterations int) *Fitter {
	if minPoints <= 0 {
		minPoints = defaultMinPoints
	}
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Fitter{MinPoints: minPoints, Optimizer: NelderMead{MaxIterations: maxIterations}}
}

// Fit never panics. Short series are reported as unfit without calling the
// optimizer; optimizer failures come back as not_converged.
func (f *Fitter) Fit(s model.MergedSeries) model.SaturationFit {
	out := model.SaturationFit{CellID: s.CellID, Kind: s.Kind, Points: s.Len()}

	minPoints := f.MinPoints
	if minPoints <= 0 {
		minPoints = defaultMinPoints
	}
	if s.Len() < minPoints {
		out.Status = model.FitUnfit
		out.Reason = fmt.Sprintf("%d points, need at least %d", s.Len(), minPoints)
		return out
	}

	ts := s.Timestamps()
	origin := ts[0]
	spanDays := ts[len(ts)-1].Sub(origin).Hours() / 24
	if spanDays <= 0 {
		out.Status = model.FitUnfit
		out.Reason = "series spans no time"
		return out
	}

	cum := s.Cumulative()
	y := make([]float64, len(cum))
	for i, c := range cum {
		y[i] = float64(c)
	}
	ymax := floats.Max(y)
	if ymax <= 0 {
		out.Status = model.FitUnfit
		out.Reason = "series has no contributions"
		return out
	}

	// Fit in normalised space: t in [0,1], y in [0,1].
	x := make([]float64, len(ts))
	yn := make([]float64, len(y))
	for i := range ts {
		x[i] = ts[i].Sub(origin).Hours() / 24 / spanDays
		yn[i] = y[i] / ymax
	}

	mid := 0.5
	for i, v := range yn {
		if v >= 0.5 {
			mid = x[i]
			break
		}
	}
	x0 := []float64{math.Log(1.1), math.Log(4), mid}

	objective := func(p []float64) float64 {
		k, r, m := math.Exp(p[0]), math.Exp(p[1]), p[2]
		var sse float64
		for i := range x {
			d := model.Logistic(k, r, x[i]-m) - yn[i]
			sse += d * d
		}
		if math.IsNaN(sse) || math.IsInf(sse, 0) {
			return penalty
		}
		return sse
	}

	opt := f.Optimizer
	if opt == nil {
		opt = NelderMead{MaxIterations: defaultMaxIterations}
	}
	p, err := opt.Minimize(objective, x0)
	if err != nil || len(p) != 3 {
		out.Status = model.FitNotConverged
		if err != nil {
			out.Reason = err.Error()
		} else {
			out.Reason = fmt.Sprintf("optimizer returned %d parameters", len(p))
		}
		zap.L().Debug("saturation: fit did not converge",
			zap.Int64("cell", s.CellID), zap.String("kind", string(s.Kind)), zap.Error(err))
		return out
	}

	k := math.Exp(p[0]) * ymax
	r := math.Exp(p[1]) / spanDays
	midDays := p[2] * spanDays
	if !finite(k, r, midDays) || math.Abs(midDays) > 1e6 {
		out.Status = model.FitNotConverged
		out.Reason = "non-finite parameters"
		return out
	}

	out.Status = model.FitOK
	out.Capacity = k
	out.GrowthRate = r
	out.Midpoint = origin.Add(time.Duration(midDays * 24 * float64(time.Hour)))

	fitted := make([]float64, len(y))
	for i := range x {
		fitted[i] = model.Logistic(k, r, (x[i]-p[2])*spanDays)
	}
	out.RSquared, out.RMSE = goodness(y, fitted)
	return out
}

func goodness(y, fitted []float64) (rsq, rmse float64) {
	var ssRes float64
	for i := range y {
		d := y[i] - fitted[i]
		ssRes += d * d
	}
	rmse = math.Sqrt(ssRes / float64(len(y)))

	mean := stat.Mean(y, nil)
	var ssTot float64
	for _, v := range y {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, rmse
		}
		return 0, rmse
	}
	return 1 - ssRes/ssTot, rmse
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
