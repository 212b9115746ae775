package saturation

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/optimize"
)

// ErrNotConverged is returned by an Optimizer that stopped before reaching a minimum.
var ErrNotConverged = eris.New("saturation: optimizer did not converge")

// Optimizer minimises an objective over a parameter vector.
type Optimizer interface {
	Minimize(f func(x []float64) float64, x0 []float64) ([]float64, error)
}

// NelderMead is the default derivative-free Optimizer, backed by gonum.
type NelderMead struct {
	MaxIterations int
}

// Minimize implements Optimizer.
func (nm NelderMead) Minimize(f func(x []float64) float64, x0 []float64) ([]float64, error) {
	settings := &optimize.Settings{
		MajorIterations: nm.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 200,
		},
	}
	res, err := optimize.Minimize(optimize.Problem{Func: f}, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, eris.Wrap(err, "saturation: nelder-mead")
	}
	if res == nil || res.Status.Early() {
		return nil, ErrNotConverged
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.Wrap(ErrNotConverged, "saturation: non-finite parameters")
		}
	}
	return res.X, nil
}
