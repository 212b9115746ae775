package model

import (
	"math"
	"time"
)

// PersistenceMetric is the share of created contributions that survive to
// the end of the observation window. Ratio is nil when nothing was created.
type PersistenceMetric struct {
	CellID       int64     `json:"cell_id" yaml:"cell_id"`
	Ratio        *float64  `json:"ratio" yaml:"ratio"`
	At           time.Time `json:"at" yaml:"at"`
	TotalCreated int64     `json:"total_created" yaml:"total_created"`
	TotalRemoved int64     `json:"total_removed" yaml:"total_removed"`
}

// Defined reports whether the ratio could be computed.
func (p PersistenceMetric) Defined() bool {
	return p.Ratio != nil
}

// FitStatus is the outcome of a saturation fit.
type FitStatus string

const (
	FitOK           FitStatus = "ok"
	FitUnfit        FitStatus = "unfit"
	FitNotConverged FitStatus = "not_converged"
)

// SaturationFit holds logistic parameters K / (1 + exp(-r (t - t0))) fitted
// to a cumulative count series.
type SaturationFit struct {
	CellID     int64      `json:"cell_id" yaml:"cell_id"`
	Kind       MetricKind `json:"kind" yaml:"kind"`
	Status     FitStatus  `json:"status" yaml:"status"`
	Capacity   float64    `json:"capacity" yaml:"capacity"`
	GrowthRate float64    `json:"growth_rate_per_day" yaml:"growth_rate_per_day"`
	Midpoint   time.Time  `json:"midpoint" yaml:"midpoint"`
	RSquared   float64    `json:"r_squared" yaml:"r_squared"`
	RMSE       float64    `json:"rmse" yaml:"rmse"`
	Points     int        `json:"points" yaml:"points"`
	Reason     string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Evaluate returns the fitted cumulative count at t.
func (f SaturationFit) Evaluate(t time.Time) float64 {
	if f.Status != FitOK {
		return 0
	}
	days := t.Sub(f.Midpoint).Hours() / 24
	return Logistic(f.Capacity, f.GrowthRate, days)
}

// Logistic evaluates k / (1 + exp(-r x)).
func Logistic(k, r, x float64) float64 {
	return k / (1 + math.Exp(-r*x))
}
