// Package persistence measures how much of what was created in a cell survived.
package persistence

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// ErrUndefinedPersistence is returned by ComputeStrict when nothing was created.
var ErrUndefinedPersistence = eris.New("persistence: undefined, no created contributions")

// Compute returns (created - removed) / created over the whole window,
// clamped to [0, 1] and reported at the last timestamp of either series.
// Ratio is nil when created is zero.
func Compute(created, removed model.MergedSeries) model.PersistenceMetric {
	m := model.PersistenceMetric{
		CellID:       created.CellID,
		TotalCreated: created.Total(),
		TotalRemoved: removed.Total(),
		At:           created.Last(),
	}
	if m.CellID == 0 {
		m.CellID = removed.CellID
	}
	if last := removed.Last(); last.After(m.At) {
		m.At = last
	}

	if m.TotalCreated <= 0 {
		return m
	}

	ratio := float64(m.TotalCreated-m.TotalRemoved) / float64(m.TotalCreated)
	ratio = min(max(ratio, 0), 1)
	m.Ratio = &ratio
	return m
}

// ComputeStrict is Compute but fails with ErrUndefinedPersistence instead of
// returning a nil ratio.
func ComputeStrict(created, removed model.MergedSeries) (model.PersistenceMetric, error) {
	m := Compute(created, removed)
	if !m.Defined() {
		return m, eris.Wrapf(ErrUndefinedPersistence, "persistence: cell %d", m.CellID)
	}
	return m, nil
}
