// Package model defines the shared types passed between the acquisition, merge and analysis stages.
package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// GridCell is one numbered 1 km² cell of the study grid.
type GridCell struct {
	ID         int64          `json:"id"`
	Geometry   geom.T         `json:"-"`
	Properties map[string]any `json:"properties,omitempty"`
}

// TimeInterval is a half-open range [Start, End).
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// String renders the interval in the ohsome "start/end" form.
func (i TimeInterval) String() string {
	return fmt.Sprintf("%s/%s", i.Start.UTC().Format(time.RFC3339), i.End.UTC().Format(time.RFC3339))
}

// MetricKind identifies which contribution type a count refers to.
type MetricKind string

const (
	MetricCreated  MetricKind = "created"
	MetricModified MetricKind = "modified"
	MetricDeleted  MetricKind = "deleted"
)

// MetricRemoved labels the derived modified+deleted series. It is never
// queried directly.
const MetricRemoved MetricKind = "removed"

// AllMetrics lists every kind in the order the pipeline fetches them.
var AllMetrics = []MetricKind{MetricCreated, MetricModified, MetricDeleted}

// ContributionType returns the ohsome contributionType parameter for the kind.
func (k MetricKind) ContributionType() string {
	switch k {
	case MetricCreated:
		return "creation"
	case MetricModified:
		return "tagChange,geometryChange"
	case MetricDeleted:
		return "deletion"
	default:
		return ""
	}
}

// Valid reports whether k is one of the known kinds.
func (k MetricKind) Valid() bool {
	return k.ContributionType() != ""
}

// ParseMetricKind converts a string to a MetricKind.
func ParseMetricKind(s string) (MetricKind, error) {
	k := MetricKind(s)
	if !k.Valid() {
		return "", eris.Errorf("model: unknown metric kind %q", s)
	}
	return k, nil
}
