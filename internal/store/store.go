// Package store records pipeline runs and caches ohsome responses.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Region       string          `json:"region,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for pipeline runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, region string, params map[string]any) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Cell results
	SaveCellResult(ctx context.Context, runID string, result model.CellResult) error
	ListCellResults(ctx context.Context, runID string) ([]model.CellResult, error)

	// Response cache. GetCachedResponse returns nil, nil on a miss or an
	// expired entry.
	GetCachedResponse(ctx context.Context, key string) ([]model.CountRecord, error)
	SetCachedResponse(ctx context.Context, key string, records []model.CountRecord, ttl time.Duration) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = eris.New("run not found")

const defaultListLimit = 100

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
