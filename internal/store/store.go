// Package store persists extraction runs and finished restaurant records.
// Two backends exist: SQLite for single-machine use and Postgres for
// shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tableiq/research-cli/internal/model"
)

// ErrNotFound is returned when a run lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	URL          string          `json:"url,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Records
	SaveRecord(ctx context.Context, rec *model.RestaurantRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NopStore discards everything; used when persistence is disabled.
type NopStore struct{}

func (NopStore) CreateRun(context.Context, *model.Run) error          { return nil }
func (NopStore) UpdateRun(context.Context, *model.Run) error          { return nil }
func (NopStore) GetRun(context.Context, string) (*model.Run, error)   { return nil, ErrNotFound }
func (NopStore) ListRuns(context.Context, RunFilter) ([]model.Run, error) {
	return nil, nil
}
func (NopStore) SaveRecord(context.Context, *model.RestaurantRecord) error { return nil }
func (NopStore) Migrate(context.Context) error                             { return nil }
func (NopStore) Close() error                                              { return nil }
