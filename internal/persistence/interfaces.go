// Package persistence defines the storage contracts for signals, outcomes
// and performance records. The core never assumes a storage technology;
// the postgres subpackage and the in-memory implementation here are the
// two provided backends.
package persistence

import (
	"context"
	"time"

	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
)

// SignalRepo stores fired signals and tracks the per-instrument active
// signal.
type SignalRepo interface {
	// Create persists a new signal in active state.
	Create(ctx context.Context, sig forwardtest.Signal) error

	// GetActive returns the instrument's active signal, or nil.
	GetActive(ctx context.Context, instrument string) (*forwardtest.Signal, error)

	// Get returns a signal by ID, or nil when unknown.
	Get(ctx context.Context, id string) (*forwardtest.Signal, error)

	// UpdateStatus moves a signal to a terminal status.
	UpdateStatus(ctx context.Context, id string, status forwardtest.Status) error

	// ListByInstrument returns signals for an instrument, newest first.
	ListByInstrument(ctx context.Context, instrument string, limit int) ([]forwardtest.Signal, error)
}

// OutcomeRepo stores terminal resolutions. Outcomes are written once and
// never updated.
type OutcomeRepo interface {
	Create(ctx context.Context, out forwardtest.Outcome) error

	// ListSince returns outcomes resolved at or after the cutoff, oldest
	// first.
	ListSince(ctx context.Context, since time.Time) ([]forwardtest.Outcome, error)
}

// PerformanceRepo stores the ranker's rebuilt records. Replace discards
// the superseded generation; records are not versioned.
type PerformanceRepo interface {
	Replace(ctx context.Context, records []ranker.PerformanceRecord) error
	List(ctx context.Context) ([]ranker.PerformanceRecord, error)
}

// Repository aggregates the three stores.
type Repository struct {
	Signals     SignalRepo
	Outcomes    OutcomeRepo
	Performance PerformanceRepo
}
