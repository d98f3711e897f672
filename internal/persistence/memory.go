package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
)

// NewMemoryRepository returns an in-memory Repository used by backtests
// and tests. Safe for concurrent use.
func NewMemoryRepository() Repository {
	return Repository{
		Signals:     &memSignalRepo{signals: map[string]forwardtest.Signal{}},
		Outcomes:    &memOutcomeRepo{},
		Performance: &memPerformanceRepo{},
	}
}

type memSignalRepo struct {
	mu      sync.RWMutex
	signals map[string]forwardtest.Signal
	order   []string
}

func (r *memSignalRepo) Create(_ context.Context, sig forwardtest.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.signals[sig.ID]; exists {
		return fmt.Errorf("signal %s already exists", sig.ID)
	}
	r.signals[sig.ID] = sig
	r.order = append(r.order, sig.ID)
	return nil
}

func (r *memSignalRepo) GetActive(_ context.Context, instrument string) (*forwardtest.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		sig := r.signals[id]
		if sig.Instrument == instrument && sig.Status == forwardtest.StatusActive {
			copied := sig
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memSignalRepo) Get(_ context.Context, id string) (*forwardtest.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sig, ok := r.signals[id]
	if !ok {
		return nil, nil
	}
	copied := sig
	return &copied, nil
}

func (r *memSignalRepo) UpdateStatus(_ context.Context, id string, status forwardtest.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	if !ok {
		return fmt.Errorf("signal %s not found", id)
	}
	sig.Status = status
	r.signals[id] = sig
	return nil
}

func (r *memSignalRepo) ListByInstrument(_ context.Context, instrument string, limit int) ([]forwardtest.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]forwardtest.Signal, 0)
	for i := len(r.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		sig := r.signals[r.order[i]]
		if sig.Instrument == instrument {
			out = append(out, sig)
		}
	}
	return out, nil
}

type memOutcomeRepo struct {
	mu       sync.RWMutex
	outcomes []forwardtest.Outcome
}

func (r *memOutcomeRepo) Create(_ context.Context, out forwardtest.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		if o.SignalID == out.SignalID {
			return fmt.Errorf("outcome for signal %s already recorded", out.SignalID)
		}
	}
	r.outcomes = append(r.outcomes, out)
	return nil
}

func (r *memOutcomeRepo) ListSince(_ context.Context, since time.Time) ([]forwardtest.Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]forwardtest.Outcome, 0)
	for _, o := range r.outcomes {
		if !o.ResolvedAt.Before(since) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(out[j].ResolvedAt) })
	return out, nil
}

type memPerformanceRepo struct {
	mu      sync.RWMutex
	records []ranker.PerformanceRecord
}

func (r *memPerformanceRepo) Replace(_ context.Context, records []ranker.PerformanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append([]ranker.PerformanceRecord(nil), records...)
	return nil
}

func (r *memPerformanceRepo) List(_ context.Context) ([]ranker.PerformanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ranker.PerformanceRecord(nil), r.records...), nil
}
