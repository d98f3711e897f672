// Package forwardtest tracks open signals against subsequent price action
// and resolves them to won, lost or expired. Resolution is a one-way state
// machine: a terminal signal never transitions again.
package forwardtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantfold/confluence/internal/domain/bars"
	"github.com/quantfold/confluence/internal/domain/regime"
	"github.com/quantfold/confluence/internal/domain/strategy"
)

// Status is the signal lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status is a resolved state.
func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusExpired
}

// ErrAlreadyResolved rejects a second resolution attempt on a terminal
// signal. The attempt is a no-op; the stored status never changes.
var ErrAlreadyResolved = errors.New("signal already resolved")

// Signal is a fired trade signal. Status transitions only through the
// resolver; all other fields are immutable after creation.
type Signal struct {
	ID             string             `json:"id" db:"id"`
	Instrument     string             `json:"instrument" db:"instrument"`
	OpenedAt       time.Time          `json:"opened_at" db:"opened_at"`
	Direction      strategy.Direction `json:"direction" db:"direction"`
	CompositeScore float64            `json:"composite_score" db:"composite_score"`
	Confidence     float64            `json:"confidence" db:"confidence"`
	Contributing   []string           `json:"contributing" db:"-"`
	EntryPrice     float64            `json:"entry_price" db:"entry_price"`
	PositionFrac   float64            `json:"position_size_fraction" db:"position_frac"`
	TPPrice        float64            `json:"tp_price" db:"tp_price"`
	SLPrice        float64            `json:"sl_price" db:"sl_price"`
	RegimeAtOpen   regime.Regime      `json:"regime_at_open" db:"regime_at_open"`
	Status         Status             `json:"status" db:"status"`
}

// Outcome records a signal's terminal resolution. Created exactly once,
// immutable thereafter.
type Outcome struct {
	SignalID       string    `json:"signal_id" db:"signal_id"`
	ResolvedAt     time.Time `json:"resolved_at" db:"resolved_at"`
	Status         Status    `json:"status" db:"status"`
	RealizedReturn float64   `json:"realized_return" db:"realized_return"`
}

// Resolver applies each new bar to an active signal.
type Resolver struct {
	MaxHolding time.Duration
}

// NewResolver builds a resolver with the given maximum holding horizon.
func NewResolver(maxHolding time.Duration) *Resolver {
	return &Resolver{MaxHolding: maxHolding}
}

// Resolve evaluates one new bar against the signal. Returns (nil, nil)
// while the signal stays active. On resolution the signal's Status is
// updated and the Outcome returned. A terminal signal returns
// ErrAlreadyResolved.
//
// When the bar crosses both TP and SL, the signal resolves lost: the
// stop-loss takes priority as the conservative tie-break.
func (r *Resolver) Resolve(sig *Signal, bar bars.Bar) (*Outcome, error) {
	if sig.Status.Terminal() {
		return nil, fmt.Errorf("signal %s is %s: %w", sig.ID, sig.Status, ErrAlreadyResolved)
	}
	if bar.Instrument != sig.Instrument {
		return nil, fmt.Errorf("bar for %s applied to signal on %s", bar.Instrument, sig.Instrument)
	}

	var hitTP, hitSL bool
	if sig.Direction == strategy.Long {
		hitTP = bar.High >= sig.TPPrice
		hitSL = bar.Low <= sig.SLPrice
	} else {
		hitTP = bar.Low <= sig.TPPrice
		hitSL = bar.High >= sig.SLPrice
	}

	switch {
	case hitSL:
		// Stop priority covers the both-crossed case too.
		return r.finish(sig, bar.Timestamp, StatusLost, sig.SLPrice), nil
	case hitTP:
		return r.finish(sig, bar.Timestamp, StatusWon, sig.TPPrice), nil
	case bar.Timestamp.Sub(sig.OpenedAt) > r.MaxHolding:
		return r.finish(sig, bar.Timestamp, StatusExpired, bar.Close), nil
	default:
		return nil, nil
	}
}

func (r *Resolver) finish(sig *Signal, at time.Time, status Status, exitPrice float64) *Outcome {
	sig.Status = status
	ret := (exitPrice - sig.EntryPrice) / sig.EntryPrice
	if sig.Direction == strategy.Short {
		ret = -ret
	}
	return &Outcome{
		SignalID:       sig.ID,
		ResolvedAt:     at,
		Status:         status,
		RealizedReturn: ret,
	}
}
