// Package postgres implements the persistence interfaces over PostgreSQL
// with sqlx. Queries carry per-call timeouts and wrap driver errors with
// context.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/persistence"
)

type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo builds the PostgreSQL-backed SignalRepo.
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalRepo {
	return &signalsRepo{db: db, timeout: timeout}
}

func (r *signalsRepo) Create(ctx context.Context, sig forwardtest.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO signals (id, instrument, opened_at, direction, composite_score,
			confidence, contributing, entry_price, position_frac, tp_price, sl_price,
			regime_at_open, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		sig.ID, sig.Instrument, sig.OpenedAt, int(sig.Direction), sig.CompositeScore,
		sig.Confidence, pq.Array(sig.Contributing), sig.EntryPrice, sig.PositionFrac,
		sig.TPPrice, sig.SLPrice, int(sig.RegimeAtOpen), string(sig.Status))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate signal %s: %w", sig.ID, err)
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

type signalRow struct {
	ID             string         `db:"id"`
	Instrument     string         `db:"instrument"`
	OpenedAt       time.Time      `db:"opened_at"`
	Direction      int            `db:"direction"`
	CompositeScore float64        `db:"composite_score"`
	Confidence     float64        `db:"confidence"`
	Contributing   pq.StringArray `db:"contributing"`
	EntryPrice     float64        `db:"entry_price"`
	PositionFrac   float64        `db:"position_frac"`
	TPPrice        float64        `db:"tp_price"`
	SLPrice        float64        `db:"sl_price"`
	RegimeAtOpen   int            `db:"regime_at_open"`
	Status         string         `db:"status"`
}

func (row signalRow) toSignal() forwardtest.Signal {
	return forwardtest.Signal{
		ID:             row.ID,
		Instrument:     row.Instrument,
		OpenedAt:       row.OpenedAt,
		Direction:      dirFromInt(row.Direction),
		CompositeScore: row.CompositeScore,
		Confidence:     row.Confidence,
		Contributing:   []string(row.Contributing),
		EntryPrice:     row.EntryPrice,
		PositionFrac:   row.PositionFrac,
		TPPrice:        row.TPPrice,
		SLPrice:        row.SLPrice,
		RegimeAtOpen:   regimeFromInt(row.RegimeAtOpen),
		Status:         forwardtest.Status(row.Status),
	}
}

const signalColumns = `id, instrument, opened_at, direction, composite_score,
	confidence, contributing, entry_price, position_frac, tp_price, sl_price,
	regime_at_open, status`

func (r *signalsRepo) GetActive(ctx context.Context, instrument string) (*forwardtest.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row signalRow
	query := `SELECT ` + signalColumns + ` FROM signals WHERE instrument = $1 AND status = 'active' LIMIT 1`
	if err := r.db.GetContext(ctx, &row, query, instrument); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active signal for %s: %w", instrument, err)
	}
	sig := row.toSignal()
	return &sig, nil
}

func (r *signalsRepo) Get(ctx context.Context, id string) (*forwardtest.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row signalRow
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	sig := row.toSignal()
	return &sig, nil
}

func (r *signalsRepo) UpdateStatus(ctx context.Context, id string, status forwardtest.Status) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE signals SET status = $1 WHERE id = $2 AND status = 'active'`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update signal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update signal %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("signal %s is not active", id)
	}
	return nil
}

func (r *signalsRepo) ListByInstrument(ctx context.Context, instrument string, limit int) ([]forwardtest.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []signalRow
	query := `SELECT ` + signalColumns + ` FROM signals WHERE instrument = $1 ORDER BY opened_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, instrument, limit); err != nil {
		return nil, fmt.Errorf("list signals for %s: %w", instrument, err)
	}
	out := make([]forwardtest.Signal, len(rows))
	for i, row := range rows {
		out[i] = row.toSignal()
	}
	return out, nil
}
