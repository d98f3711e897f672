package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantfold/confluence/internal/domain/forwardtest"
	"github.com/quantfold/confluence/internal/domain/ranker"
	"github.com/quantfold/confluence/internal/domain/regime"
	"github.com/quantfold/confluence/internal/domain/strategy"
	"github.com/quantfold/confluence/internal/persistence"
)

func dirFromInt(v int) strategy.Direction {
	switch {
	case v > 0:
		return strategy.Long
	case v < 0:
		return strategy.Short
	default:
		return strategy.Flat
	}
}

func regimeFromInt(v int) regime.Regime {
	if v < int(regime.Undefined) || v > int(regime.HighVolatility) {
		return regime.Undefined
	}
	return regime.Regime(v)
}

type outcomesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOutcomesRepo builds the PostgreSQL-backed OutcomeRepo.
func NewOutcomesRepo(db *sqlx.DB, timeout time.Duration) persistence.OutcomeRepo {
	return &outcomesRepo{db: db, timeout: timeout}
}

func (r *outcomesRepo) Create(ctx context.Context, out forwardtest.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outcomes (signal_id, resolved_at, status, realized_return)
		 VALUES ($1, $2, $3, $4)`,
		out.SignalID, out.ResolvedAt, string(out.Status), out.RealizedReturn)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("outcome for signal %s already recorded: %w", out.SignalID, err)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (r *outcomesRepo) ListSince(ctx context.Context, since time.Time) ([]forwardtest.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type row struct {
		SignalID       string    `db:"signal_id"`
		ResolvedAt     time.Time `db:"resolved_at"`
		Status         string    `db:"status"`
		RealizedReturn float64   `db:"realized_return"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		`SELECT signal_id, resolved_at, status, realized_return
		 FROM outcomes WHERE resolved_at >= $1 ORDER BY resolved_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	out := make([]forwardtest.Outcome, len(rows))
	for i, rw := range rows {
		out[i] = forwardtest.Outcome{
			SignalID:       rw.SignalID,
			ResolvedAt:     rw.ResolvedAt,
			Status:         forwardtest.Status(rw.Status),
			RealizedReturn: rw.RealizedReturn,
		}
	}
	return out, nil
}

type performanceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPerformanceRepo builds the PostgreSQL-backed PerformanceRepo.
func NewPerformanceRepo(db *sqlx.DB, timeout time.Duration) persistence.PerformanceRepo {
	return &performanceRepo{db: db, timeout: timeout}
}

// Replace swaps the whole generation inside one transaction; superseded
// records are discarded, not versioned.
func (r *performanceRepo) Replace(ctx context.Context, records []ranker.PerformanceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_performance`); err != nil {
		return fmt.Errorf("clear performance records: %w", err)
	}

	for _, rec := range records {
		detail, err := json.Marshal(struct {
			Correlations map[string]float64                    `json:"correlations"`
			Buckets      map[regime.Regime]ranker.RegimeBucket `json:"buckets"`
		}{rec.Correlations, rec.Buckets})
		if err != nil {
			return fmt.Errorf("marshal record detail: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO strategy_performance (strategy_id, window_start, window_end,
				trade_count, win_rate, p_value, significance, verdict, detail)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rec.StrategyID, rec.WindowStart, rec.WindowEnd, rec.TradeCount,
			rec.WinRate, rec.PValue, string(rec.Significance), string(rec.Verdict), detail)
		if err != nil {
			return fmt.Errorf("insert performance record %s: %w", rec.StrategyID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func (r *performanceRepo) List(ctx context.Context) ([]ranker.PerformanceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type row struct {
		StrategyID   string    `db:"strategy_id"`
		WindowStart  time.Time `db:"window_start"`
		WindowEnd    time.Time `db:"window_end"`
		TradeCount   int       `db:"trade_count"`
		WinRate      float64   `db:"win_rate"`
		PValue       float64   `db:"p_value"`
		Significance string    `db:"significance"`
		Verdict      string    `db:"verdict"`
		Detail       []byte    `db:"detail"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		`SELECT strategy_id, window_start, window_end, trade_count, win_rate,
			p_value, significance, verdict, detail
		 FROM strategy_performance ORDER BY strategy_id`)
	if err != nil {
		return nil, fmt.Errorf("list performance records: %w", err)
	}

	out := make([]ranker.PerformanceRecord, len(rows))
	for i, rw := range rows {
		rec := ranker.PerformanceRecord{
			StrategyID:   rw.StrategyID,
			WindowStart:  rw.WindowStart,
			WindowEnd:    rw.WindowEnd,
			TradeCount:   rw.TradeCount,
			WinRate:      rw.WinRate,
			PValue:       rw.PValue,
			Significance: ranker.Significance(rw.Significance),
			Verdict:      ranker.Verdict(rw.Verdict),
		}
		var detail struct {
			Correlations map[string]float64                    `json:"correlations"`
			Buckets      map[regime.Regime]ranker.RegimeBucket `json:"buckets"`
		}
		if len(rw.Detail) > 0 {
			if err := json.Unmarshal(rw.Detail, &detail); err != nil {
				return nil, fmt.Errorf("decode record detail for %s: %w", rw.StrategyID, err)
			}
		}
		rec.Correlations = detail.Correlations
		rec.Buckets = detail.Buckets
		out[i] = rec
	}
	return out, nil
}

// Schema returns the idempotent DDL for the three tables.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			direction INT NOT NULL,
			composite_score DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			contributing TEXT[] NOT NULL DEFAULT '{}',
			entry_price DOUBLE PRECISION NOT NULL,
			position_frac DOUBLE PRECISION NOT NULL,
			tp_price DOUBLE PRECISION NOT NULL,
			sl_price DOUBLE PRECISION NOT NULL,
			regime_at_open INT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS signals_one_active
			ON signals (instrument) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			signal_id TEXT PRIMARY KEY REFERENCES signals(id),
			resolved_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			realized_return DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_performance (
			strategy_id TEXT PRIMARY KEY,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			trade_count INT NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			p_value DOUBLE PRECISION NOT NULL,
			significance TEXT NOT NULL,
			verdict TEXT NOT NULL,
			detail JSONB
		)`,
	}
}
