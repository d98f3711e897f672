package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/quantfold/confluence/internal/domain/bars"
)

// ClickHouseConfig locates the bars table.
type ClickHouseConfig struct {
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ClickHouseProvider reads bar history from a ClickHouse table with
// columns (instrument, ts, open, high, low, close, volume).
type ClickHouseProvider struct {
	db    *sql.DB
	table string
}

// NewClickHouseProvider opens a pooled connection and verifies it.
func NewClickHouseProvider(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseProvider, error) {
	if cfg.Table == "" {
		cfg.Table = "bars"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	db, err := sql.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &ClickHouseProvider{db: db, table: cfg.Table}, nil
}

// GetBars returns the instrument's bars in [from, to], oldest first, and
// validates ordering before handing them to the caller.
func (p *ClickHouseProvider) GetBars(ctx context.Context, instrument string, from, to time.Time) (bars.Series, error) {
	query := fmt.Sprintf(
		`SELECT instrument, ts, open, high, low, close, volume
		 FROM %s WHERE instrument = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`, p.table)

	rows, err := p.db.QueryContext(ctx, query, instrument, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", instrument, err)
	}
	defer rows.Close()

	var series bars.Series
	for rows.Next() {
		var b bars.Bar
		if err := rows.Scan(&b.Instrument, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	if err := bars.Validate(series); err != nil {
		return nil, err
	}
	return series, nil
}

// Close releases the connection pool.
func (p *ClickHouseProvider) Close() error {
	return p.db.Close()
}
