// Package datasource supplies bar history to the engine. The core only
// sees the BarProvider contract; ClickHouse and websocket sources are the
// provided implementations.
package datasource

import (
	"context"
	"time"

	"github.com/quantfold/confluence/internal/domain/bars"
)

// BarProvider returns the ordered bar history for an instrument. Gaps are
// a data-quality error surfaced by bars.Validate, not a provider concern.
type BarProvider interface {
	GetBars(ctx context.Context, instrument string, from, to time.Time) (bars.Series, error)
}
