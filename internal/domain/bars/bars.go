// Package bars holds the OHLCV bar types shared by every stage of the
// signal pipeline. Bars are immutable once recorded and strictly ordered
// by timestamp per instrument.
package bars

import (
	"errors"
	"fmt"
	"time"
)

// ErrDataGap indicates a non-monotonic or duplicate timestamp in a bar
// series. Processing for the affected instrument halts until the feed is
// repaired externally.
var ErrDataGap = errors.New("data gap")

// Bar is a single OHLCV record for one instrument.
type Bar struct {
	Instrument string    `json:"instrument" db:"instrument"`
	Timestamp  time.Time `json:"ts" db:"ts"`
	Open       float64   `json:"open" db:"open"`
	High       float64   `json:"high" db:"high"`
	Low        float64   `json:"low" db:"low"`
	Close      float64   `json:"close" db:"close"`
	Volume     float64   `json:"volume" db:"volume"`
}

// Series is a timestamp-ordered bar history for a single instrument.
type Series []Bar

// Append validates that b extends the series monotonically and returns the
// extended series. A bar at or before the last recorded timestamp is a
// feed defect, reported as ErrDataGap.
func (s Series) Append(b Bar) (Series, error) {
	if n := len(s); n > 0 {
		last := s[n-1]
		if b.Instrument != last.Instrument {
			return s, fmt.Errorf("instrument mismatch %s vs %s: %w", b.Instrument, last.Instrument, ErrDataGap)
		}
		if !b.Timestamp.After(last.Timestamp) {
			return s, fmt.Errorf("bar at %s not after %s: %w", b.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339), ErrDataGap)
		}
	}
	return append(s, b), nil
}

// Last returns the most recent bar. Callers must check Len first.
func (s Series) Last() Bar {
	return s[len(s)-1]
}

// Closes extracts the close prices in series order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the traded volumes in series order.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Tail returns the trailing n bars, or the whole series when shorter.
func (s Series) Tail(n int) Series {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Validate checks ordering and instrument consistency over a full series,
// for histories loaded in bulk from a provider.
func Validate(s Series) error {
	for i := 1; i < len(s); i++ {
		if s[i].Instrument != s[0].Instrument {
			return fmt.Errorf("mixed instruments at index %d: %w", i, ErrDataGap)
		}
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("out-of-order bar at index %d: %w", i, ErrDataGap)
		}
	}
	return nil
}
