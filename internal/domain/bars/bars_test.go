package bars

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBar(instrument string, ts time.Time, close float64) Bar {
	return Bar{
		Instrument: instrument,
		Timestamp:  ts,
		Open:       close,
		High:       close + 1,
		Low:        close - 1,
		Close:      close,
		Volume:     100,
	}
}

func TestSeries_AppendMonotonic(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var s Series
	var err error
	for i := 0; i < 5; i++ {
		s, err = s.Append(mkBar("BTC-USD", t0.Add(time.Duration(i)*time.Hour), 100+float64(i)))
		require.NoError(t, err)
	}
	assert.Len(t, s, 5)
	assert.Equal(t, 104.0, s.Last().Close)
}

func TestSeries_AppendRejectsStaleTimestamp(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{mkBar("BTC-USD", t0, 100)}

	// Duplicate timestamp is a gap, not a silent overwrite.
	_, err := s.Append(mkBar("BTC-USD", t0, 101))
	assert.ErrorIs(t, err, ErrDataGap)

	// Earlier timestamp too.
	_, err = s.Append(mkBar("BTC-USD", t0.Add(-time.Hour), 101))
	assert.ErrorIs(t, err, ErrDataGap)
}

func TestSeries_AppendRejectsMixedInstruments(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{mkBar("BTC-USD", t0, 100)}

	_, err := s.Append(mkBar("ETH-USD", t0.Add(time.Hour), 2000))
	assert.ErrorIs(t, err, ErrDataGap)
}

func TestValidate(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	good := Series{
		mkBar("BTC-USD", t0, 100),
		mkBar("BTC-USD", t0.Add(time.Hour), 101),
	}
	assert.NoError(t, Validate(good))

	outOfOrder := Series{
		mkBar("BTC-USD", t0.Add(time.Hour), 101),
		mkBar("BTC-USD", t0, 100),
	}
	assert.ErrorIs(t, Validate(outOfOrder), ErrDataGap)

	mixed := Series{
		mkBar("BTC-USD", t0, 100),
		mkBar("ETH-USD", t0.Add(time.Hour), 2000),
	}
	assert.ErrorIs(t, Validate(mixed), ErrDataGap)
}

func TestSeries_Accessors(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{
		mkBar("BTC-USD", t0, 100),
		mkBar("BTC-USD", t0.Add(time.Hour), 102),
		mkBar("BTC-USD", t0.Add(2*time.Hour), 104),
	}

	assert.Equal(t, []float64{100, 102, 104}, s.Closes())
	assert.Equal(t, []float64{100, 100, 100}, s.Volumes())
	assert.Len(t, s.Tail(2), 2)
	assert.Equal(t, 104.0, s.Tail(2).Last().Close)
	assert.Len(t, s.Tail(10), 3)
}
