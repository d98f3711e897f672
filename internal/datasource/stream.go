package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfold/confluence/internal/domain/bars"
)

// StreamConfig configures the live bar stream.
type StreamConfig struct {
	URL         string
	ReadTimeout time.Duration
	DialTimeout time.Duration
}

// Stream consumes JSON-encoded bars from a websocket feed and delivers
// them on a channel, one goroutine per connection.
type Stream struct {
	cfg    StreamConfig
	conn   *websocket.Conn
	out    chan bars.Bar
	logger zerolog.Logger
}

// wireBar is the feed's frame shape; timestamps arrive as unix millis.
type wireBar struct {
	Instrument string  `json:"instrument"`
	TS         int64   `json:"ts"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
}

// Dial connects to the feed.
func Dial(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	return &Stream{
		cfg:    cfg,
		conn:   conn,
		out:    make(chan bars.Bar, 64),
		logger: log.With().Str("component", "stream").Logger(),
	}, nil
}

// Bars is the delivery channel; closed when the read loop exits.
func (s *Stream) Bars() <-chan bars.Bar {
	return s.out
}

// Run reads frames until the context ends or the connection drops.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.out)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		var wb wireBar
		if err := json.Unmarshal(payload, &wb); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		bar := bars.Bar{
			Instrument: wb.Instrument,
			Timestamp:  time.UnixMilli(wb.TS).UTC(),
			Open:       wb.Open,
			High:       wb.High,
			Low:        wb.Low,
			Close:      wb.Close,
			Volume:     wb.Volume,
		}
		select {
		case s.out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears down the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
