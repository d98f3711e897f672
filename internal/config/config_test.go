package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("instruments:\n  - BTC-USD\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC-USD"}, cfg.Instruments)
	assert.Equal(t, 200, cfg.Features.MinLookback)
	assert.Equal(t, 500, cfg.Features.EGARCHWindow)
	assert.Equal(t, 2.0, cfg.Confluence.FireThreshold)
	assert.Equal(t, 0.6, cfg.Confluence.MinConfidence)
	assert.Equal(t, 0.5, cfg.Risk.KellyScale)
	assert.Equal(t, 0.25, cfg.Risk.MaxFraction)
	assert.Equal(t, 720*time.Hour, cfg.ForwardTest.MaxHolding)
	assert.Equal(t, 30, cfg.Ranker.MinTrades)
	assert.Equal(t, 0.05, cfg.Ranker.PThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Ranker.Cadence)
	assert.Equal(t, 1000, cfg.Engine.MaxHistory)
	assert.Equal(t, 0.01, cfg.Engine.FallbackFraction)
	assert.Equal(t, "bars", cfg.ClickHouse.Table)
	assert.Equal(t, "confluence.signals", cfg.Kafka.SignalTopic)
	assert.Equal(t, 90*time.Second, cfg.Stream.ReadTimeout)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParse_Overrides(t *testing.T) {
	raw := []byte(`
instruments:
  - BTC-USD
  - ETH-USD
confluence:
  fire_threshold: 3.5
  weights:
    breakout: 1.5
risk:
  kelly_scale: 0.25
log_level: debug
`)
	cfg, err := Parse(raw)
	require.NoError(t, err)
	assert.Len(t, cfg.Instruments, 2)
	assert.Equal(t, 3.5, cfg.Confluence.FireThreshold)
	assert.Equal(t, 1.5, cfg.Confluence.Weights["breakout"])
	assert.Equal(t, 0.25, cfg.Risk.KellyScale)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched sections keep their defaults.
	assert.Equal(t, 0.6, cfg.Confluence.MinConfidence)
	assert.Equal(t, 0.25, cfg.Risk.MaxFraction)
}

func TestParse_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no instruments", "instruments: []\n"},
		{"bad log level", "instruments: [BTC-USD]\nlog_level: loud\n"},
		{"fire threshold must be positive", "instruments: [BTC-USD]\nconfluence:\n  fire_threshold: -1\n"},
		{"kelly scale above one", "instruments: [BTC-USD]\nrisk:\n  kelly_scale: 1.5\n"},
		{"lookback too short", "instruments: [BTC-USD]\nfeatures:\n  min_lookback: 50\n"},
		{"not yaml", "instruments: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confluence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instruments: [BTC-USD]\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD"}, cfg.Instruments)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
