package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BarsProcessed.WithLabelValues("BTC-USD").Inc()
	m.BarsProcessed.WithLabelValues("BTC-USD").Inc()
	m.SignalsFired.WithLabelValues("BTC-USD", "long").Inc()
	m.SignalsRejected.WithLabelValues("tie").Inc()
	m.OutcomesResolved.WithLabelValues("won").Inc()
	m.RerankVerdicts.WithLabelValues("demote").Inc()
	m.ProcessLatency.Observe(0.003)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BarsProcessed.WithLabelValues("BTC-USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsFired.WithLabelValues("BTC-USD", "long")))

	// Histogram samples are only visible through the wire types.
	pb := &dto.Metric{}
	require.NoError(t, m.ProcessLatency.Write(pb))
	assert.Equal(t, uint64(1), pb.GetHistogram().GetSampleCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsRejected.WithLabelValues("tie")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesResolved.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RerankVerdicts.WithLabelValues("demote")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, fam := range families {
		names = append(names, fam.GetName())
	}
	assert.Contains(t, names, "confluence_bars_processed_total")
	assert.Contains(t, names, "confluence_process_bar_seconds")
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
