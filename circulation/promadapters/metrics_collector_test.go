package promadapters_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/circulation/promadapters"
)

func Test_MetricsCollector_IncrementCounter(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)
	labels := map[string]string{"command": "borrow", "outcome": "success"}

	// act
	collector.IncrementCounter("circulation_commands_total", labels)
	collector.IncrementCounter("circulation_commands_total", labels)

	// assert
	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "circulation_commands_total", families[0].GetName())
	assert.InDelta(t, 2.0, families[0].GetMetric()[0].GetCounter().GetValue(), 0.001)
}

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)

	// act
	collector.RecordDuration("circulation_command_duration_seconds", 250*time.Millisecond,
		map[string]string{"command": "return_loan"})

	// assert
	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)

	histogram := families[0].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), histogram.GetSampleCount())
	assert.InDelta(t, 0.25, histogram.GetSampleSum(), 0.001)
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	// arrange
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)

	// act: last write wins for a gauge
	collector.RecordValue("circulation_open_loans", 12, map[string]string{"branch": "main"})
	collector.RecordValue("circulation_open_loans", 9, map[string]string{"branch": "main"})

	// assert
	gauge, err := collectorGauge(registry, "circulation_open_loans")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, gauge, 0.001)
}

func collectorGauge(registry *prometheus.Registry, name string) (float64, error) {
	families, err := registry.Gather()
	if err != nil {
		return 0, err
	}

	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue(), nil
		}
	}

	return 0, nil
}
