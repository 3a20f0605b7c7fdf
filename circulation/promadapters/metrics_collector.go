package promadapters

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openshelf/circulation-go/circulation"
)

// MetricsCollector implements circulation.MetricsCollector on top of
// Prometheus instruments:
//   - RecordDuration -> HistogramVec
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
type MetricsCollector struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewMetricsCollector creates a collector registering its instruments with
// the given registerer. Pass prometheus.DefaultRegisterer to expose them
// on the default /metrics handler.
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		registerer: registerer,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// RecordDuration observes a duration in seconds on a histogram.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	histogram, exists := m.histograms[metricName]
	if !exists {
		histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: metricName,
			Help: "circulation command duration in seconds",
		}, labelNames(labels))

		if err := m.registerer.Register(histogram); err != nil {
			return
		}

		m.histograms[metricName] = histogram
	}

	histogram.With(labels).Observe(duration.Seconds())
}

// IncrementCounter increments a counter by one.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, exists := m.counters[metricName]
	if !exists {
		counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName,
			Help: "circulation command counter",
		}, labelNames(labels))

		if err := m.registerer.Register(counter); err != nil {
			return
		}

		m.counters[metricName] = counter
	}

	counter.With(labels).Inc()
}

// RecordValue sets a gauge to the given value.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gauge, exists := m.gauges[metricName]
	if !exists {
		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricName,
			Help: "circulation current value",
		}, labelNames(labels))

		if err := m.registerer.Register(gauge); err != nil {
			return
		}

		m.gauges[metricName] = gauge
	}

	gauge.With(labels).Set(value)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Ensure MetricsCollector implements circulation.MetricsCollector.
var _ circulation.MetricsCollector = (*MetricsCollector)(nil)
