package metrics

import (
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ptload"

var (
	descAverageLatency = prometheus.NewDesc(
		namespace+"_average_latency_seconds",
		"Moving average latency of successful index retrievals",
		nil, nil)
	descTotalLatency = prometheus.NewDesc(
		namespace+"_latency_seconds_total",
		"Cumulative latency of successful index retrievals",
		nil, nil)
	descQuantile = prometheus.NewDesc(
		namespace+"_latency_quantile_seconds",
		"Latency quantiles of successful index retrievals",
		[]string{"quantile"}, nil)
	descSuccesses = prometheus.NewDesc(
		namespace+"_successes_total",
		"Successful work items",
		nil, nil)
	descAttempts = prometheus.NewDesc(
		namespace+"_attempts_total",
		"Attempts spent on successful work items, including the final success",
		nil, nil)
	descAverageAttempts = prometheus.NewDesc(
		namespace+"_average_attempts",
		"Moving average of attempts per successful work item",
		nil, nil)
	descActiveWorkers = prometheus.NewDesc(
		namespace+"_active_workers",
		"Workers currently inside their loop",
		nil, nil)
	descConfiguredWorkers = prometheus.NewDesc(
		namespace+"_configured_workers",
		"Workers configured for the current run or iteration",
		nil, nil)
)

// Exporter is a prometheus.Collector over the currently attached Aggregator.
type Exporter struct {
	current atomic.Pointer[Aggregator]
}

func NewExporter() *Exporter {
	return &Exporter{}
}

// Attach makes agg the source of subsequent scrapes.
func (e *Exporter) Attach(agg *Aggregator) {
	e.current.Store(agg)
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAverageLatency
	ch <- descTotalLatency
	ch <- descQuantile
	ch <- descSuccesses
	ch <- descAttempts
	ch <- descAverageAttempts
	ch <- descActiveWorkers
	ch <- descConfiguredWorkers
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	agg := e.current.Load()
	if agg == nil {
		return
	}
	s := agg.Snapshot()

	// NaN gauges are valid exposition, but an absent series is easier to alert on.
	if !math.IsNaN(s.AverageLatency) {
		ch <- prometheus.MustNewConstMetric(descAverageLatency, prometheus.GaugeValue, s.AverageLatency)
	}
	if !math.IsNaN(s.AverageNumAttempts) {
		ch <- prometheus.MustNewConstMetric(descAverageAttempts, prometheus.GaugeValue, s.AverageNumAttempts)
	}
	ch <- prometheus.MustNewConstMetric(descTotalLatency, prometheus.CounterValue, s.TotalLatencySeconds)
	if s.Samples > 0 {
		ch <- prometheus.MustNewConstMetric(descQuantile, prometheus.GaugeValue, s.P50Latency.Seconds(), "0.5")
		ch <- prometheus.MustNewConstMetric(descQuantile, prometheus.GaugeValue, s.P90Latency.Seconds(), "0.9")
		ch <- prometheus.MustNewConstMetric(descQuantile, prometheus.GaugeValue, s.P99Latency.Seconds(), "0.99")
	}
	ch <- prometheus.MustNewConstMetric(descSuccesses, prometheus.CounterValue, float64(s.TotalNumSuccesses))
	ch <- prometheus.MustNewConstMetric(descAttempts, prometheus.CounterValue, float64(s.TotalNumAttempts))
	ch <- prometheus.MustNewConstMetric(descActiveWorkers, prometheus.GaugeValue, float64(s.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(descConfiguredWorkers, prometheus.GaugeValue, float64(s.NumWorkers))
}
