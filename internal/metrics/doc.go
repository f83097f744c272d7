// Package metrics aggregates latency and attempt counts produced by load
// workers and exposes them to the reporter, the dashboard and Prometheus.
//
// # Aggregator
//
// One [Aggregator] backs a run (or one sweep iteration). It is created by the
// orchestrator and handed to every worker and to the reporter:
//
//	agg := metrics.New(metrics.Options{
//		Variant:    metrics.VariantMovingAverage,
//		NumWorkers: 10,
//	})
//	agg.AddLatency(0.25)
//	agg.AddSuccess(3)
//	snap := agg.Snapshot()
//
// # Variants
//
// [VariantMovingAverage] keeps an exponentially decayed average of latency and
// attempts per success (avg' = avg/2 + x/2). The averages are NaN until the
// first sample arrives. [VariantCumulative] keeps running sums instead.
//
// # Thread Safety
//
// Latency fields and count fields live in two independent lock domains, so a
// latency update never waits on a success update. [Aggregator.Snapshot] reads
// each domain under its own lock; a snapshot never observes a half-applied
// update but may combine fields from different worker iterations.
//
// # Prometheus
//
// [Exporter] implements prometheus.Collector over whichever Aggregator is
// currently attached, so a sweep can swap aggregators between iterations.
package metrics
