package worker

import (
	"context"
	"time"
)

// WorkFunc is one unit of work. It must not panic on transient failures.
type WorkFunc func(ctx context.Context)

// Gauge tracks live workers. *metrics.Aggregator satisfies it.
type Gauge interface {
	WorkerStarted()
	WorkerStopped()
}

type nopGauge struct{}

func (nopGauge) WorkerStarted() {}
func (nopGauge) WorkerStopped() {}

// RunForever calls work in a loop until ctx is cancelled.
func RunForever(ctx context.Context, work WorkFunc, gauge Gauge) {
	if gauge == nil {
		gauge = nopGauge{}
	}
	gauge.WorkerStarted()
	defer gauge.WorkerStopped()

	for ctx.Err() == nil {
		work(ctx)
	}
}

// RunFor calls work while less than lifetime has elapsed since it started,
// and returns the number of calls made. The bound is checked only between
// calls, so the loop can overrun by at most one call. Cancelling ctx ends the
// loop early.
func RunFor(ctx context.Context, lifetime time.Duration, work WorkFunc, gauge Gauge) int {
	return runFor(ctx, lifetime, work, gauge, time.Now)
}

func runFor(ctx context.Context, lifetime time.Duration, work WorkFunc, gauge Gauge, now func() time.Time) int {
	if gauge == nil {
		gauge = nopGauge{}
	}
	gauge.WorkerStarted()
	defer gauge.WorkerStopped()

	start := now()
	calls := 0
	for now().Sub(start) < lifetime {
		if ctx.Err() != nil {
			break
		}
		work(ctx)
		calls++
	}
	return calls
}
