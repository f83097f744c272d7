package metrics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Variant selects how latency samples are folded into the Aggregator.
type Variant int

const (
	// VariantMovingAverage keeps avg' = avg/2 + x/2 for latency and attempts.
	VariantMovingAverage Variant = iota
	// VariantCumulative keeps a running latency sum.
	VariantCumulative
)

func (v Variant) String() string {
	switch v {
	case VariantMovingAverage:
		return "moving"
	case VariantCumulative:
		return "cumulative"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant maps a config string onto a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "moving", "moving_average", "moving-average":
		return VariantMovingAverage, nil
	case "cumulative", "total":
		return VariantCumulative, nil
	default:
		return 0, fmt.Errorf("unknown metrics variant %q (use moving or cumulative)", s)
	}
}

// Options configure an Aggregator.
type Options struct {
	Variant    Variant
	NumWorkers int // configured worker count, reported as-is
}

// Aggregator accumulates worker results for a single run or sweep iteration.
type Aggregator struct {
	variant    Variant
	numWorkers int

	latencyMu      sync.Mutex
	averageLatency float64
	totalLatency   float64
	hist           *hdrhistogram.Histogram

	countsMu           sync.Mutex
	totalSuccesses     int64
	totalAttempts      int64
	averageNumAttempts float64

	active atomic.Int64
}

// Snapshot is a point-in-time copy of an Aggregator.
type Snapshot struct {
	Variant             Variant
	NumWorkers          int
	ActiveWorkers       int64
	AverageLatency      float64 // seconds, NaN before the first sample
	TotalLatencySeconds float64
	P50Latency          time.Duration
	P90Latency          time.Duration
	P99Latency          time.Duration
	Samples             int64
	TotalNumSuccesses   int64
	TotalNumAttempts    int64
	AverageNumAttempts  float64 // NaN before the first success
}

func New(opts Options) *Aggregator {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &Aggregator{
		variant:            opts.Variant,
		numWorkers:         opts.NumWorkers,
		averageLatency:     math.NaN(),
		averageNumAttempts: math.NaN(),
		hist:               hdrhistogram.New(1, 60_000_000, 3),
	}
}

// AddLatency folds one latency sample, in seconds, into the aggregator.
// Values are not validated.
func (a *Aggregator) AddLatency(seconds float64) {
	a.latencyMu.Lock()
	defer a.latencyMu.Unlock()

	switch a.variant {
	case VariantCumulative:
		a.totalLatency += seconds
	default:
		a.averageLatency = decay(a.averageLatency, seconds)
	}

	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return
	}
	// clamp before converting; int64 of an out-of-range float is undefined
	micros := seconds * float64(time.Second/time.Microsecond)
	var us int64
	switch lo, hi := a.hist.LowestTrackableValue(), a.hist.HighestTrackableValue(); {
	case micros >= float64(hi):
		us = hi
	case micros <= float64(lo):
		us = lo
	default:
		us = int64(micros)
	}
	_ = a.hist.RecordValue(us)
}

// AddSuccess records one successful work item that took attempts tries.
func (a *Aggregator) AddSuccess(attempts int) {
	a.countsMu.Lock()
	defer a.countsMu.Unlock()

	a.totalSuccesses++
	a.totalAttempts += int64(attempts)
	if a.variant == VariantMovingAverage {
		a.averageNumAttempts = decay(a.averageNumAttempts, float64(attempts))
	}
}

// WorkerStarted marks one more live worker.
func (a *Aggregator) WorkerStarted() { a.active.Add(1) }

// WorkerStopped marks one fewer live worker.
func (a *Aggregator) WorkerStopped() { a.active.Add(-1) }

// ActiveWorkers returns the number of workers currently inside their loop.
func (a *Aggregator) ActiveWorkers() int64 { return a.active.Load() }

func (a *Aggregator) NumWorkers() int { return a.numWorkers }

func (a *Aggregator) Variant() Variant { return a.variant }

// AverageLatency returns the moving average latency in seconds.
func (a *Aggregator) AverageLatency() float64 {
	a.latencyMu.Lock()
	defer a.latencyMu.Unlock()
	return a.averageLatency
}

// TotalLatencySeconds returns the cumulative latency sum.
func (a *Aggregator) TotalLatencySeconds() float64 {
	a.latencyMu.Lock()
	defer a.latencyMu.Unlock()
	return a.totalLatency
}

// Counts returns the success and attempt totals.
func (a *Aggregator) Counts() (successes, attempts int64) {
	a.countsMu.Lock()
	defer a.countsMu.Unlock()
	return a.totalSuccesses, a.totalAttempts
}

// Snapshot reads both lock domains, one after the other.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Variant:    a.variant,
		NumWorkers: a.numWorkers,
	}

	a.latencyMu.Lock()
	s.AverageLatency = a.averageLatency
	s.TotalLatencySeconds = a.totalLatency
	s.Samples = a.hist.TotalCount()
	if s.Samples > 0 {
		s.P50Latency = time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P90Latency = time.Duration(a.hist.ValueAtQuantile(90)) * time.Microsecond
		s.P99Latency = time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	a.latencyMu.Unlock()

	a.countsMu.Lock()
	s.TotalNumSuccesses = a.totalSuccesses
	s.TotalNumAttempts = a.totalAttempts
	s.AverageNumAttempts = a.averageNumAttempts
	a.countsMu.Unlock()

	s.ActiveWorkers = a.active.Load()
	return s
}

func decay(avg, sample float64) float64 {
	if math.IsNaN(avg) {
		return sample
	}
	return avg/2 + sample/2
}
