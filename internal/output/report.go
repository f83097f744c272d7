// Package output prints end-of-run summaries for humans and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ptracker/ptload/internal/loadtest"
	"github.com/ptracker/ptload/internal/metrics"
)

// IterationSummary is the JSON form of one sweep iteration.
type IterationSummary struct {
	Iteration           int     `json:"iteration"`
	NumWorkers          int     `json:"num_workers"`
	DurationSeconds     float64 `json:"duration_seconds"`
	Successes           int64   `json:"successes"`
	Attempts            int64   `json:"attempts"`
	TotalLatencySeconds float64 `json:"total_latency_seconds"`
	MeanLatencySeconds  float64 `json:"mean_latency_seconds"`
	P50LatencyMs        float64 `json:"p50_latency_ms"`
	P90LatencyMs        float64 `json:"p90_latency_ms"`
	P99LatencyMs        float64 `json:"p99_latency_ms"`
	SuccessesPerSecond  float64 `json:"successes_per_second"`
	AttemptsPerSuccess  float64 `json:"attempts_per_success"`
}

// Summarize converts iteration results into their report form.
func Summarize(results []loadtest.IterationResult) []IterationSummary {
	out := make([]IterationSummary, 0, len(results))
	for _, r := range results {
		s := r.Snapshot
		sum := IterationSummary{
			Iteration:           r.Iteration,
			NumWorkers:          r.NumWorkers,
			DurationSeconds:     r.Duration.Seconds(),
			Successes:           s.TotalNumSuccesses,
			Attempts:            s.TotalNumAttempts,
			TotalLatencySeconds: s.TotalLatencySeconds,
			P50LatencyMs:        ms(s.P50Latency),
			P90LatencyMs:        ms(s.P90Latency),
			P99LatencyMs:        ms(s.P99Latency),
		}
		if s.TotalNumSuccesses > 0 {
			sum.MeanLatencySeconds = s.TotalLatencySeconds / float64(s.TotalNumSuccesses)
			sum.AttemptsPerSuccess = float64(s.TotalNumAttempts) / float64(s.TotalNumSuccesses)
		}
		if secs := r.Duration.Seconds(); secs > 0 {
			sum.SuccessesPerSecond = float64(s.TotalNumSuccesses) / secs
		}
		out = append(out, sum)
	}
	return out
}

// PrintSweepReport outputs a human-readable table of sweep iterations.
func PrintSweepReport(w io.Writer, results []loadtest.IterationResult, noColor bool) {
	c := NewColorScheme(noColor)
	c.Title.Fprintln(w, "\n--- Sweep Results ---")
	if len(results) == 0 {
		c.Muted.Fprintln(w, "No iterations completed")
		return
	}

	c.Label.Fprintf(w, "%-5s %8s %10s %10s %12s %10s %10s %10s\n",
		"ITER", "WORKERS", "SUCCESSES", "ATTEMPTS", "MEAN (ms)", "P99 (ms)", "SUCC/s", "ATT/SUCC")
	for _, s := range Summarize(results) {
		retry := c.Good
		if s.AttemptsPerSuccess > 1 {
			retry = c.Warn
		}
		fmt.Fprintf(w, "%-5d %8d %10d %10d %12.2f %10.2f %10.2f ",
			s.Iteration, s.NumWorkers, s.Successes, s.Attempts,
			s.MeanLatencySeconds*1000, s.P99LatencyMs, s.SuccessesPerSecond)
		retry.Fprintf(w, "%10.2f\n", s.AttemptsPerSuccess)
	}
}

// PrintJSONSweepReport outputs the sweep iterations as a JSON array.
func PrintJSONSweepReport(w io.Writer, results []loadtest.IterationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Summarize(results))
}

// PrintRunReport outputs the final state of a fire-and-forget run.
func PrintRunReport(w io.Writer, snap metrics.Snapshot, elapsed time.Duration, noColor bool) {
	c := NewColorScheme(noColor)
	c.Title.Fprintln(w, "\n--- Load Test Results ---")
	row := func(label string, format string, args ...interface{}) {
		c.Label.Fprintf(w, "%-19s", label+":")
		c.Value.Fprintf(w, format+"\n", args...)
	}
	row("Variant", "%s", snap.Variant)
	row("Workers", "%d", snap.NumWorkers)
	row("Duration", "%s", elapsed.Round(time.Millisecond))
	row("Successes", "%d", snap.TotalNumSuccesses)
	row("Attempts", "%d", snap.TotalNumAttempts)
	if secs := elapsed.Seconds(); secs > 0 {
		row("Successes/sec", "%.2f", float64(snap.TotalNumSuccesses)/secs)
	}

	fmt.Fprintln(w)
	c.Title.Fprintln(w, "Latency:")
	if snap.Variant == metrics.VariantMovingAverage {
		row("  Moving avg", "%s", seconds(snap.AverageLatency))
		row("  Moving attempts", "%s", plain(snap.AverageNumAttempts))
	} else {
		row("  Total", "%s", seconds(snap.TotalLatencySeconds))
		if snap.TotalNumSuccesses > 0 {
			row("  Mean", "%s", seconds(snap.TotalLatencySeconds/float64(snap.TotalNumSuccesses)))
		}
	}
	if snap.Samples > 0 {
		row("  P50", "%s", snap.P50Latency)
		row("  P90", "%s", snap.P90Latency)
		row("  P99", "%s", snap.P99Latency)
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func seconds(f float64) string {
	if math.IsNaN(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.3fs", f)
}

func plain(f float64) string {
	if math.IsNaN(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", f)
}
