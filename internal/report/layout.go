package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ptracker/ptload/internal/metrics"
)

// columnWidth is the minimum width of each field in a logged row.
const columnWidth = 12

// Layout selects the columns a Reporter emits.
type Layout int

const (
	// LayoutMovingAverage reports live/configured workers and the average latency.
	LayoutMovingAverage Layout = iota
	// LayoutCumulative reports running totals.
	LayoutCumulative
)

// LayoutFor returns the layout matching an aggregator variant.
func LayoutFor(v metrics.Variant) Layout {
	if v == metrics.VariantCumulative {
		return LayoutCumulative
	}
	return LayoutMovingAverage
}

var (
	movingAverageHeader = []string{"THREAD COUNT", "AVG LATENCY (s)"}
	cumulativeHeader    = []string{"NUM ACTIVE WORKERS", "TOTAL NUM SUCCESSES", "TOTAL LATENCY (s)", "TOTAL NUM ATTEMPTS"}
)

// Header returns the column names of the layout.
func (l Layout) Header() []string {
	if l == LayoutCumulative {
		return append([]string(nil), cumulativeHeader...)
	}
	return append([]string(nil), movingAverageHeader...)
}

// Row formats one periodic sample.
func (l Layout) Row(s metrics.Snapshot) []string {
	if l == LayoutCumulative {
		return cumulativeRow(s.ActiveWorkers, s)
	}
	return []string{
		fmt.Sprintf("%d/%d", s.ActiveWorkers, s.NumWorkers),
		formatSeconds(s.AverageLatency),
	}
}

// SummaryRow formats the per-iteration row of a sweep. The first column is
// the configured worker count, since every worker has exited by the time
// the row is written.
func SummaryRow(s metrics.Snapshot) []string {
	return cumulativeRow(int64(s.NumWorkers), s)
}

func cumulativeRow(workers int64, s metrics.Snapshot) []string {
	return []string{
		strconv.FormatInt(workers, 10),
		strconv.FormatInt(s.TotalNumSuccesses, 10),
		formatSeconds(s.TotalLatencySeconds),
		strconv.FormatInt(s.TotalNumAttempts, 10),
	}
}

func formatSeconds(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// FormatLine pads every field to columnWidth and joins them with tabs.
func FormatLine(fields []string) string {
	padded := make([]string, len(fields))
	for i, f := range fields {
		padded[i] = fmt.Sprintf("%-*s", columnWidth, f)
	}
	return strings.Join(padded, "\t")
}
