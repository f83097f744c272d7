// Package dashboard renders a live terminal view of the current aggregator.
package dashboard

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/ptracker/ptload/internal/metrics"
)

const (
	refreshInterval = 500 * time.Millisecond
	historySize     = 100
)

// RunInfo holds the run parameters shown in the summary panel.
type RunInfo struct {
	RootURL    string
	RunID      string
	Variant    metrics.Variant
	NumWorkers int
	Timeout    time.Duration
	ConfigFile string
}

// Dashboard renders the aggregator most recently passed to Attach.
type Dashboard struct {
	agg          atomic.Pointer[metrics.Aggregator]
	info         RunInfo
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex
	stopOnce     sync.Once

	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	workerGauge    *widgets.Gauge
	summaryPara    *widgets.Paragraph
	countsPara     *widgets.Paragraph
	latencyHistory []float64
	startTime      time.Time
}

// New initializes the terminal. shutdownFunc is called when the user
// presses q or Ctrl-C.
func New(info RunInfo, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		info:           info,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historySize),
		startTime:      time.Now(),
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

// Attach switches the dashboard to agg.
func (d *Dashboard) Attach(agg *metrics.Aggregator) {
	d.agg.Store(agg)
}

// SetRunID records the run id once it is known.
func (d *Dashboard) SetRunID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info.RunID = id
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Waiting for data..."
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.workerGauge = widgets.NewGauge()
	d.workerGauge.Title = "Active Workers"
	d.workerGauge.BarColor = ui.ColorBlue
	d.workerGauge.BorderStyle.Fg = ui.ColorCyan
	d.workerGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Load Test"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.countsPara = widgets.NewParagraph()
	d.countsPara.Title = "Work Items"
	d.countsPara.Text = "Waiting for data..."
	d.countsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.2,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.2,
			ui.NewCol(0.5, d.workerGauge),
			ui.NewCol(0.5, d.countsPara),
		),
		ui.NewRow(0.6,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
	)
}

// Start begins the refresh loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the refresh loop and restores the terminal. Later calls are no-ops.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		ui.Close()
		// Give terminal time to restore
		time.Sleep(100 * time.Millisecond)
	})
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the run has wound down.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	agg := d.agg.Load()
	if agg == nil {
		return
	}
	snap := agg.Snapshot()

	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	if ms, ok := latencyMs(snap); ok {
		d.latencyHistory = pushHistory(d.latencyHistory, ms, historySize)
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf("Latency | Current: %.2fms", ms)
	}

	d.workerGauge.Percent = workerPercent(snap)
	d.workerGauge.Label = fmt.Sprintf("%d / %d", snap.ActiveWorkers, snap.NumWorkers)

	d.summaryPara.Text = formatSummary(d.info, elapsed)
	d.countsPara.Text = formatCounts(snap, elapsed)
	d.latencyPara.Text = formatLatencyStats(snap)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

// latencyMs returns the headline latency: the moving average, or the mean
// over all successes for the cumulative variant.
func latencyMs(s metrics.Snapshot) (float64, bool) {
	if s.Variant == metrics.VariantCumulative {
		if s.TotalNumSuccesses == 0 {
			return 0, false
		}
		return s.TotalLatencySeconds / float64(s.TotalNumSuccesses) * 1000, true
	}
	if math.IsNaN(s.AverageLatency) {
		return 0, false
	}
	return s.AverageLatency * 1000, true
}

func pushHistory(history []float64, v float64, limit int) []float64 {
	history = append(history, v)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func workerPercent(s metrics.Snapshot) int {
	if s.NumWorkers <= 0 {
		return 0
	}
	pct := int(s.ActiveWorkers * 100 / int64(s.NumWorkers))
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func formatSummary(info RunInfo, elapsed time.Duration) string {
	parts := []string{
		fmt.Sprintf("Workers: %d", info.NumWorkers),
		fmt.Sprintf("Variant: %s", info.Variant),
	}
	if info.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", info.Timeout))
	}
	if info.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", info.ConfigFile))
	}
	run := info.RunID
	if run == "" {
		run = "-"
	}
	return fmt.Sprintf("Target: %s\n%s\nRun: %s | Elapsed: %s | press q to stop",
		info.RootURL, strings.Join(parts, " | "), run, elapsed.Round(time.Second))
}

func formatCounts(s metrics.Snapshot, elapsed time.Duration) string {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.TotalNumSuccesses) / secs
	}
	avgAttempts := "n/a"
	switch {
	case s.Variant == metrics.VariantMovingAverage && !math.IsNaN(s.AverageNumAttempts):
		avgAttempts = fmt.Sprintf("%.2f (moving)", s.AverageNumAttempts)
	case s.TotalNumSuccesses > 0:
		avgAttempts = fmt.Sprintf("%.2f", float64(s.TotalNumAttempts)/float64(s.TotalNumSuccesses))
	}
	return fmt.Sprintf(
		"Successes:      %d\nAttempts:       %d\nAttempts/item:  %s\nSuccesses/s:    %.2f",
		s.TotalNumSuccesses, s.TotalNumAttempts, avgAttempts, rate,
	)
}

func formatLatencyStats(s metrics.Snapshot) string {
	if s.Samples == 0 {
		return "Waiting for data..."
	}
	headline := "n/a"
	if ms, ok := latencyMs(s); ok {
		headline = fmt.Sprintf("%.2fms", ms)
	}
	label := "Avg: "
	if s.Variant == metrics.VariantCumulative {
		label = "Mean:"
	}
	return fmt.Sprintf("%s %s\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms\nTotal: %.2fs",
		label, headline,
		durationMs(s.P50Latency), durationMs(s.P90Latency), durationMs(s.P99Latency),
		s.TotalLatencySeconds,
	)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
