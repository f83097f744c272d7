// Package report periodically samples an Aggregator and emits rows to the
// log and, optionally, a CSV file.
package report

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ptracker/ptload/internal/metrics"
)

const DefaultInterval = time.Second

type Options struct {
	Interval time.Duration // DefaultInterval when zero
	Layout   Layout
	Log      bool          // log each row at info level
	Logger   *logrus.Entry // required when Log is set
	Writer   RowWriter     // optional
}

// Reporter samples an Aggregator once per interval. It reads the aggregator
// only through Snapshot and holds no lock while waiting.
type Reporter struct {
	agg      *metrics.Aggregator
	opts     Options
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	active   int32
	rows     atomic.Int64
}

func New(agg *metrics.Aggregator, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Log = false
	}
	return &Reporter{
		agg:      agg,
		opts:     opts,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start logs the header and begins sampling in a background goroutine.
// Calling Start more than once has no effect.
func (r *Reporter) Start() {
	if !atomic.CompareAndSwapInt32(&r.active, 0, 1) {
		return
	}
	if r.opts.Log {
		r.opts.Logger.Info(FormatLine(r.opts.Layout.Header()))
	}
	r.ticker = time.NewTicker(r.opts.Interval)
	go r.run()
}

// Stop halts sampling and waits for the loop to exit. It is idempotent.
func (r *Reporter) Stop() {
	if atomic.CompareAndSwapInt32(&r.active, 1, 2) {
		close(r.done)
		r.ticker.Stop()
		<-r.finished
	}
}

// Rows returns the number of samples emitted so far.
func (r *Reporter) Rows() int64 { return r.rows.Load() }

func (r *Reporter) run() {
	defer close(r.finished)
	for {
		select {
		case <-r.ticker.C:
			r.emit()
		case <-r.done:
			return
		}
	}
}

func (r *Reporter) emit() {
	row := r.opts.Layout.Row(r.agg.Snapshot())
	if r.opts.Log {
		r.opts.Logger.Info(FormatLine(row))
	}
	if r.opts.Writer != nil {
		if err := r.opts.Writer.WriteRow(row); err != nil && r.opts.Logger != nil {
			r.opts.Logger.WithError(err).Error("write report row")
		}
	}
	r.rows.Add(1)
}
