package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ptracker/ptload/internal/httpclient"
	"github.com/ptracker/ptload/internal/metrics"
	"github.com/ptracker/ptload/internal/report"
	"github.com/ptracker/ptload/internal/session"
	"github.com/ptracker/ptload/internal/worker"
)

// ErrAuthentication wraps every login failure. Nothing is spawned when it is
// returned.
var ErrAuthentication = errors.New("authentication failed")

// Session is the part of *session.Session the orchestrator drives.
type Session interface {
	Authenticate(ctx context.Context, user, password string) error
	GetIndex(ctx context.Context) (session.TimedResult, error)
}

// SessionFactory builds an unauthenticated session sized for workers
// concurrent users.
type SessionFactory func(workers int) (Session, error)

type Options struct {
	RootURL  string
	User     string
	Password string

	// Start
	NumWorkers int
	Variant    metrics.Variant
	Writer     report.RowWriter // periodic rows, optional
	// OpenWriter, when set, supplies the periodic row writer once login has
	// succeeded, so a failed login leaves an existing output file alone.
	OpenWriter func() (report.RowWriter, error)

	// Sweep
	StartNumWorkers int
	NumWorkersSkip  int
	NumIterations   int
	IterationLength time.Duration
	SummaryWriter   report.RowWriter // one row per iteration

	ReportInterval time.Duration
	HTTP           httpclient.Options
	Tracer         trace.Tracer
	Propagate      bool
	Logger         *logrus.Logger

	// NewSession overrides how sessions are built. The default uses
	// session.New over an httpclient built from HTTP.
	NewSession SessionFactory
	// OnAggregator is called with every Aggregator before workers use it.
	OnAggregator func(*metrics.Aggregator)
}

type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.NewSession == nil {
		opts.NewSession = defaultSessionFactory(opts)
	}
	return &Orchestrator{opts: opts}
}

func defaultSessionFactory(opts Options) SessionFactory {
	return func(workers int) (Session, error) {
		httpOpts := opts.HTTP
		if httpOpts.IdleConnsPerHost < workers {
			httpOpts.IdleConnsPerHost = workers
		}
		var sessOpts []session.Option
		if opts.Tracer != nil {
			sessOpts = append(sessOpts, session.WithTracer(opts.Tracer, opts.Propagate))
		}
		return session.New(opts.RootURL, httpclient.NewClient(httpOpts), sessOpts...)
	}
}

// Run is a fire-and-forget load test started by Start.
type Run struct {
	id       string
	agg      *metrics.Aggregator
	reporter *report.Reporter
	done     chan struct{}
}

func (r *Run) ID() string                      { return r.id }
func (r *Run) Aggregator() *metrics.Aggregator { return r.agg }

// Wait blocks until every worker has exited, which happens only after the
// context given to Start is cancelled, and then stops the reporter.
func (r *Run) Wait() { <-r.done }

// Done is closed once Wait would return.
func (r *Run) Done() <-chan struct{} { return r.done }

// Start authenticates, starts the reporter and NumWorkers indefinite workers
// sharing one session, and returns without waiting for them.
func (o *Orchestrator) Start(ctx context.Context) (*Run, error) {
	if o.opts.NumWorkers < 1 {
		return nil, fmt.Errorf("num_workers must be >= 1, got %d", o.opts.NumWorkers)
	}
	id := ulid.Make().String()
	log := o.opts.Logger.WithFields(logrus.Fields{"component": "loadtest", "run": id})

	agg := metrics.New(metrics.Options{Variant: o.opts.Variant, NumWorkers: o.opts.NumWorkers})
	if o.opts.OnAggregator != nil {
		o.opts.OnAggregator(agg)
	}

	sess, err := o.authenticatedSession(ctx, o.opts.NumWorkers, log)
	if err != nil {
		return nil, err
	}

	writer := o.opts.Writer
	if o.opts.OpenWriter != nil {
		if writer, err = o.opts.OpenWriter(); err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
	}

	reporter := report.New(agg, report.Options{
		Interval: o.opts.ReportInterval,
		Layout:   report.LayoutFor(o.opts.Variant),
		Log:      true,
		Logger:   log.WithField("component", "reporter"),
		Writer:   writer,
	})
	work := worker.NewWorkFunc(sess, agg, log.WithField("component", "worker"))

	log.WithFields(logrus.Fields{
		"workers": o.opts.NumWorkers,
		"variant": o.opts.Variant.String(),
	}).Info("starting 1 reporter and worker pool")
	reporter.Start()

	run := &Run{id: id, agg: agg, reporter: reporter, done: make(chan struct{})}
	var wg sync.WaitGroup
	for i := 0; i < o.opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.RunForever(ctx, work, agg)
		}()
	}
	go func() {
		wg.Wait()
		reporter.Stop()
		log.Info("all workers stopped")
		close(run.done)
	}()
	return run, nil
}

// IterationResult describes one completed sweep iteration.
type IterationResult struct {
	Iteration  int
	NumWorkers int
	Duration   time.Duration
	WorkCalls  int
	Snapshot   metrics.Snapshot
}

// WorkerCount returns the worker count of iteration i, counting from 1.
func WorkerCount(start, skip, i int) int {
	return start + (i-1)*skip
}

// Sweep runs NumIterations iterations in sequence. Cancelling ctx ends the
// current iteration early; its row is not written and the completed results
// are returned with ctx.Err().
func (o *Orchestrator) Sweep(ctx context.Context) ([]IterationResult, error) {
	if o.opts.StartNumWorkers < 1 {
		return nil, fmt.Errorf("start_num_workers must be >= 1, got %d", o.opts.StartNumWorkers)
	}
	id := ulid.Make().String()
	log := o.opts.Logger.WithFields(logrus.Fields{"component": "loadtest", "run": id})
	log.WithFields(logrus.Fields{
		"iterations": o.opts.NumIterations,
		"start":      o.opts.StartNumWorkers,
		"skip":       o.opts.NumWorkersSkip,
		"length":     o.opts.IterationLength.String(),
	}).Info("starting sweep")

	results := make([]IterationResult, 0, o.opts.NumIterations)
	for i := 1; i <= o.opts.NumIterations; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := o.iteration(ctx, i, log.WithField("iteration", i))
		if err != nil {
			return results, err
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if o.opts.SummaryWriter != nil {
			if err := o.opts.SummaryWriter.WriteRow(report.SummaryRow(res.Snapshot)); err != nil {
				return results, fmt.Errorf("write iteration %d summary: %w", i, err)
			}
		}
		results = append(results, res)
	}
	log.WithField("iterations", len(results)).Info("sweep complete")
	return results, nil
}

func (o *Orchestrator) iteration(ctx context.Context, i int, log *logrus.Entry) (IterationResult, error) {
	workers := WorkerCount(o.opts.StartNumWorkers, o.opts.NumWorkersSkip, i)
	log = log.WithField("workers", workers)

	agg := metrics.New(metrics.Options{Variant: metrics.VariantCumulative, NumWorkers: workers})
	if o.opts.OnAggregator != nil {
		o.opts.OnAggregator(agg)
	}

	sess, err := o.authenticatedSession(ctx, workers, log)
	if err != nil {
		return IterationResult{}, fmt.Errorf("iteration %d: %w", i, err)
	}

	reporter := report.New(agg, report.Options{
		Interval: o.opts.ReportInterval,
		Layout:   report.LayoutCumulative,
		Log:      true,
		Logger:   log.WithField("component", "reporter"),
	})
	work := worker.NewWorkFunc(sess, agg, log.WithField("component", "worker"))

	log.Info("starting iteration")
	start := time.Now()
	reporter.Start()

	var wg sync.WaitGroup
	var calls atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls.Add(int64(worker.RunFor(ctx, o.opts.IterationLength, work, agg)))
		}()
	}
	wg.Wait()
	reporter.Stop()

	res := IterationResult{
		Iteration:  i,
		NumWorkers: workers,
		Duration:   time.Since(start),
		WorkCalls:  int(calls.Load()),
		Snapshot:   agg.Snapshot(),
	}
	log.WithFields(logrus.Fields{
		"successes": res.Snapshot.TotalNumSuccesses,
		"attempts":  res.Snapshot.TotalNumAttempts,
	}).Info("iteration complete")
	return res, nil
}

func (o *Orchestrator) authenticatedSession(ctx context.Context, workers int, log *logrus.Entry) (Session, error) {
	sess, err := o.opts.NewSession(workers)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := sess.Authenticate(ctx, o.opts.User, o.opts.Password); err != nil {
		log.WithError(err).WithField("kind", metrics.FriendlyError(err)).Error("login failed")
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return sess, nil
}
