package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ptracker/ptload/internal/metrics"
	"github.com/ptracker/ptload/internal/session"
)

// failureLogInterval bounds how often a discarded attempt is logged.
const failureLogInterval = 5 * time.Second

// Fetcher performs one timed retrieval.
type Fetcher interface {
	GetIndex(ctx context.Context) (session.TimedResult, error)
}

// Recorder receives one latency sample and one success per work item.
type Recorder interface {
	AddLatency(seconds float64)
	AddSuccess(attempts int)
}

// FailureFunc observes a discarded attempt.
type FailureFunc func(attempt int, err error)

// RetryUntilSuccess fetches until an attempt succeeds, then records the
// successful attempt's latency and the attempt count, which includes the
// final success. Failures are passed to onFailure, if set, and retried
// immediately. It gives up only when ctx is cancelled, recording nothing.
func RetryUntilSuccess(ctx context.Context, f Fetcher, rec Recorder, onFailure FailureFunc) (attempts int, ok bool) {
	for {
		if ctx.Err() != nil {
			return attempts, false
		}
		attempts++
		res, err := f.GetIndex(ctx)
		if err != nil {
			if onFailure != nil {
				onFailure(attempts, err)
			}
			continue
		}
		rec.AddLatency(res.Seconds())
		rec.AddSuccess(attempts)
		return attempts, true
	}
}

// NewWorkFunc binds RetryUntilSuccess to a fetcher and recorder. Discarded
// attempts show up at debug level, at most once per failureLogInterval for
// the returned function across all goroutines sharing it.
func NewWorkFunc(f Fetcher, rec Recorder, log *logrus.Entry) WorkFunc {
	var onFailure FailureFunc
	if log != nil {
		sometimes := &rate.Sometimes{Interval: failureLogInterval}
		onFailure = func(attempt int, err error) {
			if !log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				return
			}
			sometimes.Do(func() {
				log.WithFields(logrus.Fields{
					"attempt": attempt,
					"kind":    metrics.FriendlyError(err),
				}).WithError(err).Debug("index retrieval failed, retrying")
			})
		}
	}
	return func(ctx context.Context) {
		RetryUntilSuccess(ctx, f, rec, onFailure)
	}
}
