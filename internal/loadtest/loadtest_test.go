package loadtest_test

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptracker/ptload/internal/httpclient"
	"github.com/ptracker/ptload/internal/loadtest"
	"github.com/ptracker/ptload/internal/metrics"
	"github.com/ptracker/ptload/internal/report"
	"github.com/ptracker/ptload/internal/session"
)

type fakeSession struct {
	authErr  error
	indexErr error
	gets     *atomic.Int64
}

func (f *fakeSession) Authenticate(ctx context.Context, user, password string) error {
	return f.authErr
}

func (f *fakeSession) GetIndex(ctx context.Context) (session.TimedResult, error) {
	f.gets.Add(1)
	time.Sleep(time.Millisecond)
	if f.indexErr != nil {
		return session.TimedResult{}, f.indexErr
	}
	return session.TimedResult{StatusCode: http.StatusOK, Elapsed: 10 * time.Millisecond}, nil
}

type fakeFactory struct {
	mu       sync.Mutex
	requests []int
	authErr  error
	gets     atomic.Int64
}

func (f *fakeFactory) build(workers int) (loadtest.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, workers)
	return &fakeSession{authErr: f.authErr, gets: &f.gets}, nil
}

type memoryWriter struct {
	mu   sync.Mutex
	rows [][]string
}

func (m *memoryWriter) WriteRow(fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, fields)
	return nil
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 5, loadtest.WorkerCount(5, 5, 1))
	assert.Equal(t, 10, loadtest.WorkerCount(5, 5, 2))
	assert.Equal(t, 15, loadtest.WorkerCount(5, 5, 3))
	assert.Equal(t, 2, loadtest.WorkerCount(2, 0, 4))
}

func TestSweepWritesOneRowPerIteration(t *testing.T) {
	factory := &fakeFactory{}
	rows := &memoryWriter{}
	var aggs []*metrics.Aggregator

	o := loadtest.New(loadtest.Options{
		RootURL:         "http://tracker.local",
		StartNumWorkers: 5,
		NumWorkersSkip:  5,
		NumIterations:   3,
		IterationLength: time.Second,
		ReportInterval:  100 * time.Millisecond,
		SummaryWriter:   rows,
		Logger:          quietLogger(),
		NewSession:      factory.build,
		OnAggregator:    func(a *metrics.Aggregator) { aggs = append(aggs, a) },
	})

	results, err := o.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Len(t, rows.rows, 3)

	assert.Equal(t, []int{5, 10, 15}, factory.requests)
	for i, want := range []string{"5", "10", "15"} {
		assert.Equal(t, want, rows.rows[i][0])
		assert.Equal(t, i+1, results[i].Iteration)
		assert.Greater(t, results[i].Snapshot.TotalNumSuccesses, int64(0))
		// every attempt succeeds against the fake
		assert.Equal(t, results[i].Snapshot.TotalNumSuccesses, results[i].Snapshot.TotalNumAttempts)
		assert.Equal(t, int64(results[i].WorkCalls), results[i].Snapshot.TotalNumSuccesses)
		assert.GreaterOrEqual(t, results[i].Duration, time.Second)
	}

	require.Len(t, aggs, 3)
	for _, a := range aggs {
		assert.Equal(t, metrics.VariantCumulative, a.Variant())
		assert.Zero(t, a.ActiveWorkers())
	}
}

func TestSweepWritesCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.csv")
	out, err := report.OpenCSV(path, report.LayoutCumulative.Header())
	require.NoError(t, err)

	o := loadtest.New(loadtest.Options{
		StartNumWorkers: 5,
		NumWorkersSkip:  5,
		NumIterations:   3,
		IterationLength: time.Second,
		ReportInterval:  250 * time.Millisecond,
		SummaryWriter:   out,
		Logger:          quietLogger(),
		NewSession:      (&fakeFactory{}).build,
	})
	results, err := o.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, out.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 4)
	assert.Equal(t, []string{"NUM ACTIVE WORKERS", "TOTAL NUM SUCCESSES", "TOTAL LATENCY (s)", "TOTAL NUM ATTEMPTS"}, records[0])
	for i, want := range []string{"5", "10", "15"} {
		row := records[i+1]
		require.Len(t, row, 4)
		assert.Equal(t, want, row[0])
		assert.Equal(t, strconv.FormatInt(results[i].Snapshot.TotalNumSuccesses, 10), row[1])
		assert.Equal(t, row[1], row[3])
	}
}

func TestSweepZeroLengthIterations(t *testing.T) {
	factory := &fakeFactory{}
	rows := &memoryWriter{}
	o := loadtest.New(loadtest.Options{
		StartNumWorkers: 2,
		NumWorkersSkip:  1,
		NumIterations:   2,
		SummaryWriter:   rows,
		Logger:          quietLogger(),
		NewSession:      factory.build,
	})

	results, err := o.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Zero(t, factory.gets.Load())
	assert.Equal(t, [][]string{{"2", "0", "0.00", "0"}, {"3", "0", "0.00", "0"}}, rows.rows)
}

func TestSweepAuthenticationFailure(t *testing.T) {
	factory := &fakeFactory{authErr: &session.StatusError{Op: "post login form", StatusCode: http.StatusForbidden}}
	rows := &memoryWriter{}
	o := loadtest.New(loadtest.Options{
		StartNumWorkers: 1,
		NumIterations:   3,
		IterationLength: time.Second,
		SummaryWriter:   rows,
		Logger:          quietLogger(),
		NewSession:      factory.build,
	})

	results, err := o.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, loadtest.ErrAuthentication))
	var statusErr *session.StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Empty(t, results)
	assert.Empty(t, rows.rows)
	assert.Zero(t, factory.gets.Load())
}

func TestSweepStopsOnCancel(t *testing.T) {
	factory := &fakeFactory{}
	rows := &memoryWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created := 0
	o := loadtest.New(loadtest.Options{
		StartNumWorkers: 1,
		NumWorkersSkip:  1,
		NumIterations:   5,
		IterationLength: 50 * time.Millisecond,
		SummaryWriter:   rows,
		Logger:          quietLogger(),
		NewSession:      factory.build,
		OnAggregator: func(*metrics.Aggregator) {
			created++
			if created == 2 {
				cancel()
			}
		},
	})

	results, err := o.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
	assert.Len(t, rows.rows, 1)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	factory := &fakeFactory{}
	logger, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := loadtest.New(loadtest.Options{
		NumWorkers:     3,
		Variant:        metrics.VariantMovingAverage,
		ReportInterval: 10 * time.Millisecond,
		Logger:         logger,
		NewSession:     factory.build,
	})

	run, err := o.Start(ctx)
	require.NoError(t, err)
	assert.Len(t, run.ID(), 26)

	agg := run.Aggregator()
	require.Eventually(t, func() bool {
		successes, _ := agg.Counts()
		return agg.ActiveWorkers() == 3 && successes > 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.01, agg.AverageLatency(), 1e-9)

	cancel()
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	run.Wait()
	assert.Zero(t, agg.ActiveWorkers())

	var sawHeader bool
	for _, e := range hook.AllEntries() {
		if e.Data["component"] == "reporter" && e.Data["run"] == run.ID() {
			sawHeader = true
			break
		}
	}
	assert.True(t, sawHeader, "reporter rows should carry the run id")
}

func TestStartAuthenticationFailureSpawnsNothing(t *testing.T) {
	factory := &fakeFactory{authErr: errors.New("connection refused")}
	o := loadtest.New(loadtest.Options{
		NumWorkers: 4,
		Logger:     quietLogger(),
		NewSession: factory.build,
	})

	run, err := o.Start(context.Background())
	assert.Nil(t, run)
	assert.ErrorIs(t, err, loadtest.ErrAuthentication)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, factory.gets.Load())
}

func TestStartOpensWriterAfterLogin(t *testing.T) {
	opened := 0
	rows := &memoryWriter{}
	openWriter := func() (report.RowWriter, error) {
		opened++
		return rows, nil
	}

	failing := loadtest.New(loadtest.Options{
		NumWorkers: 1,
		Logger:     quietLogger(),
		NewSession: (&fakeFactory{authErr: errors.New("forbidden")}).build,
		OpenWriter: openWriter,
	})
	_, err := failing.Start(context.Background())
	require.ErrorIs(t, err, loadtest.ErrAuthentication)
	assert.Zero(t, opened)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := loadtest.New(loadtest.Options{
		NumWorkers:     1,
		Variant:        metrics.VariantCumulative,
		ReportInterval: 10 * time.Millisecond,
		Logger:         quietLogger(),
		NewSession:     (&fakeFactory{}).build,
		OpenWriter:     openWriter,
	})
	run, err := o.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	require.Eventually(t, func() bool {
		rows.mu.Lock()
		defer rows.mu.Unlock()
		return len(rows.rows) > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	run.Wait()
}

func TestStartRejectsZeroWorkers(t *testing.T) {
	factory := &fakeFactory{}
	o := loadtest.New(loadtest.Options{Logger: quietLogger(), NewSession: factory.build})

	_, err := o.Start(context.Background())
	assert.Error(t, err)
	assert.Empty(t, factory.requests)
}

func TestStartAgainstHTTPServer(t *testing.T) {
	var indexHits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/login/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok", Path: "/"})
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("csrfmiddlewaretoken") != "tok" || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "s", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("sessionid"); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		indexHits.Add(1)
		_, _ = w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := loadtest.New(loadtest.Options{
		RootURL:        server.URL,
		User:           "u",
		Password:       "pw",
		NumWorkers:     2,
		Variant:        metrics.VariantCumulative,
		ReportInterval: 20 * time.Millisecond,
		HTTP:           httpclient.Options{Timeout: 5 * time.Second},
		Logger:         quietLogger(),
	})

	run, err := o.Start(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		successes, _ := run.Aggregator().Counts()
		return successes >= 20
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	run.Wait()

	successes, attempts := run.Aggregator().Counts()
	assert.Equal(t, successes, attempts)
	assert.LessOrEqual(t, successes, indexHits.Load())
	assert.Greater(t, run.Aggregator().TotalLatencySeconds(), 0.0)
}
