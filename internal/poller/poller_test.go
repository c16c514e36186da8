package poller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/apilogger/internal/metrics"
	"github.com/shohag/apilogger/internal/models"
	"github.com/shohag/apilogger/internal/storage"
)

type fixture struct {
	poller   *Poller
	attempts storage.AttemptLog
	payloads storage.PayloadStore
	fs       afero.Fs
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, url string) *fixture {
	t.Helper()
	ctx := context.Background()

	attempts, err := storage.NewSQLite(filepath.Join(t.TempDir(), "attempts.db"), "Attempts")
	require.NoError(t, err)
	t.Cleanup(func() { attempts.Close() })
	require.NoError(t, attempts.EnsureExists(ctx))

	fs := afero.NewMemMapFs()
	payloads := storage.NewFilePayloadStore(fs, "payloadforsuccess")
	require.NoError(t, payloads.EnsureExists(ctx))

	m := metrics.New()
	fetcher := NewFetcher(NewHTTPClient(5*time.Second), url)
	return &fixture{
		poller:   New(fetcher, attempts, payloads, m, zerolog.Nop()),
		attempts: attempts,
		payloads: payloads,
		fs:       fs,
		metrics:  m,
	}
}

func (f *fixture) today(t *testing.T) []models.AttemptRecord {
	t.Helper()
	now := time.Now().UTC()
	recs, err := storage.Collect(f.attempts.QueryRange(context.Background(),
		models.BucketKey(now.AddDate(0, 0, -1)), models.BucketKey(now.AddDate(0, 0, 1))))
	require.NoError(t, err)
	return recs
}

func (f *fixture) payload(t *testing.T, id string) string {
	t.Helper()
	rc, err := f.payloads.Get(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func staticServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestPollSuccessStoresPayload(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "hello")
	f := newFixture(t, ts.URL)

	res := f.poller.Poll(context.Background())
	require.NoError(t, res.Err)
	require.NoError(t, res.FetchErr)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, models.BucketKey(time.Now()), res.BucketKey)
	require.NotEmpty(t, res.PayloadID)
	assert.NotEqual(t, res.AttemptID, res.PayloadID)

	recs := f.today(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, res.AttemptID, recs[0].RowKey)
	assert.Equal(t, res.PayloadID, recs[0].PayloadID)

	assert.Equal(t, "hello", f.payload(t, res.PayloadID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PollsTotal.WithLabelValues(OutcomeSuccess)))

	assert.Positive(t, res.FetchLatency)
	assert.LessOrEqual(t, res.FetchLatency, res.Duration)
}

func TestPollNon2xxRecordsFailure(t *testing.T) {
	ts := staticServer(t, http.StatusServiceUnavailable, "busy")
	f := newFixture(t, ts.URL)

	res := f.poller.Poll(context.Background())
	require.NoError(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Empty(t, res.PayloadID)

	var fetchErr *FetchError
	require.ErrorAs(t, res.FetchErr, &fetchErr)
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)

	recs := f.today(t)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Empty(t, recs[0].PayloadID)
	assert.Equal(t, http.StatusServiceUnavailable, recs[0].StatusCode)

	entries, err := afero.ReadDir(f.fs, "payloadforsuccess")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PollsTotal.WithLabelValues(OutcomeFailure)))
}

func TestPollTransportErrorRecordsFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	f := newFixture(t, url)

	res := f.poller.Poll(context.Background())
	require.NoError(t, res.Err)
	assert.False(t, res.Success)
	assert.Zero(t, res.StatusCode)
	assert.Error(t, res.FetchErr)

	recs := f.today(t)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Zero(t, recs[0].StatusCode)
}

type failingAttemptLog struct {
	storage.AttemptLog
}

func (failingAttemptLog) Append(context.Context, models.AttemptRecord) error {
	return storage.ErrUnavailable
}

type failingPayloadStore struct {
	storage.PayloadStore
}

func (failingPayloadStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestPollAttemptStoreFailureSkipsPayload(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "hello")
	f := newFixture(t, ts.URL)
	f.poller.attempts = failingAttemptLog{f.attempts}

	res := f.poller.Poll(context.Background())
	require.ErrorIs(t, res.Err, storage.ErrUnavailable)
	assert.Equal(t, OutcomeError, res.Outcome())
	assert.Empty(t, res.PayloadID)

	entries, err := afero.ReadDir(f.fs, "payloadforsuccess")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreErrorsTotal.WithLabelValues("attempts")))
}

func TestPollPayloadStoreFailureKeepsRecord(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "hello")
	f := newFixture(t, ts.URL)
	f.poller.payloads = failingPayloadStore{f.payloads}

	res := f.poller.Poll(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "disk full")

	recs := f.today(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, res.PayloadID, recs[0].PayloadID)

	ok, err := f.payloads.Exists(context.Background(), res.PayloadID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentPollsProduceDistinctRecords(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, "payload")
	}))
	t.Cleanup(ts.Close)
	f := newFixture(t, ts.URL)

	const n = 8
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.poller.Poll(context.Background())
		}(i)
	}
	close(release)
	wg.Wait()

	attemptIDs := map[string]bool{}
	payloadIDs := map[string]bool{}
	for _, res := range results {
		require.NoError(t, res.Err)
		attemptIDs[res.AttemptID] = true
		payloadIDs[res.PayloadID] = true
	}
	assert.Len(t, attemptIDs, n)
	assert.Len(t, payloadIDs, n)
	assert.Len(t, f.today(t), n)
}

func TestLastResult(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "x")
	f := newFixture(t, ts.URL)

	_, ok := f.poller.LastResult()
	assert.False(t, ok)

	res := f.poller.Poll(context.Background())
	last, ok := f.poller.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.AttemptID, last.AttemptID)
	assert.Equal(t, res.Duration, last.Duration)
}

func TestResultSummary(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res := Result{
		AttemptID:    "att_1",
		BucketKey:    "20240301",
		StatusCode:   http.StatusBadGateway,
		StartedAt:    started,
		Duration:     1500 * time.Millisecond,
		FetchLatency: 1200 * time.Millisecond,
		FetchErr:     &FetchError{URL: "http://upstream", StatusCode: http.StatusBadGateway},
		Err:          errors.New("append attempt: database is locked"),
	}

	sum := res.Summary()
	assert.Equal(t, OutcomeError, sum.Outcome)
	assert.Equal(t, int64(1500), sum.DurationMs)
	assert.Equal(t, int64(1200), sum.FetchLatencyMs)
	assert.Contains(t, sum.FetchError, "502")
	assert.Equal(t, "append attempt: database is locked", sum.Error)
	assert.Equal(t, started, sum.StartedAt)

	ok := Result{AttemptID: "att_2", Success: true, PayloadID: "pld_2"}.Summary()
	assert.Equal(t, OutcomeSuccess, ok.Outcome)
	assert.Empty(t, ok.FetchError)
	assert.Empty(t, ok.Error)
}
