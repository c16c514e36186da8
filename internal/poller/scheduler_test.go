package poller

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/apilogger/internal/config"
	"github.com/shohag/apilogger/internal/models"
)

func TestNextBoundary(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 15, 42, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 16, 0, 0, time.UTC), nextBoundary(now, time.Minute))

	onBoundary := time.Date(2024, 1, 1, 10, 16, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 17, 0, 0, time.UTC), nextBoundary(onBoundary, time.Minute))
}

func TestSchedulerPollsOnEveryTick(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "tick")
	f := newFixture(t, ts.URL)

	s := NewScheduler(config.PollerConfig{
		Interval:   20 * time.Millisecond,
		Timeout:    time.Second,
		RunOnStart: true,
	}, f.poller, f.metrics, zerolog.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(f.today(t)) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	s.Stop()

	settled := len(f.today(t))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, len(f.today(t)), "no polls after Stop")
}

func TestSchedulerSkipsWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, "slow")
	}))
	t.Cleanup(ts.Close)
	f := newFixture(t, ts.URL)

	s := NewScheduler(config.PollerConfig{
		Interval:      10 * time.Millisecond,
		Timeout:       10 * time.Second,
		RunOnStart:    true,
		MaxConcurrent: 1,
	}, f.poller, f.metrics, zerolog.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.PollsSkipped) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	s.Stop()

	recs := f.today(t)
	require.NotEmpty(t, recs)
	for _, rec := range recs {
		assert.True(t, rec.Success)
	}
}

type panickingAttemptLog struct {
	failingAttemptLog
}

func (panickingAttemptLog) Append(context.Context, models.AttemptRecord) error {
	panic("boom")
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "x")
	f := newFixture(t, ts.URL)
	f.poller.attempts = panickingAttemptLog{}

	var logs bytes.Buffer
	s := NewScheduler(config.PollerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}, f.poller, f.metrics, zerolog.New(&logs))
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		_, ok := f.poller.LastResult()
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	assert.NotPanics(t, s.Stop)

	assert.Contains(t, logs.String(), "poll panicked")
	assert.Contains(t, logs.String(), "boom")
	assert.Empty(t, f.today(t))
}

func TestSchedulerFinishesInFlightPollAfterCancel(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		io.WriteString(w, "late")
	}))
	t.Cleanup(ts.Close)
	f := newFixture(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(config.PollerConfig{
		Interval:   time.Hour,
		Timeout:    10 * time.Second,
		RunOnStart: true,
	}, f.poller, f.metrics, zerolog.Nop())
	s.Start(ctx)

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("poll never reached the upstream")
	}
	cancel()
	close(release)
	s.Stop()

	res, ok := f.poller.LastResult()
	require.True(t, ok)
	require.NoError(t, res.Err)
	require.NoError(t, res.FetchErr)

	recs := f.today(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "late", f.payload(t, recs[0].PayloadID))
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	ts := staticServer(t, http.StatusOK, "x")
	f := newFixture(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(config.PollerConfig{Interval: time.Hour}, f.poller, f.metrics, zerolog.Nop())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.loop.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop did not exit after cancel")
	}
	s.Stop()
}
