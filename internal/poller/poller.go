package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shohag/apilogger/internal/metrics"
	"github.com/shohag/apilogger/internal/models"
	"github.com/shohag/apilogger/internal/storage"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Result is the outcome of one poll. FetchErr is set when the call itself
// failed; Err is set when recording the outcome failed.
type Result struct {
	AttemptID    string        `json:"attemptId,omitempty"`
	BucketKey    string        `json:"bucketKey,omitempty"`
	PayloadID    string        `json:"payloadId,omitempty"`
	Success      bool          `json:"success"`
	StatusCode   int           `json:"statusCode"`
	PayloadBytes int           `json:"payloadBytes"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	FetchLatency time.Duration `json:"fetchLatency"`
	FetchErr     error         `json:"-"`
	Err          error         `json:"-"`
}

func (r Result) Outcome() string {
	switch {
	case r.Err != nil:
		return OutcomeError
	case r.Success:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

type Poller struct {
	fetcher  *Fetcher
	attempts storage.AttemptLog
	payloads storage.PayloadStore
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
	last     atomic.Pointer[Result]
}

func New(fetcher *Fetcher, attempts storage.AttemptLog, payloads storage.PayloadStore, m *metrics.Metrics, log zerolog.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		attempts: attempts,
		payloads: payloads,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Poll performs one fetch, appends exactly one attempt record and, when the
// fetch succeeded, stores the body under a fresh payload id referenced by
// the record. Failures are logged and returned in the Result, never retried.
func (p *Poller) Poll(ctx context.Context) (res Result) {
	res.StartedAt = p.now().UTC()
	defer func() {
		res.Duration = p.now().Sub(res.StartedAt)
		p.finish(res)
	}()

	fetched, err := p.fetcher.Fetch(ctx)
	res.StatusCode = fetched.StatusCode
	res.FetchLatency = fetched.Latency
	res.Success = err == nil
	res.FetchErr = err
	if res.Success {
		res.PayloadID = models.NewID(models.PayloadIDPrefix)
		res.PayloadBytes = len(fetched.Body)
	}

	rec := models.NewAttemptRecord(p.now(), res.Success, res.StatusCode, res.PayloadID)
	res.AttemptID = rec.RowKey
	res.BucketKey = rec.PartitionKey

	if err := p.attempts.Append(ctx, rec); err != nil {
		p.metrics.StoreErrorsTotal.WithLabelValues("attempts").Inc()
		res.Err = fmt.Errorf("append attempt: %w", err)
		res.PayloadID = ""
		return res
	}

	if !res.Success {
		return res
	}

	if err := p.payloads.Put(ctx, res.PayloadID, fetched.Body); err != nil {
		p.metrics.StoreErrorsTotal.WithLabelValues("payloads").Inc()
		res.Err = fmt.Errorf("store payload %s: %w", res.PayloadID, err)
		return res
	}
	p.metrics.PayloadBytes.Observe(float64(res.PayloadBytes))
	return res
}

// Summary is the printable form of a Result, with errors as text and
// durations in milliseconds.
type Summary struct {
	AttemptID      string    `json:"attemptId,omitempty"`
	BucketKey      string    `json:"bucketKey,omitempty"`
	PayloadID      string    `json:"payloadId,omitempty"`
	Outcome        string    `json:"outcome"`
	StatusCode     int       `json:"statusCode"`
	PayloadBytes   int       `json:"payloadBytes"`
	StartedAt      time.Time `json:"startedAt"`
	DurationMs     int64     `json:"durationMs"`
	FetchLatencyMs int64     `json:"fetchLatencyMs"`
	FetchError     string    `json:"fetchError,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func (r Result) Summary() Summary {
	s := Summary{
		AttemptID:      r.AttemptID,
		BucketKey:      r.BucketKey,
		PayloadID:      r.PayloadID,
		Outcome:        r.Outcome(),
		StatusCode:     r.StatusCode,
		PayloadBytes:   r.PayloadBytes,
		StartedAt:      r.StartedAt,
		DurationMs:     r.Duration.Milliseconds(),
		FetchLatencyMs: r.FetchLatency.Milliseconds(),
	}
	if r.FetchErr != nil {
		s.FetchError = r.FetchErr.Error()
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}

// LastResult returns the most recently finished poll, if any.
func (p *Poller) LastResult() (Result, bool) {
	r := p.last.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

func (p *Poller) finish(res Result) {
	p.last.Store(&res)
	p.metrics.PollsTotal.WithLabelValues(res.Outcome()).Inc()
	p.metrics.PollDuration.Observe(res.Duration.Seconds())
	p.metrics.FetchLatency.Observe(res.FetchLatency.Seconds())

	switch {
	case res.Err != nil:
		p.log.Error().
			Err(res.Err).
			Str("attempt_id", res.AttemptID).
			Str("payload_id", res.PayloadID).
			Bool("success", res.Success).
			Msg("error fetching and storing api data")
	case !res.Success:
		p.log.Warn().
			AnErr("fetch_error", res.FetchErr).
			Str("attempt_id", res.AttemptID).
			Str("bucket", res.BucketKey).
			Int("status_code", res.StatusCode).
			Dur("latency", res.FetchLatency).
			Dur("duration", res.Duration).
			Msg("api call failed")
	default:
		p.log.Info().
			Str("attempt_id", res.AttemptID).
			Str("bucket", res.BucketKey).
			Str("payload_id", res.PayloadID).
			Int("status_code", res.StatusCode).
			Int("payload_bytes", res.PayloadBytes).
			Dur("latency", res.FetchLatency).
			Dur("duration", res.Duration).
			Msg("api call succeeded")
	}
}
