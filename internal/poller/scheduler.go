package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/shohag/apilogger/internal/config"
	"github.com/shohag/apilogger/internal/metrics"
)

// Scheduler fires one poll at every interval boundary. Polls run in their
// own goroutines, so a slow poll does not delay the next tick.
type Scheduler struct {
	poller     *Poller
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	sem        chan struct{}
	metrics    *metrics.Metrics
	log        zerolog.Logger
	stop       chan struct{}
	loop       sync.WaitGroup
	inflight   conc.WaitGroup
}

func NewScheduler(cfg config.PollerConfig, poller *Poller, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		poller:     poller,
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		runOnStart: cfg.RunOnStart,
		metrics:    m,
		log:        log,
		stop:       make(chan struct{}),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return s
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.interval).
		Int("max_concurrent", cap(s.sem)).
		Msg("starting poll scheduler")

	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		s.run(ctx)
	}()
}

// Stop ends the tick loop and waits for in-flight polls. Cancelling the
// context passed to Start stops new ticks but never aborts a running poll.
func (s *Scheduler) Stop() {
	s.log.Info().Msg("stopping poll scheduler")
	close(s.stop)
	s.loop.Wait()
	s.inflight.Wait()
	s.log.Info().Msg("poll scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	if s.runOnStart {
		s.fire(ctx)
	}

	timer := time.NewTimer(time.Until(nextBoundary(time.Now(), s.interval)))
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(ctx)
			timer.Reset(time.Until(nextBoundary(time.Now(), s.interval)))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
		default:
			s.metrics.PollsSkipped.Inc()
			s.log.Warn().Int("in_flight", cap(s.sem)).Msg("skipping tick, too many polls in flight")
			return
		}
	}

	s.inflight.Go(func() {
		if s.sem != nil {
			defer func() { <-s.sem }()
		}

		// A started poll runs to completion on shutdown so its attempt
		// record is always written; only the timeout bounds it.
		pollCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			pollCtx, cancel = context.WithTimeout(pollCtx, s.timeout)
			defer cancel()
		}

		var pc panics.Catcher
		pc.Try(func() { s.poller.Poll(pollCtx) })
		if r := pc.Recovered(); r != nil {
			s.log.Error().Err(r.AsError()).Msg("poll panicked")
		}
	})
}

// nextBoundary returns the first multiple of interval strictly after now,
// so a one-minute interval fires at the top of every minute.
func nextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}
