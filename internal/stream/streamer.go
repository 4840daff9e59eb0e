// Package stream pulls blocks in order from the active provider, checks that they
// chain, delivers them to a sink, and asks the failover controller to recover
// when the provider misbehaves.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"block-streamer/internal/block"
	"block-streamer/internal/failover"
	"block-streamer/internal/scheduler"
)

const meterName = "block-streamer/internal/stream"

// Failover is the subset of failover.Controller the stream drives.
type Failover interface {
	Active() failover.Provider
	RecordMetrics(lag time.Duration)
	SwitchToHealthyProvider(ctx context.Context) bool
	SwitchProviderConsensusBased(ctx context.Context) bool
}

// Options tune the stream loop.
type Options struct {
	PollInterval time.Duration
	// NoHealthyBackoff is how long to wait when a health-based switch finds no candidate.
	NoHealthyBackoff time.Duration
	// Start presets the cursor. When nil the stream starts at the active provider's head.
	Start *Cursor
}

type streamMetrics struct {
	emitted            metric.Int64Counter
	validationFailures metric.Int64Counter
	lag                metric.Float64Histogram
}

// Streamer is the block stream loop.
type Streamer struct {
	ctrl   Failover
	sink   Sink
	opts   Options
	logger zerolog.Logger

	running atomic.Bool

	// mu guards cursor for readers outside the loop; only the loop writes it.
	mu     sync.RWMutex
	cursor Cursor

	now     func() time.Time
	metrics *streamMetrics
}

// New constructs a Streamer.
func New(ctrl Failover, sink Sink, opts Options, logger zerolog.Logger) (*Streamer, error) {
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("stream: poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.NoHealthyBackoff <= 0 {
		opts.NoHealthyBackoff = 2 * time.Second
	}

	s := &Streamer{
		ctrl:   ctrl,
		sink:   sink,
		opts:   opts,
		logger: logger.With().Str("component", "stream").Logger(),
		now:    time.Now,
	}
	if opts.Start != nil {
		s.cursor = *opts.Start
		s.cursor.Set = true
	}
	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return s, nil
}

func (s *Streamer) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &streamMetrics{}
	s.metrics.emitted, err = meter.Int64Counter(
		"blockstream_blocks_emitted_total",
		metric.WithDescription("Validated blocks delivered downstream"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	s.metrics.validationFailures, err = meter.Int64Counter(
		"blockstream_validation_failures_total",
		metric.WithDescription("Blocks rejected by the integrity check"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	s.metrics.lag, err = meter.Float64Histogram(
		"blockstream_lag_seconds",
		metric.WithDescription("Time since the last accepted block's timestamp"),
		metric.WithUnit("s"),
	)
	return err
}

// Run marks the stream running and polls until Stop is called or ctx ends.
// After Stop the loop exits once the current iteration's sleep completes.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Info().Dur("poll_interval", s.opts.PollInterval).Msg("starting block stream")
	s.running.Store(true)
	defer s.running.Store(false)

	sched := scheduler.New(scheduler.Options{Interval: s.opts.PollInterval}, s.logger)
	err := sched.Run(ctx, s.tick)

	s.logger.Info().Uint64("last_block", s.Cursor().Number).Msg("block stream stopped")
	return err
}

// Stop asks a running loop to exit.
func (s *Streamer) Stop() {
	s.running.Store(false)
}

// Running reports whether the loop is active.
func (s *Streamer) Running() bool {
	return s.running.Load()
}

// Cursor returns a copy of the current cursor.
func (s *Streamer) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

func (s *Streamer) tick(ctx context.Context) error {
	if !s.running.Load() {
		return scheduler.ErrStop
	}
	s.iterate(ctx)
	return nil
}

func (s *Streamer) iterate(ctx context.Context) {
	if err := s.poll(ctx); err != nil && ctx.Err() == nil {
		s.recoverFrom(ctx, err)
	}

	if ts := s.Cursor().Timestamp; !ts.IsZero() {
		lag := s.now().Sub(ts)
		s.metrics.lag.Record(ctx, lag.Seconds())
		s.ctrl.RecordMetrics(lag)
	}
}

func (s *Streamer) poll(ctx context.Context) error {
	provider := s.ctrl.Active()
	head, err := provider.HeadNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch head from %s: %w", provider.Name(), err)
	}

	s.mu.Lock()
	if !s.cursor.Set {
		s.cursor = Cursor{Number: head, Set: true}
		s.logger.Info().Uint64("head", head).Str("provider", provider.Name()).Msg("stream starts at current head")
	}
	s.mu.Unlock()

	return s.processBlocks(ctx, head)
}

// processBlocks walks from the cursor up to head. The first failure aborts the batch
// and leaves the cursor at the last accepted block.
func (s *Streamer) processBlocks(ctx context.Context, head uint64) error {
	for {
		cur := s.Cursor()
		if cur.Number >= head {
			return nil
		}
		next := cur.Number + 1

		provider := s.ctrl.Active()
		rec, err := provider.BlockByNumber(ctx, next)
		if err != nil {
			return fmt.Errorf("fetch block %d from %s: %w", next, provider.Name(), err)
		}

		if outcome := block.Validate(rec, cur.Hash); !outcome.OK() {
			s.metrics.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", outcome.Kind.String())))
			return fmt.Errorf("block %d from %s: %w", next, provider.Name(), outcome.Err())
		}

		if err := s.sink.Emit(ctx, rec); err != nil {
			s.logger.Error().Err(err).Uint64("block", rec.Number).Msg("failed to deliver block")
		}
		s.metrics.emitted.Add(ctx, 1)

		s.mu.Lock()
		s.cursor = s.cursor.advance(rec.Hash, rec.Time())
		s.mu.Unlock()

		s.logger.Info().
			Uint64("block", rec.Number).
			Str("hash", rec.Hash).
			Int("tx_count", rec.TxCount).
			Str("provider", provider.Name()).
			Msg("block accepted")
	}
}

func (s *Streamer) recoverFrom(ctx context.Context, err error) {
	if block.IsChainFailure(err) {
		s.logger.Error().Err(err).Msg("block failed integrity check; resolving consensus head")
		s.ctrl.SwitchProviderConsensusBased(ctx)
		return
	}

	s.logger.Error().Err(err).Msg("failed to process blocks")
	if !s.ctrl.SwitchToHealthyProvider(ctx) {
		_ = scheduler.Sleep(ctx, s.opts.NoHealthyBackoff)
	}
}
