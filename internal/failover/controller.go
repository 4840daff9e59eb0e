// Package failover keeps track of which RPC provider the stream reads from and
// moves it to another provider on health or head-consensus grounds.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"block-streamer/internal/block"
	"block-streamer/internal/health"
)

const meterName = "block-streamer/internal/failover"

// ErrNoProviders is returned when the controller is built without providers.
var ErrNoProviders = errors.New("failover: at least one provider required")

// Provider is the RPC surface the controller and stream loop depend on.
type Provider interface {
	Name() string
	HeadNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (block.Record, error)
	// AverageLatency and ErrorRatio describe the provider's recent calls; both are zero without samples.
	AverageLatency() time.Duration
	ErrorRatio() float64
}

// Reason names the strategy that triggered a switch.
type Reason string

const (
	ReasonHealth    Reason = "health"
	ReasonConsensus Reason = "consensus"
)

// Event describes a completed provider switch.
type Event struct {
	From      string
	To        string
	FromIndex int
	ToIndex   int
	Reason    Reason
	// Head is the plurality head for consensus switches, zero otherwise.
	Head uint64
	At   time.Time
}

// Options tune health scoring and switch notifications.
type Options struct {
	LagThreshold   time.Duration
	ErrorThreshold float64
	HalfLife       time.Duration
	// OnSwitch is called after every switch, outside the controller lock. It must not block.
	OnSwitch func(Event)
}

type controllerMetrics struct {
	switches    metric.Int64Counter
	noCandidate metric.Int64Counter
}

// Controller owns the provider list, their health scores and the active index.
type Controller struct {
	providers []Provider
	scores    []*health.Score

	// mu serialises every write to active and every score update.
	mu     sync.Mutex
	active atomic.Int32

	onSwitch func(Event)
	logger   zerolog.Logger
	metrics  *controllerMetrics
	now      func() time.Time
}

// New builds a Controller with provider 0 active.
func New(providers []Provider, opts Options, logger zerolog.Logger) (*Controller, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.HalfLife <= 0 {
		return nil, fmt.Errorf("failover: half-life must be positive, got %s", opts.HalfLife)
	}

	scores := make([]*health.Score, len(providers))
	for i := range providers {
		scores[i] = health.NewScore(opts.LagThreshold, opts.ErrorThreshold, opts.HalfLife)
	}

	c := &Controller{
		providers: providers,
		scores:    scores,
		onSwitch:  opts.OnSwitch,
		logger:    logger.With().Str("component", "failover").Logger(),
		now:       time.Now,
	}
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return c, nil
}

func (c *Controller) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &controllerMetrics{}
	c.metrics.switches, err = meter.Int64Counter(
		"blockstream_failover_switches_total",
		metric.WithDescription("Provider switches by strategy"),
		metric.WithUnit("{switch}"),
	)
	if err != nil {
		return err
	}

	c.metrics.noCandidate, err = meter.Int64Counter(
		"blockstream_failover_no_candidate_total",
		metric.WithDescription("Health-based switch attempts that found no healthy provider"),
		metric.WithUnit("{attempt}"),
	)
	return err
}

// Active returns the provider calls should currently go to.
func (c *Controller) Active() Provider {
	return c.providers[c.active.Load()]
}

// ActiveIndex returns the index of the active provider.
func (c *Controller) ActiveIndex() int {
	return int(c.active.Load())
}

// Providers returns the configured providers in order.
func (c *Controller) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// RecordMetrics scores the active provider with the observed lag and its current error ratio.
func (c *Controller) RecordMetrics(lag time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.active.Load()
	c.scores[idx].Update(lag, c.providers[idx].ErrorRatio())
}

// SwitchToHealthyProvider activates the first healthy provider other than the
// active one, in list order. It reports false when no provider qualifies; the
// caller decides how long to back off.
func (c *Controller) SwitchToHealthyProvider(ctx context.Context) bool {
	c.mu.Lock()
	from := int(c.active.Load())
	to := -1
	for i, score := range c.scores {
		if i == from {
			continue
		}
		if score.Healthy() {
			to = i
			break
		}
	}
	if to >= 0 {
		c.active.Store(int32(to))
	}
	c.mu.Unlock()

	if to < 0 {
		c.metrics.noCandidate.Add(ctx, 1)
		c.logger.Warn().Str("active", c.providers[from].Name()).Msg("no healthy provider to switch to")
		return false
	}

	c.emit(ctx, Event{FromIndex: from, ToIndex: to, Reason: ReasonHealth})
	return true
}

// SwitchProviderConsensusBased polls every provider's head and, if the active
// provider disagrees with the plurality, activates the first provider that agrees.
func (c *Controller) SwitchProviderConsensusBased(ctx context.Context) bool {
	if len(c.providers) < 2 {
		return false
	}

	heads := c.Heads(ctx)
	consensus, ok := Plurality(heads)
	if !ok {
		c.logger.Warn().Msg("no provider answered the head query; keeping active provider")
		return false
	}

	c.mu.Lock()
	from := int(c.active.Load())
	if h := heads[from]; h.Err == nil && h.Head == consensus {
		c.mu.Unlock()
		c.logger.Info().
			Str("provider", c.providers[from].Name()).
			Uint64("head", consensus).
			Msg("active provider agrees with consensus head")
		return false
	}

	to := -1
	for i, h := range heads {
		if h.Err == nil && h.Head == consensus {
			to = i
			break
		}
	}
	c.active.Store(int32(to))
	c.mu.Unlock()

	c.emit(ctx, Event{FromIndex: from, ToIndex: to, Reason: ReasonConsensus, Head: consensus})
	return true
}

func (c *Controller) emit(ctx context.Context, ev Event) {
	ev.From = c.providers[ev.FromIndex].Name()
	ev.To = c.providers[ev.ToIndex].Name()
	ev.At = c.now()

	c.metrics.switches.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(ev.Reason))))

	logEvent := c.logger.Info().
		Str("from", ev.From).
		Str("to", ev.To).
		Str("reason", string(ev.Reason))
	if ev.Reason == ReasonConsensus {
		logEvent = logEvent.Uint64("consensus_head", ev.Head)
	}
	logEvent.Msg("switched provider")

	if c.onSwitch != nil {
		c.onSwitch(ev)
	}
}
