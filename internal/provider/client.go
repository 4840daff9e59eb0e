// Package provider implements the JSON-RPC transport for a single Ethereum node.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"block-streamer/internal/block"
	"block-streamer/internal/failover"
)

const (
	defaultTimeout         = 8 * time.Second
	defaultMaxConcurrent   = 10
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// Options parameterise a provider client.
type Options struct {
	Name          string
	URL           string
	Timeout       time.Duration
	MaxConcurrent int64
	// RatePerSecond caps outgoing calls; zero disables the limiter.
	RatePerSecond float64
	Burst         int

	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	WindowSize      int
}

// Client talks to one RPC endpoint and keeps rolling call statistics.
type Client struct {
	opts   Options
	logger zerolog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	stats   *window

	client    *ethclient.Client
	clientMux sync.Mutex

	now func() time.Time
}

// New builds a client. The endpoint is dialed on first use.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = defaultBreakerTimeout
	}

	c := &Client{
		opts:   opts,
		logger: logger.With().Str("component", "provider").Str("provider", opts.Name).Logger(),
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		stats:  newWindow(opts.WindowSize),
		now:    time.Now,
	}

	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    opts.Name,
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	return c
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.opts.Name
}

// HeadNumber returns the latest block number reported by the node.
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

// BlockByNumber fetches a block header summary. Fields the node leaves out come back as zero values.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (block.Record, error) {
	return call(ctx, c, func(ctx context.Context, client *ethclient.Client) (block.Record, error) {
		var raw json.RawMessage
		if err := client.Client().CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
			return block.Record{}, err
		}
		if len(raw) == 0 || string(raw) == "null" {
			return block.Record{}, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
		}

		var payload rpcBlock
		if err := json.Unmarshal(raw, &payload); err != nil {
			return block.Record{}, fmt.Errorf("decode block %d: %w", number, err)
		}
		return payload.record(), nil
	})
}

// AverageLatency is the mean latency over the recent call window.
func (c *Client) AverageLatency() time.Duration {
	return c.stats.averageLatency()
}

// ErrorRatio is the share of failed calls over the recent call window.
func (c *Client) ErrorRatio() float64 {
	return c.stats.errorRatio()
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func call[T any](ctx context.Context, c *Client, fn func(context.Context, *ethclient.Client) (T, error)) (T, error) {
	var zero T
	if c.opts.URL == "" {
		return zero, fmt.Errorf("provider %s: rpc url not configured", c.opts.Name)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := c.now()
	out, err := c.breaker.Execute(func() (any, error) {
		client, err := c.getClient(callCtx)
		if err != nil {
			return nil, err
		}
		return fn(callCtx, client)
	})
	if ctx.Err() == nil {
		c.stats.record(c.now().Sub(start), err != nil)
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.URL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

type rpcBlock struct {
	Number       *hexutil.Uint64   `json:"number"`
	Hash         *common.Hash      `json:"hash"`
	ParentHash   *common.Hash      `json:"parentHash"`
	Timestamp    *hexutil.Uint64   `json:"timestamp"`
	Transactions []json.RawMessage `json:"transactions"`
}

func (b rpcBlock) record() block.Record {
	rec := block.Record{TxCount: len(b.Transactions)}
	if b.Number != nil {
		rec.Number = uint64(*b.Number)
	}
	if b.Hash != nil {
		rec.Hash = b.Hash.Hex()
	}
	if b.ParentHash != nil {
		rec.ParentHash = b.ParentHash.Hex()
	}
	if b.Timestamp != nil {
		rec.Timestamp = uint64(*b.Timestamp)
	}
	return rec
}

var _ failover.Provider = (*Client)(nil)
