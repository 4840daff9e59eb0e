package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"block-streamer/internal/alerting"
	"block-streamer/internal/config"
	"block-streamer/internal/failover"
	"block-streamer/internal/storage"
)

// switchHook fans provider switch events out to alerting and storage without
// blocking the controller.
type switchHook struct {
	chainID     uint64
	environment string
	timeout     time.Duration
	notifier    *alerting.AsyncNotifier
	store       storage.SwitchStore
	status      func() []failover.Status
	logger      zerolog.Logger

	wg sync.WaitGroup
}

func newSwitchHook(cfg *config.Config, logger zerolog.Logger) *switchHook {
	return &switchHook{
		chainID:     cfg.Stream.ChainID,
		environment: cfg.App.Environment,
		timeout:     cfg.Database.WriteTimeout,
		logger:      logger.With().Str("component", "switch_hook").Logger(),
	}
}

func (h *switchHook) handle(ev failover.Event) {
	if h.store != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			timeout := h.timeout
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := h.store.InsertSwitch(ctx, ev); err != nil {
				h.logger.Error().Err(err).Str("from", ev.From).Str("to", ev.To).Msg("failed to record provider switch")
			}
		}()
	}

	if h.notifier != nil {
		h.notifier.Send(h.notification(ev))
	}
}

func (h *switchHook) notification(ev failover.Event) alerting.Notification {
	note := alerting.Notification{
		At:          ev.At,
		ChainID:     h.chainID,
		From:        ev.From,
		To:          ev.To,
		Reason:      string(ev.Reason),
		Head:        ev.Head,
		Environment: h.environment,
	}
	if h.status == nil {
		return note
	}
	statuses := h.status()
	if ev.FromIndex >= 0 && ev.FromIndex < len(statuses) {
		prev := statuses[ev.FromIndex]
		note.LagSeconds = decimal.NewFromFloat(prev.Lag.Seconds())
		note.ErrorPct = decimal.NewFromFloat(prev.ScoreErrorRatio).Mul(decimal.NewFromInt(100))
	}
	return note
}

func (h *switchHook) wait() {
	h.wg.Wait()
	if h.notifier != nil {
		h.notifier.Wait()
	}
}
