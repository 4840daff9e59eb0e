package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"block-streamer/internal/alerting"
	"block-streamer/internal/config"
	"block-streamer/internal/failover"
	"block-streamer/internal/provider"
	"block-streamer/internal/storage"
	"block-streamer/internal/stream"
	"block-streamer/internal/telemetry"
	"block-streamer/internal/version"
)

const shutdownTimeout = 5 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Switches bool
}

func (a *App) newProviders() []*provider.Client {
	clients := make([]*provider.Client, len(a.Config.Providers))
	for i, p := range a.Config.Providers {
		clients[i] = provider.New(provider.Options{
			Name:            p.Name,
			URL:             p.URL,
			Timeout:         p.Timeout,
			MaxConcurrent:   p.MaxConcurrent,
			RatePerSecond:   p.RatePerSecond,
			Burst:           p.Burst,
			BreakerFailures: p.BreakerFailures,
			BreakerTimeout:  p.BreakerTimeout,
		}, a.Logger)
	}
	return clients
}

func closeProviders(clients []*provider.Client) {
	for _, c := range clients {
		c.Close()
	}
}

func asFailoverProviders(clients []*provider.Client) []failover.Provider {
	out := make([]failover.Provider, len(clients))
	for i, c := range clients {
		out[i] = c
	}
	return out
}

func (a *App) failoverOptions(onSwitch func(failover.Event)) failover.Options {
	return failover.Options{
		LagThreshold:   a.Config.Stream.LagThreshold,
		ErrorThreshold: a.Config.Stream.FailureRatio,
		HalfLife:       a.Config.Stream.ScoreHalfLife,
		OnSwitch:       onSwitch,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) startCursor() *stream.Cursor {
	if a.Config.Stream.StartBlock == 0 {
		return nil
	}
	// No hash: the first block is checked for completeness only.
	return &stream.Cursor{Number: a.Config.Stream.StartBlock - 1}
}

// Run executes the long-running block stream.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics, err := telemetry.NewMetrics(a.Config.App.Name)
	if err != nil {
		return err
	}
	metrics.Install()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		_ = metrics.Shutdown(shutdownCtx)
	}()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	clients := a.newProviders()
	defer closeProviders(clients)

	hook := newSwitchHook(a.Config, a.Logger)
	if notifier := a.newNotifier(); notifier != nil {
		hook.notifier = alerting.NewAsyncNotifier(notifier, a.Config.Alerting.Timeout, a.Logger)
	}
	if store != nil {
		hook.store = store
	}
	defer hook.wait()

	ctrl, err := failover.New(asFailoverProviders(clients), a.failoverOptions(hook.handle), a.Logger)
	if err != nil {
		return err
	}
	hook.status = ctrl.Snapshot

	var sinks stream.MultiSink
	if a.Config.Output.Stdout {
		sinks = append(sinks, stream.NewWriterSink(os.Stdout))
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		a.Logger.Warn().Msg("no block output configured; blocks are validated and dropped")
	}

	streamer, err := stream.New(ctrl, sinks, stream.Options{
		PollInterval:     a.Config.Stream.PollInterval,
		NoHealthyBackoff: a.Config.Stream.NoHealthyBackoff,
		Start:            a.startCursor(),
	}, a.Logger)
	if err != nil {
		return err
	}

	if a.Config.Telemetry.Enabled {
		srv := telemetry.NewServer(a.Config.Telemetry.ListenAddr, version.Version, metrics.Handler(), ctrl, func() bool {
			return streamer.Cursor().Set
		}, a.Logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	a.Logger.Info().
		Str("version", version.Version).
		Str("environment", a.Config.App.Environment).
		Uint64("chain_id", a.Config.Stream.ChainID).
		Dur("expected_block_time", a.Config.Stream.ExpectedBlockTime).
		Strs("providers", a.Config.ProviderNames()).
		Msg("starting block streamer")

	err = streamer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("stream terminated with error")
		return err
	}

	a.Logger.Info().Msg("block streamer stopped")
	return nil
}
