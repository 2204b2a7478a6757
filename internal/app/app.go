package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"aave-rate-digest/internal/aave"
	"aave-rate-digest/internal/alerting"
	"aave-rate-digest/internal/config"
	"aave-rate-digest/internal/digest"
	"aave-rate-digest/internal/metrics"
	"aave-rate-digest/internal/retry"
	"aave-rate-digest/internal/scheduler"
	"aave-rate-digest/internal/service"
	"aave-rate-digest/internal/storage"
	"aave-rate-digest/internal/tracing"
	"aave-rate-digest/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	dialer aave.Dialer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newAaveClient(ctx context.Context, observer aave.Observer) (*aave.Client, error) {
	reg, err := aave.LoadRegistry(a.Config.Aave.RegistryFile)
	if err != nil {
		return nil, err
	}

	cfg := a.Config.Aave
	opts := aave.Options{
		Network:           cfg.Network,
		RPCURL:            cfg.RPCURL,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		CacheTTL:          cfg.Cache.TTL,
		DisableCache:      !cfg.Cache.Enabled,
		Retry: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
	}

	var options []aave.Option
	if observer != nil {
		options = append(options, aave.WithObserver(observer))
	}
	if a.dialer != nil {
		options = append(options, aave.WithDialer(a.dialer))
	}
	return aave.NewClient(ctx, reg, opts, a.Logger, options...)
}

// addMarket appends the market section to builder and returns the client closer. A client
// that cannot be constructed leaves the builder with the greeting only.
func (a *App) addMarket(ctx context.Context, builder *digest.Builder, observer aave.Observer, onSnapshot func(context.Context, *aave.MarketSnapshot)) func() {
	if !a.Config.Digest.Enabled {
		return func() {}
	}

	client, err := a.newAaveClient(ctx, observer)
	if err != nil {
		a.Logger.Error().Err(err).Str("network", a.Config.Aave.Network).Msg("market data unavailable; sending greeting only")
		return func() {}
	}

	builder.Add(&digest.Market{
		Source:     client,
		Tokens:     digest.TargetTokens(a.Config.Aave.TargetTokens, a.Logger),
		Title:      a.Config.Digest.Title,
		OnSnapshot: onSnapshot,
	})
	return client.Close
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:       cfg.BotToken,
		ChatID:         cfg.ChatID,
		BaseURL:        cfg.APIBase,
		ParseMode:      cfg.ParseMode,
		DisablePreview: cfg.DisablePreview,
		Timeout:        cfg.RequestTimeout,
		MaxAttempts:    cfg.MaxRetries,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openArchive opens the store and applies the schema. A nil archive means persistence is off.
func (a *App) openArchive(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil || store == nil {
		return nil, func() {}, err
	}
	if err := store.Migrate(ctx); err != nil {
		closeStore()
		return nil, func() {}, err
	}
	return store, closeStore, nil
}

func (a *App) initTracing(ctx context.Context) func() {
	shutdown, err := tracing.Init(ctx, a.Config.Tracing, version.Version, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("tracing disabled")
		return func() {}
	}
	return shutdown
}

// buildService wires builder, notifier, archive and metrics into a service.
func (a *App) buildService(ctx context.Context, recorder *metrics.Recorder, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	store, closeStore, err := a.openArchive(ctx)
	if err != nil {
		return nil, nil, err
	}

	var archive storage.SnapshotStore
	if store != nil {
		archive = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; snapshot archive disabled")
	}

	builder := digest.NewBuilder(a.Config.Digest.Message, a.Logger)
	svc := service.New(a.Config, sched, builder, a.newNotifier(), archive, recorder, a.Logger)

	// the market component reports snapshots back to the service for archiving
	closeClient := a.addMarket(ctx, builder, recorder, svc.CaptureSnapshot)

	cleanup := func() {
		closeClient()
		closeStore()
	}
	return svc, cleanup, nil
}

// RunOnce sends one digest and exits.
func (a *App) RunOnce(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer a.initTracing(ctx)()

	recorder := metrics.NewRecorder()
	svc, cleanup, err := a.buildService(ctx, recorder, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Initialize(ctx); err != nil {
		return err
	}

	runErr := svc.RunOnce(ctx)
	a.pushMetrics(recorder)
	if runErr != nil {
		return runErr
	}
	a.Logger.Info().Msg("digest run completed")
	return nil
}

func (a *App) pushMetrics(recorder *metrics.Recorder) {
	url := a.Config.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := recorder.Push(ctx, url, a.Config.Metrics.Job); err != nil {
		a.Logger.Warn().Err(err).Str("url", url).Msg("failed to push metrics")
	}
}

// Serve executes the long-running delivery service.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer a.initTracing(ctx)()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return &config.Error{Err: err}
	}

	recorder := metrics.NewRecorder()
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := recorder.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
	}

	svc, cleanup, err := a.buildService(ctx, recorder, sched)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Initialize(ctx); err != nil {
		return err
	}

	a.Logger.Info().Str("network", a.Config.Aave.Network).Msg("starting digest service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("digest service stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived reserves.
type ExportOptions struct {
	Token     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
