// Package app builds the long-lived services of an enrichment run and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/clock/system"
	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/config"
	"github.com/JakeFAU/company-enricher/internal/dispatcher"
	"github.com/JakeFAU/company-enricher/internal/extract"
	"github.com/JakeFAU/company-enricher/internal/fetcher"
	"github.com/JakeFAU/company-enricher/internal/fetcher/headless"
	"github.com/JakeFAU/company-enricher/internal/fetcher/static"
	"github.com/JakeFAU/company-enricher/internal/id/uuid"
	"github.com/JakeFAU/company-enricher/internal/llm"
	"github.com/JakeFAU/company-enricher/internal/llm/openai"
	"github.com/JakeFAU/company-enricher/internal/pipeline"
	"github.com/JakeFAU/company-enricher/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/company-enricher/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/company-enricher/internal/publisher/pubsub"
	"github.com/JakeFAU/company-enricher/internal/server"
	gcsstorage "github.com/JakeFAU/company-enricher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/company-enricher/internal/storage/local"
	memorystorage "github.com/JakeFAU/company-enricher/internal/storage/memory"
	pgstore "github.com/JakeFAU/company-enricher/internal/storage/postgres"
	"github.com/JakeFAU/company-enricher/internal/translate"
)

// App holds the services shared by every record of one run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	store      company.Store
	model      llm.Model
	launcher   fetcher.Launcher
	archive    company.BlobStore
	publisher  company.Publisher
	clock      company.Clock
	dispatcher *dispatcher.Dispatcher
	server     *server.Server

	pool    *pgxpool.Pool
	closers []func()
}

// Option overrides a dependency New would otherwise build from configuration.
type Option func(*App)

// WithStore uses store instead of connecting to Postgres.
func WithStore(store company.Store) Option {
	return func(a *App) { a.store = store }
}

// WithModel uses model instead of the chat completions client.
func WithModel(model llm.Model) Option {
	return func(a *App) { a.model = model }
}

// WithLauncher uses launcher instead of the configured fetcher engine.
func WithLauncher(launcher fetcher.Launcher) Option {
	return func(a *App) { a.launcher = launcher }
}

// WithArchive uses blobs instead of the configured artifacts provider.
func WithArchive(blobs company.BlobStore) Option {
	return func(a *App) { a.archive = blobs }
}

// WithPublisher uses pub instead of the configured events provider.
func WithPublisher(pub company.Publisher) Option {
	return func(a *App) { a.publisher = pub }
}

// WithClock fixes the time source for record updates.
func WithClock(clock company.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// New wires every service described by cfg. On error, whatever was already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.runID = runID
	a.logger = logger.With(zap.String("run_id", runID))
	a.logger.Info("initializing application services")

	if err = a.setupStore(ctx); err != nil {
		return nil, err
	}
	if err = a.setupModel(); err != nil {
		return nil, err
	}
	a.setupLauncher()
	if err = a.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if err = a.setupDispatcher(); err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		a.server = server.New(server.Config{Port: cfg.Metrics.Port}, a.ready, a.dispatcher, a.logger)
	}

	a.logger.Info("application services initialized")
	return a, nil
}

// RunID identifies this run in logs, events and archive paths.
func (a *App) RunID() string {
	return a.runID
}

// Run drains the queue. The ops server, when enabled, lives for the duration of the call.
func (a *App) Run(ctx context.Context) (dispatcher.Summary, error) {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return dispatcher.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("ops server shutdown failed", zap.Error(err))
			}
		}()
	}

	a.logger.Info("enrichment run started",
		zap.Int64("start_id", a.cfg.Run.StartID),
		zap.Int("batch_size", a.cfg.Run.BatchSize),
		zap.String("engine", a.cfg.Fetcher.Engine),
	)
	sum, err := a.dispatcher.Run(ctx)
	fields := []zap.Field{
		zap.Int("batches", sum.Batches),
		zap.Int("records", sum.Records),
		zap.Int64("cursor", sum.Cursor),
		zap.Bool("interrupted", sum.Interrupted),
		zap.Duration("elapsed", sum.Elapsed),
	}
	for _, o := range company.Outcomes {
		fields = append(fields, zap.Int(string(o), sum.Outcomes[o]))
	}
	if err != nil {
		a.logger.Error("enrichment run failed", append(fields, zap.Error(err))...)
		return sum, err
	}
	a.logger.Info("finished all running tasks", fields...)
	return sum, nil
}

// Close releases every service New opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	store, pool, err := pgstore.NewCompanyStore(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("company store init failed: %w", err)
	}
	a.store = store
	a.pool = pool
	a.onClose(store.Close)
	a.logger.Info("company store initialized", zap.String("table", a.cfg.DB.Table))

	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return err
		}
		a.logger.Info("database migrations applied")
	}
	return nil
}

func (a *App) setupModel() error {
	if a.model != nil {
		return nil
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:            a.cfg.LLM.APIKey,
		BaseURL:           a.cfg.LLM.BaseURL,
		Model:             a.cfg.LLM.Model,
		Temperature:       a.cfg.LLM.Temperature,
		Timeout:           a.cfg.LLM.Timeout,
		RequestsPerSecond: a.cfg.LLM.RequestsPerSecond,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("llm client init failed: %w", err)
	}
	a.model = client
	a.logger.Info("llm client initialized", zap.String("model", a.cfg.LLM.Model))
	return nil
}

func (a *App) setupLauncher() {
	if a.launcher != nil {
		return
	}
	switch a.cfg.Fetcher.Engine {
	case config.EngineStatic:
		a.launcher = static.New(static.Config{
			UserAgent: a.cfg.Fetcher.UserAgent,
			Timeout:   a.cfg.Fetcher.NavigationTimeout,
		})
		a.logger.Info("using static page loader")
	default:
		l := headless.New(headless.Config{
			UserAgent:   a.cfg.Fetcher.UserAgent,
			ExecPath:    a.cfg.Fetcher.ExecPath,
			NoSandbox:   a.cfg.Fetcher.NoSandbox,
			Headful:     a.cfg.Fetcher.Headful,
			SettleDelay: a.cfg.Fetcher.SettleDelay,
		})
		a.launcher = l
		a.onClose(l.Close)
		a.logger.Info("using headless browser", zap.Bool("headful", a.cfg.Fetcher.Headful))
	}
}

func (a *App) setupArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	switch a.cfg.Artifacts.Provider {
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Artifacts.GCS.Bucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.archive = blobs
		a.onClose(func() {
			if err := blobs.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		a.logger.Info("archiving model responses to GCS", zap.String("bucket", a.cfg.Artifacts.GCS.Bucket))
	case config.ProviderLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Artifacts.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("archiving model responses locally", zap.String("path", a.cfg.Artifacts.Local.BaseDir))
	case config.ProviderMemory:
		a.archive = memorystorage.NewBlobStore()
		a.logger.Info("archiving model responses in memory")
	default:
		a.logger.Info("model response archiving disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	switch a.cfg.Events.Provider {
	case config.ProviderPubSub:
		pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID: a.cfg.Events.PubSub.ProjectID,
			TopicID:   a.cfg.Events.PubSub.TopicID,
		})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.onClose(pub.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.PubSub.ProjectID),
			zap.String("topic", a.cfg.Events.PubSub.TopicID),
		)
	case config.ProviderMemory:
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher")
	default:
		a.logger.Info("enrichment events disabled")
	}
	return nil
}

func (a *App) setupDispatcher() error {
	var fetchOpts []fetcher.Option
	if a.cfg.Fetcher.HostRPS > 0 {
		fetchOpts = append(fetchOpts, fetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.Fetcher.HostRPS,
			Burst: a.cfg.Fetcher.HostBurst,
		})))
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", a.cfg.Fetcher.HostRPS),
			zap.Int("burst", a.cfg.Fetcher.HostBurst),
		)
	}
	f, err := fetcher.New(a.launcher, fetcher.Config{
		NavigationTimeout: a.cfg.Fetcher.NavigationTimeout,
		ReadTimeout:       a.cfg.Fetcher.ReadTimeout,
		SettleDelay:       a.cfg.Fetcher.SettleDelay,
	}, a.logger, fetchOpts...)
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}
	tr := translate.New(a.model, translate.Config{
		Enabled:  a.cfg.Translate.Enabled,
		MaxChars: a.cfg.Translate.MaxChars,
	}, a.logger)
	ex, err := extract.New(a.model, extract.Config{MaxChars: a.cfg.Extract.MaxChars}, a.logger)
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}

	opts := []pipeline.Option{pipeline.WithRunID(a.runID)}
	if a.archive != nil {
		opts = append(opts, pipeline.WithArchive(a.archive))
	}
	if a.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(a.publisher))
	}
	p, err := pipeline.New(f, tr, ex, a.store, a.clock, pipeline.Config{
		ArchivePrefix:  a.cfg.Artifacts.Prefix,
		PublishTimeout: a.cfg.Events.PublishTimeout,
	}, a.logger, opts...)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.dispatcher, err = dispatcher.New(a.store, p, dispatcher.Config{
		StartID:   a.cfg.Run.StartID,
		BatchSize: a.cfg.Run.BatchSize,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}
	return nil
}
