// Package server builds the application's dependencies from configuration and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/api"
	"github.com/JakeFAU/parallel-fetcher/internal/archive"
	"github.com/JakeFAU/parallel-fetcher/internal/clock/system"
	"github.com/JakeFAU/parallel-fetcher/internal/config"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/parallel-fetcher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/parallel-fetcher/internal/fetcher/headless"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher/zenrows"
	"github.com/JakeFAU/parallel-fetcher/internal/hash/sha256"
	"github.com/JakeFAU/parallel-fetcher/internal/headless/detector"
	"github.com/JakeFAU/parallel-fetcher/internal/id/uuid"
	"github.com/JakeFAU/parallel-fetcher/internal/llm"
	"github.com/JakeFAU/parallel-fetcher/internal/metrics"
	memorypublisher "github.com/JakeFAU/parallel-fetcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/parallel-fetcher/internal/publisher/pubsub"
	"github.com/JakeFAU/parallel-fetcher/internal/research"
	"github.com/JakeFAU/parallel-fetcher/internal/search/cache"
	"github.com/JakeFAU/parallel-fetcher/internal/search/google"
	gcsstorage "github.com/JakeFAU/parallel-fetcher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/parallel-fetcher/internal/storage/local"
	memoryStorage "github.com/JakeFAU/parallel-fetcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/parallel-fetcher/internal/storage/postgres"
)

// ErrNotConfigured is returned for optional components whose credentials are missing.
var ErrNotConfigured = errors.New("not configured")

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer       *api.Server
	fetchers        map[fetcher.Mode]crawler.Fetcher
	headless        *headlessfetcher.Fetcher
	batches         crawler.BatchStore
	recorder        *archive.Recorder
	searcher        crawler.Searcher
	research        *research.Pipeline
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	batchDB         *pgstore.BatchStore
	redis           *redis.Client
}

// Build creates the application's dependencies. Components without credentials are left out rather
// than failing the build.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("fetch_mode", cfg.Fetch.Mode),
		zap.Int("concurrency", cfg.Fetch.Concurrency),
	)

	if err := app.build(ctx); err != nil {
		if closeErr := app.Close(ctx); closeErr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	blobStore, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	if err := setupDatabase(ctx, a); err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	a.recorder, err = archive.New(blobStore, a.batches, publisher, sha256.New(), archive.Config{
		Prefix: a.cfg.Storage.Prefix,
	}, a.logger.Named("archive"))
	if err != nil {
		return fmt.Errorf("archive init failed: %w", err)
	}
	if err := setupFetchers(a); err != nil {
		return err
	}
	if err := setupResearch(ctx, a); err != nil {
		return err
	}

	deps := api.Deps{
		Fetchers: a.fetchers,
		Recorder: a.recorder,
		Batches:  a.batches,
		IDs:      uuid.New(),
		Clock:    system.New(),
		Observer: metrics.NewBatchObserver("api"),
	}
	if a.research != nil {
		deps.Asker = a.research
	}
	a.apiServer = api.NewServer(deps, a.cfg, a.logger.Named("api"))
	return nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	var blobStore crawler.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping batch records in memory")
		app.batches = memoryStorage.NewBatchStore()
		return nil
	}
	store, err := pgstore.NewBatchStore(ctx, pgstore.Config{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("batch store init failed: %w", err)
	}
	app.batchDB = store
	app.batches = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("batch store schema failed: %w", err)
	}
	app.logger.Info("batch store initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher, err = gcppublisher.New(app.pubsubClient.Publisher(app.cfg.PubSub.TopicName))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

// setupFetchers registers one fetcher per available mode. Auto needs a renderer: the local browser
// when enabled, otherwise ZenRows with rendering forced on.
func setupFetchers(app *App) error {
	cfg := app.cfg
	app.fetchers = make(map[fetcher.Mode]crawler.Fetcher)

	direct := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
	})
	app.fetchers[fetcher.ModeDirect] = direct
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Fetch.UserAgent))

	var renderer crawler.Fetcher
	if cfg.ZenRows.APIKey != "" {
		zr, err := zenrows.New(zenrows.Config{
			APIKey:   cfg.ZenRows.APIKey,
			Endpoint: cfg.ZenRows.Endpoint,
			Antibot:  cfg.ZenRows.Antibot,
			Wait:     time.Duration(cfg.ZenRows.WaitMs) * time.Millisecond,
		}, collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      cfg.FetchTimeout(),
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		}))
		if err != nil {
			return fmt.Errorf("zenrows fetcher init failed: %w", err)
		}
		app.fetchers[fetcher.ModeZenRows] = zr
		renderer = forceRender{next: zr}
		app.logger.Info("using zenrows fetcher", zap.Bool("antibot", cfg.ZenRows.Antibot))
	}

	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxTabs:           cfg.Headless.MaxTabs,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			app.headless = hf
			app.fetchers[fetcher.ModeHeadless] = hf
			renderer = hf
			app.logger.Info("using headless fetcher", zap.Int("max_tabs", cfg.Headless.MaxTabs))
		}
	}

	if renderer != nil {
		af, err := auto.New(direct, renderer, detector.NewHeuristic(cfg.Headless.MinTextLength), app.logger.Named("auto"))
		if err != nil {
			return fmt.Errorf("auto fetcher init failed: %w", err)
		}
		app.fetchers[fetcher.ModeAuto] = af
	}
	return nil
}

// forceRender asks the wrapped fetcher to render every page.
type forceRender struct {
	next crawler.Fetcher
}

func (f forceRender) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	request.Render = true
	return f.next.Fetch(ctx, request)
}

func setupResearch(ctx context.Context, app *App) error {
	cfg := app.cfg
	if cfg.Search.APIKey == "" || cfg.Search.EngineID == "" {
		app.logger.Warn("No search credentials configured, search and ask are disabled")
		return nil
	}
	searcher, err := google.New(ctx, google.Config{
		APIKey:   cfg.Search.APIKey,
		EngineID: cfg.Search.EngineID,
		Endpoint: cfg.Search.Endpoint,
	}, app.logger.Named("search"))
	if err != nil {
		return fmt.Errorf("search init failed: %w", err)
	}
	app.searcher = searcher
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.searcher = cache.New(searcher, app.redis, cache.Config{TTL: cfg.SearchCacheTTL()}, app.logger.Named("search_cache"))
		app.logger.Info("search cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.OpenAI.APIKey == "" {
		app.logger.Warn("No OpenAI credentials configured, ask is disabled")
		return nil
	}
	model, err := llm.New(llm.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		AzureEndpoint:   cfg.OpenAI.AzureEndpoint,
		AzureAPIVersion: cfg.OpenAI.AzureAPIVersion,
		Model:           cfg.OpenAI.Model,
		ReasoningEffort: cfg.OpenAI.ReasoningEffort,
		MaxSourceChars:  cfg.OpenAI.MaxSourceChars,
	}, app.logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("llm init failed: %w", err)
	}

	mode, err := fetcher.ParseMode(cfg.Fetch.Mode)
	if err != nil {
		return fmt.Errorf("research fetcher: %w", err)
	}
	f, err := app.Fetcher(mode)
	if err != nil {
		return fmt.Errorf("research fetcher: %w", err)
	}
	fetch := fetcher.SearchResultText(f, app.FetchOptions(mode, true))
	app.research = research.New(app.searcher, fetch, model, research.Config{
		Results:        cfg.Search.Results,
		MaxConcurrency: cfg.Fetch.Concurrency,
	}, metrics.NewBatchObserver("research"), app.logger.Named("research"))
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Fetcher returns the fetcher registered for mode.
func (a *App) Fetcher(mode fetcher.Mode) (crawler.Fetcher, error) {
	f, ok := a.fetchers[mode]
	if !ok {
		return nil, fmt.Errorf("fetch mode %q: %w", mode, ErrNotConfigured)
	}
	return f, nil
}

// FetchOptions returns the per-item options configured for mode.
func (a *App) FetchOptions(mode fetcher.Mode, extract bool) fetcher.Options {
	return fetcher.Options{
		Render:        mode == fetcher.ModeZenRows && a.cfg.ZenRows.JSRender,
		PremiumProxy:  mode == fetcher.ModeZenRows && a.cfg.ZenRows.PremiumProxy,
		Extract:       extract,
		MaxTextLength: a.cfg.Fetch.MaxTextLength,
		Timeout:       a.cfg.FetchTimeout(),
	}
}

// Recorder returns the batch archiver.
func (a *App) Recorder() *archive.Recorder {
	return a.recorder
}

// Searcher returns the (possibly cached) web searcher.
func (a *App) Searcher() (crawler.Searcher, error) {
	if a.searcher == nil {
		return nil, fmt.Errorf("search: %w", ErrNotConfigured)
	}
	return a.searcher, nil
}

// Research returns the question answering pipeline.
func (a *App) Research() (*research.Pipeline, error) {
	if a.research == nil {
		return nil, fmt.Errorf("ask: %w", ErrNotConfigured)
	}
	return a.research, nil
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API and blocks until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
	}
	return nil
}

// Close releases every client the app opened. It is safe to call on a partially built app.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.batchDB != nil {
		a.batchDB.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
