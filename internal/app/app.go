// Package app builds the notifier's long-lived services and holds them for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/api"
	"github.com/JakeFAU/bios-notifier/internal/checker"
	"github.com/JakeFAU/bios-notifier/internal/clock/system"
	"github.com/JakeFAU/bios-notifier/internal/config"
	"github.com/JakeFAU/bios-notifier/internal/discovery"
	"github.com/JakeFAU/bios-notifier/internal/fetcher"
	collyfetcher "github.com/JakeFAU/bios-notifier/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/bios-notifier/internal/fetcher/headless"
	"github.com/JakeFAU/bios-notifier/internal/id/uuid"
	"github.com/JakeFAU/bios-notifier/internal/lock"
	"github.com/JakeFAU/bios-notifier/internal/logging"
	"github.com/JakeFAU/bios-notifier/internal/mailer"
	"github.com/JakeFAU/bios-notifier/internal/metrics"
	"github.com/JakeFAU/bios-notifier/internal/notifier"
	"github.com/JakeFAU/bios-notifier/internal/pipeline"
	"github.com/JakeFAU/bios-notifier/internal/policy/ratelimit"
	"github.com/JakeFAU/bios-notifier/internal/report"
	reportpubsub "github.com/JakeFAU/bios-notifier/internal/report/pubsub"
	gcsstorage "github.com/JakeFAU/bios-notifier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bios-notifier/internal/storage/local"
	memorystorage "github.com/JakeFAU/bios-notifier/internal/storage/memory"
	pgstore "github.com/JakeFAU/bios-notifier/internal/storage/postgres"
	"github.com/JakeFAU/bios-notifier/internal/storage/snapshot"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  tracker.Clock

	store     tracker.Store
	pgStore   *pgstore.CatalogStore
	snapshot  *snapshot.File
	pacer     *ratelimit.Pacer
	httpFetch *collyfetcher.Fetcher
	router    *fetcher.Router
	mailer    tracker.Mailer
	reporter  tracker.Reporter
	locker    lock.Locker
	mirror    *pipeline.Mirror
	runner    *pipeline.Runner

	redis     *redis.Client
	gcs       *storage.Client
	publisher *reportpubsub.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.String("mirror", cfg.Mirror.Kind))

	steps := []func(context.Context) error{
		app.setupStore,
		app.setupFetchers,
		app.setupMailer,
		app.setupReporter,
		app.setupLocker,
		app.setupMirror,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}
	app.setupRunner()
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	a.snapshot = snapshot.NewFile(a.cfg.Snapshot.Path)
	if a.cfg.DB.DSN == "" {
		models, err := a.snapshot.Load(ctx)
		if err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
		a.logger.Warn("no DSN configured, using in-memory store seeded from snapshot",
			zap.String("path", a.snapshot.Path()),
			zap.Int("models", len(models)))
		a.store = memorystorage.NewCatalogStore(models, nil)
		return nil
	}
	store, err := pgstore.NewCatalogStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		ModelsTable:     a.cfg.DB.ModelsTable,
		UsersTable:      a.cfg.DB.UsersTable,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("catalog store init failed: %w", err)
	}
	a.pgStore = store
	a.store = store
	a.logger.Info("postgres catalog store initialized",
		zap.String("models_table", a.cfg.DB.ModelsTable),
		zap.String("users_table", a.cfg.DB.UsersTable))
	return nil
}

func (a *App) setupFetchers(_ context.Context) error {
	a.pacer = ratelimit.New(ratelimit.Config{Interval: a.cfg.PaceInterval()})
	a.httpFetch = collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   time.Duration(a.cfg.HTTP.TimeoutSeconds) * time.Second,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.HTTP.UserAgent))

	var browser tracker.PageFetcher
	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSeconds) * time.Second,
			Attempts:          a.cfg.Headless.Attempts,
			RetryDelay:        time.Duration(a.cfg.Headless.RetryDelayMillis) * time.Millisecond,
			ExecPath:          a.cfg.Headless.ExecPath,
			NoSandbox:         a.cfg.Headless.NoSandbox,
			WaitSelector:      a.cfg.Headless.WaitSelector,
		}, a.logger.Named("headless"))
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		browser = headless
		a.logger.Info("using headless fetcher", zap.Strings("alt_hosts", a.cfg.Vendor.AltHosts))
	} else {
		a.logger.Warn("headless fetcher disabled; alternate-host pages will be reported unavailable")
	}
	a.router = fetcher.NewRouter(a.httpFetch, browser, a.cfg.Vendor.AltHosts...)
	return nil
}

func (a *App) setupMailer(_ context.Context) error {
	if a.cfg.Email.Host == "" {
		a.logger.Warn("no SMTP host configured, notifications will only be logged")
		a.mailer = mailer.NewLogMailer(a.logger)
		return nil
	}
	a.mailer = mailer.NewSMTP(mailer.Config{
		Host:     a.cfg.Email.Host,
		Port:     a.cfg.Email.Port,
		Username: a.cfg.Email.Username,
		Password: a.cfg.Email.Password,
		From:     a.cfg.Email.From,
		SiteURL:  a.cfg.Email.SiteURL,
	}, a.logger)
	a.logger.Info("SMTP mailer initialized", zap.String("host", a.cfg.Email.Host), zap.Int("port", a.cfg.Email.Port))
	return nil
}

func (a *App) setupReporter(ctx context.Context) error {
	sinks := []tracker.Reporter{report.NewLogSink(a.logger)}
	if url := a.cfg.Report.WebhookURL; url != "" {
		timeout := time.Duration(a.cfg.Report.WebhookTimeoutSeconds) * time.Second
		sinks = append(sinks, report.NewWebhookSink(url, a.cfg.Report.WebhookFooter, timeout))
		a.logger.Debug("added webhook report sink")
	}
	if a.cfg.Report.PubSubProjectID != "" {
		publisher, err := reportpubsub.New(ctx, a.cfg.Report.PubSubProjectID, a.cfg.Report.PubSubTopic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = publisher
		sinks = append(sinks, publisher)
		a.logger.Info("Pub/Sub report sink initialized",
			zap.String("project", a.cfg.Report.PubSubProjectID),
			zap.String("topic", a.cfg.Report.PubSubTopic))
	}
	a.reporter = report.NewFanout(sinks...)
	return nil
}

func (a *App) setupLocker(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.locker = lock.NewLocal()
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.locker = lock.NewRedis(a.redis, a.cfg.Redis.LockKey, a.cfg.LockTTL())
	a.logger.Info("using redis run lock", zap.String("addr", a.cfg.Redis.Addr), zap.String("key", a.cfg.Redis.LockKey))
	return nil
}

func (a *App) setupMirror(ctx context.Context) error {
	var store tracker.BlobStore
	switch a.cfg.Mirror.Kind {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		store, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Mirror.GCSBucket,
			Prefix: a.cfg.Mirror.GCSPrefix,
		})
		if err != nil {
			return fmt.Errorf("gcs mirror init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot mirror", zap.String("bucket", a.cfg.Mirror.GCSBucket))
	case "local":
		var err error
		store, err = localstorage.New(localstorage.Config{
			BaseDir:     a.cfg.Mirror.LocalDir,
			KeepHistory: a.cfg.Mirror.KeepHistory,
		})
		if err != nil {
			return fmt.Errorf("local mirror init failed: %w", err)
		}
		a.logger.Info("using local snapshot mirror", zap.String("path", a.cfg.Mirror.LocalDir))
	default:
		return nil
	}
	a.mirror = &pipeline.Mirror{
		Store:        store,
		SnapshotPath: a.cfg.Snapshot.Path,
		ObjectName:   a.cfg.Mirror.ObjectName,
	}
	return nil
}

func (a *App) setupRunner() {
	disc := discovery.New(
		a.store,
		a.snapshot,
		a.httpFetch,
		a.router,
		a.pacer,
		uuid.New(uuid.ModelPrefix),
		a.clock,
		discovery.Config{
			CatalogURL:  a.cfg.Vendor.CatalogURL,
			PrimaryBase: a.cfg.Vendor.PrimaryBase,
			AltBase:     a.cfg.Vendor.AltBase,
			Sockets:     a.cfg.Vendor.Sockets,
		},
		a.logger,
	)
	check := checker.New(a.store, a.snapshot, a.router, a.pacer, a.clock,
		checker.Config{Rounds: a.cfg.Checker.Rounds}, a.logger)
	notify := notifier.New(a.store, a.mailer, a.clock, notifier.Config{
		DailyCap:    a.cfg.Notifier.DailyCap,
		GraceWindow: a.cfg.GraceWindow(),
	}, a.logger)

	a.runner = pipeline.NewRunner(
		[]pipeline.Stage{disc, check, notify},
		a.reporter,
		a.locker,
		a.mirror,
		a.clock,
		a.logger,
	)
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runner exposes the pipeline runner.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Run executes one pipeline run with the given options.
func (a *App) Run(ctx context.Context, opts pipeline.Options) ([]tracker.Summary, error) {
	summaries, err := a.runner.Run(ctx, opts)
	if err != nil {
		return summaries, fmt.Errorf("pipeline run: %w", err)
	}
	return summaries, nil
}

// Serve starts the ops HTTP server and blocks until the context is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(a.runner, a.clock, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, a.logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	apiServer.Close()
	return nil
}

// PushMetrics sends the registry to the configured Pushgateway, if any.
func (a *App) PushMetrics() {
	if err := metrics.Push(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
}

// Close gracefully shuts down the application.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
