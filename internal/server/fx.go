// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vitals-monitor/internal/alerts"
	"github.com/JakeFAU/vitals-monitor/internal/api"
	"github.com/JakeFAU/vitals-monitor/internal/auth"
	"github.com/JakeFAU/vitals-monitor/internal/clock/system"
	"github.com/JakeFAU/vitals-monitor/internal/config"
	"github.com/JakeFAU/vitals-monitor/internal/crux"
	"github.com/JakeFAU/vitals-monitor/internal/dispatcher"
	"github.com/JakeFAU/vitals-monitor/internal/id/uuid"
	"github.com/JakeFAU/vitals-monitor/internal/jobs"
	"github.com/JakeFAU/vitals-monitor/internal/logging"
	"github.com/JakeFAU/vitals-monitor/internal/monitor"
	"github.com/JakeFAU/vitals-monitor/internal/pagespeed"
	"github.com/JakeFAU/vitals-monitor/internal/plan"
	"github.com/JakeFAU/vitals-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/vitals-monitor/internal/queue"
	queueMemory "github.com/JakeFAU/vitals-monitor/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/vitals-monitor/internal/queue/pubsub"
	"github.com/JakeFAU/vitals-monitor/internal/queue/qstash"
	"github.com/JakeFAU/vitals-monitor/internal/remediation"
	"github.com/JakeFAU/vitals-monitor/internal/runner"
	"github.com/JakeFAU/vitals-monitor/internal/scheduler"
	"github.com/JakeFAU/vitals-monitor/internal/signing"
	gcsstorage "github.com/JakeFAU/vitals-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/vitals-monitor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/vitals-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/vitals-monitor/internal/storage/postgres"
	"github.com/JakeFAU/vitals-monitor/internal/tasks"
	"github.com/JakeFAU/vitals-monitor/internal/telemetry"
	"github.com/JakeFAU/vitals-monitor/internal/worker"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// store is the persistence surface the app needs beyond monitor.Store.
type store interface {
	monitor.Store
	Close()
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	caps   config.Capabilities
	logger *zap.Logger

	store     store
	pgStore   *pgstore.Store
	clock     monitor.Clock
	ids       monitor.IDGenerator
	plans     plan.Table
	tasks     *tasks.Runner
	runner    *runner.Runner
	processor *jobs.Processor
	scheduler *scheduler.Scheduler

	provider    queue.Provider
	dispatch    *dispatcher.Dispatcher
	workersDone chan struct{}
	gcsArchive  *gcsstorage.BlobStore

	tracerShutdown func(context.Context) error
	cancel         context.CancelFunc
}

// Build creates the application's dependencies. Everything except the HTTP
// server is constructed here so CLI commands share the same wiring.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	caps := cfg.Capabilities()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("queue", caps.Queue),
		zap.String("archive", caps.Archive),
		zap.Bool("email", caps.Email),
		zap.Bool("ai_plans", caps.AIPlans),
		zap.Bool("history", caps.History),
		zap.Bool("signed_jobs", caps.SignedJobs),
	)

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{
		cfg:    cfg,
		caps:   caps,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		plans:  plan.DefaultTable(),
		cancel: cancel,
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Enabled:     cfg.Telemetry.TracingEnabled,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.setupStore(ctx); err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}

	app.tasks = tasks.NewRunner(tasks.Config{
		Workers:     cfg.Tasks.Workers,
		BufferSize:  cfg.Tasks.BufferSize,
		TaskTimeout: cfg.Tasks.TaskTimeout,
		BaseContext: baseCtx,
		Logger:      logger,
	})

	evaluator, err := app.setupAlerts()
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}

	auditor, err := pagespeed.New(ctx, pagespeed.Config{
		Endpoint:          cfg.PageSpeed.Endpoint,
		APIKey:            cfg.PageSpeed.APIKey,
		Timeout:           cfg.PageSpeed.Timeout,
		RequestsPerSecond: cfg.PageSpeed.RequestsPerSecond,
	})
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}

	runnerCfg := runner.Config{
		Store:     app.store,
		Auditor:   auditor,
		Evaluator: evaluator,
		Tasks:     app.tasks,
		Plans:     app.plans,
		IDs:       app.ids,
		Tokens:    uuid.NewTokenGenerator(),
		Clock:     app.clock,
		Logger:    logger,
	}
	if archive != nil {
		runnerCfg.Archive = archive
	}
	if caps.History {
		fetcher, err := crux.New(ctx, crux.Config{
			Endpoint: cfg.CrUX.Endpoint,
			APIKey:   cfg.CrUXKey(),
			Timeout:  cfg.CrUX.Timeout,
		}, logger.Named("crux"))
		if err != nil {
			app.closeAll(ctx)
			return nil, err
		}
		runnerCfg.Enricher = crux.NewEnricher(fetcher, app.store, logger)
	}
	if caps.AIPlans {
		runnerCfg.Planner = remediation.NewPlanner(remediation.PlannerConfig{
			BaseURL:    cfg.AI.Endpoint,
			APIKey:     cfg.AI.APIKey,
			Model:      cfg.AI.Model,
			MaxTokens:  cfg.AI.MaxTokens,
			MaxRetries: 2,
			Timeout:    cfg.AI.Timeout,
		}, app.clock, logger.Named("remediation"))
	}
	app.runner = runner.New(runnerCfg)
	app.processor = jobs.NewProcessor(app.runner, app.store, app.clock, logger)

	if err := app.setupQueue(ctx, baseCtx); err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	var enqueuer monitor.Enqueuer
	if app.provider != nil {
		enqueuer = app.provider
	}
	app.scheduler = scheduler.New(app.store, enqueuer, app.processor, app.clock, logger)

	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := pgstore.NewStore(ctx, pgstore.StoreConfig{
			DSN:             a.cfg.Store.DSN,
			MaxConns:        a.cfg.Store.MaxConns,
			MinConns:        a.cfg.Store.MinConns,
			MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pgStore = pg
		a.store = pg
		a.logger.Info("using postgres store")
	default:
		a.store = memoryStorage.NewStore()
		a.logger.Warn("using in-memory store, data is lost on restart")
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (monitor.BlobStore, error) {
	switch a.caps.Archive {
	case config.ArchiveGCS:
		bs, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: a.cfg.Archive.GCSBucket,
			Prefix: a.cfg.Archive.GCSPrefix,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcsArchive = bs
		a.logger.Info("archiving reports to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return bs, nil
	case config.ArchiveLocal:
		bs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving reports to local disk", zap.String("path", a.cfg.Archive.LocalDir))
		return bs, nil
	case config.ArchiveMemory:
		a.logger.Info("archiving reports in memory")
		return memoryStorage.NewBlobStore(), nil
	}
	a.logger.Info("report archive disabled")
	return nil, nil
}

func (a *App) setupAlerts() (*alerts.Evaluator, error) {
	cfg := alerts.Config{
		Store:  a.store,
		Plans:  a.plans,
		IDs:    a.ids,
		Clock:  a.clock,
		AppURL: a.cfg.Server.AppURL,
		Logger: a.logger,
	}
	if a.caps.Email {
		mailer, err := alerts.NewResendMailer(a.cfg.Email.ResendAPIKey, a.cfg.Email.From)
		if err != nil {
			return nil, fmt.Errorf("resend mailer init failed: %w", err)
		}
		cfg.Mailer = mailer
	} else {
		a.logger.Info("alert emails disabled")
	}
	return alerts.NewEvaluator(cfg), nil
}

func (a *App) setupQueue(ctx, baseCtx context.Context) error {
	switch a.caps.Queue {
	case config.QueueQStash:
		p, err := qstash.New(qstash.Config{
			BaseURL:     a.cfg.Queue.QStash.BaseURL,
			Token:       a.cfg.Queue.QStash.Token,
			Destination: a.cfg.Queue.QStash.Destination,
		})
		if err != nil {
			return fmt.Errorf("qstash publisher init failed: %w", err)
		}
		a.provider = p
		a.logger.Info("publishing jobs to QStash", zap.String("destination", a.cfg.Queue.QStash.Destination))
	case config.QueuePubSub:
		p, err := queuePubSub.New(ctx, a.cfg.Queue.PubSub.ProjectID, a.cfg.Queue.PubSub.TopicID)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.provider = p
		a.logger.Info("publishing jobs to Pub/Sub",
			zap.String("project", a.cfg.Queue.PubSub.ProjectID),
			zap.String("topic", a.cfg.Queue.PubSub.TopicID),
		)
	case config.QueueMemory:
		q := queueMemory.NewQueue(a.cfg.Queue.Memory.Capacity)
		retry := worker.NewExponentialRetryPolicy()
		var workers []*worker.Worker
		for i := 0; i < a.cfg.Queue.Memory.Workers; i++ {
			workers = append(workers, worker.New(q, a.processor, retry, a.logger.With(zap.Int("index", i))))
		}
		a.dispatch = dispatcher.New(q, workers)
		a.provider = a.dispatch
		a.workersDone = make(chan struct{})
		go func() {
			defer close(a.workersDone)
			a.logger.Info("dispatcher started", zap.Int("workers", len(workers)))
			a.dispatch.Run(baseCtx)
		}()
	default:
		a.logger.Info("no queue configured, due projects run inline")
	}
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgStore == nil {
		return errors.New("migrate requires the postgres store driver")
	}
	if err := a.pgStore.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema applied")
	return nil
}

// Dispatch runs one scheduler pass.
func (a *App) Dispatch(ctx context.Context) (scheduler.Result, error) {
	return a.scheduler.Dispatch(ctx)
}

// Audit runs one audit for projectID outside the HTTP surface.
func (a *App) Audit(ctx context.Context, projectID string) (monitor.AuditResult, error) {
	auditID, err := a.runner.Run(ctx, projectID, monitor.TriggerAPI)
	if err != nil {
		return monitor.AuditResult{}, err
	}
	return a.store.GetAudit(ctx, auditID)
}

// Handler builds the HTTP API.
func (a *App) Handler() (http.Handler, error) {
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(a.cfg.Auth.SessionSecret),
		Issuer:        a.cfg.Auth.Issuer,
		CookieName:    a.cfg.Auth.CookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator init failed: %w", err)
	}
	verifier := signing.NewVerifier(a.cfg.Queue.QStash.CurrentSigningKey, a.cfg.Queue.QStash.NextSigningKey, nil)
	if !a.caps.SignedJobs {
		a.logger.Warn("job endpoint accepts unsigned requests")
	}
	if !a.caps.CronProtected {
		a.logger.Warn("cron.secret is empty, /api/cron/dispatch will reject all calls")
	}

	deps := api.Deps{
		Store:      a.store,
		Runner:     a.runner,
		Processor:  a.processor,
		Scheduler:  a.scheduler,
		Sessions:   sessions,
		Verifier:   verifier,
		Plans:      a.plans,
		IDs:        a.ids,
		Clock:      a.clock,
		CronSecret: a.cfg.Cron.Secret,

		RequestTimeout: a.cfg.Server.RequestTimeout,
	}
	if a.cfg.Throttle.PerMinute > 0 {
		deps.Throttle = ratelimit.New(ratelimit.Config{
			PerMinute: a.cfg.Throttle.PerMinute,
			Burst:     a.cfg.Throttle.Burst,
		})
	}
	if a.pgStore != nil {
		deps.Ready = a.pgStore.Ping
	}
	return api.NewServer(deps, a.logger).Handler(), nil
}

// Run serves HTTP and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
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
	return a.Close(shutdownCtx)
}

// Close drains background work and releases clients.
func (a *App) Close(ctx context.Context) error {
	a.closeAll(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeAll(ctx context.Context) {
	a.closeQueue(ctx)
	if a.tasks != nil {
		if err := a.tasks.Close(ctx); err != nil {
			a.logger.Warn("background tasks did not drain", zap.Error(err))
		}
	}
	a.cancel()
	a.closeInfrastructure()
	a.closeObservability(ctx)
}

// closeQueue stops intake and waits for local workers to drain buffered jobs.
func (a *App) closeQueue(ctx context.Context) {
	if a.provider == nil {
		return
	}
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("queue close failed", zap.Error(err))
	}
	if a.workersDone != nil {
		select {
		case <-a.workersDone:
		case <-ctx.Done():
			a.logger.Warn("local workers did not drain before shutdown deadline")
		}
	}
}

func (a *App) closeInfrastructure() {
	if a.gcsArchive != nil {
		if err := a.gcsArchive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
