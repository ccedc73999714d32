package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/semmidev/keepsake/internal/adapter/compressor"
	"github.com/semmidev/keepsake/internal/adapter/executor"
	"github.com/semmidev/keepsake/internal/adapter/notify"
	"github.com/semmidev/keepsake/internal/adapter/postgres"
	"github.com/semmidev/keepsake/internal/adapter/storage"
	"github.com/semmidev/keepsake/internal/config"
	"github.com/semmidev/keepsake/internal/domain"
	"github.com/semmidev/keepsake/internal/infrastructure/logger"
	"github.com/semmidev/keepsake/internal/infrastructure/metrics"
	"github.com/semmidev/keepsake/internal/infrastructure/scheduler"
	"github.com/semmidev/keepsake/internal/usecase"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	pool          *pgxpool.Pool
	cron          *scheduler.Scheduler
	scheduler     *usecase.Scheduler
	recovery      *usecase.Recovery
	admin         *usecase.Admin
	metricsServer *http.Server
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.App)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(ctx, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Infof("✓ Database schema up to date")
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := postgres.NewResourceStore(pool)
	policies := postgres.NewPolicyStore(pool)
	ledger := postgres.NewLedger(pool)
	rollbacks := postgres.NewRollbackStore(pool)
	locker := postgres.NewAdvisoryLocker(pool)

	clk := clock.WallClock
	seeded, err := seedResources(ctx, cfg.Resources, clk.Now(), registry, policies)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to seed resources: %w", err)
	}
	log.Infof("Found %d resource(s) configured", seeded)

	sink, err := newStorage(ctx, &cfg.Storage)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Type, err)
	}
	log.Infof("✓ Artifact storage: %s", cfg.Storage.Type)

	executors, err := newExecutors(&cfg.Executors, sink, clk)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize executors: %w", err)
	}

	var notifier domain.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(&cfg.Notify.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize Telegram: %v", err)
		} else {
			notifier = tg
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterPgxPoolMetrics(reg, pool)
	recorder := metrics.NewRecorder(reg)

	retention := usecase.NewRetention(policies, ledger, rollbacks, sink, log.Named("retention"), recorder)
	sched := usecase.NewScheduler(usecase.SchedulerDeps{
		Registry:  registry,
		Policies:  policies,
		Ledger:    ledger,
		Executors: executors,
		Retention: retention,
		Locker:    locker,
		Clock:     clk,
		Logger:    log.Named("scheduler"),
		Notifier:  notifier,
		Metrics:   recorder,
	})
	rollback := usecase.NewRollback(usecase.RollbackDeps{
		Registry:  registry,
		Ledger:    ledger,
		Rollbacks: rollbacks,
		Executors: executors,
		Locks:     sched.Locks(),
		Locker:    locker,
		Clock:     clk,
		Logger:    log.Named("rollback"),
		Notifier:  notifier,
		Metrics:   recorder,
	})

	app := &App{
		config:    cfg,
		logger:    log,
		pool:      pool,
		cron:      scheduler.New(clk, log.Named("cron")),
		scheduler: sched,
		recovery:  usecase.NewRecovery(ledger, clk, log.Named("recovery")),
		admin:     usecase.NewAdmin(sched, rollback, registry, policies, ledger, rollbacks),
	}
	if cfg.Metrics.Addr != "" {
		app.metricsServer = metrics.NewServer(cfg.Metrics.Addr, reg)
	}
	return app, nil
}

func newStorage(ctx context.Context, cfg *config.StorageConfig) (domain.Storage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocal(cfg.Path)
	case "s3":
		return storage.NewS3(ctx, cfg)
	case "r2":
		return storage.NewR2(cfg)
	case "gdrive":
		return storage.NewGDrive(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

func newExecutors(cfg *config.ExecutorsConfig, sink domain.Storage, clk clock.Clock) (*usecase.Executors, error) {
	gz := compressor.NewGzip(cfg.GzipLevel)

	opts := executor.PipelineOptions{
		WorkDir:    cfg.WorkDir,
		Storage:    sink,
		Compressor: gz,
		Compress:   cfg.Compress,
		Timeout:    cfg.Timeout,
		Clock:      clk,
	}
	pipeline, err := executor.NewPipeline(opts)
	if err != nil {
		return nil, err
	}

	runner := executor.NewExecRunner()
	executors := usecase.NewExecutors()
	executors.Register(domain.KindContainer, executor.ToolVolumeTar,
		executor.NewContainer(runner, pipeline, cfg.DockerBinary, cfg.HelperImage))
	executors.Register(domain.KindDatabase, executor.ToolPgDump, executor.NewPostgres(runner, pipeline))
	executors.Register(domain.KindDatabase, executor.ToolMySQLDump, executor.NewMySQL(runner, pipeline))
	executors.Register(domain.KindDatabase, executor.ToolMongoDump, executor.NewMongo(runner, pipeline))
	executors.Register(domain.KindApp, executor.ToolArchive, executor.NewApp(pipeline, gz))
	return executors, nil
}

// Admin exposes the operator surface.
func (a *App) Admin() *usecase.Admin {
	return a.admin
}

// Wait blocks until dispatched backups have finished.
func (a *App) Wait() {
	a.scheduler.Wait()
}

func (a *App) Run(ctx context.Context) error {
	recovered, err := a.recovery.Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted backups: %w", err)
	}
	if recovered > 0 {
		a.logger.Infof("Recovered %d interrupted backup(s)", recovered)
	}

	if err := a.cron.AddJob("tick", a.config.Scheduler.Tick, a.tick); err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}

	if a.metricsServer != nil {
		go func() {
			a.logger.Infof("Metrics listening on %s", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
	}

	a.cron.Start()
	a.logger.Infof("Scheduler started (tick: %s)", a.config.Scheduler.Tick)

	<-ctx.Done()
	return nil
}

func (a *App) tick(ctx context.Context, now time.Time) error {
	res, err := a.scheduler.Tick(ctx, now)
	if err != nil {
		return err
	}
	if len(res.Dispatched) > 0 || len(res.Errored) > 0 {
		a.logger.Infof("Tick at %s: dispatched=%v busy=%v errored=%v",
			now.Format(time.RFC3339), res.Dispatched, res.Busy, res.Errored)
	}
	return nil
}

// Shutdown stops ticking, waits for in-flight backups and releases
// resources.
func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.cron.Stop()
	a.scheduler.Wait()

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(ctx)
	}

	a.pool.Close()
	a.logger.Close()
}
