package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/auth"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/browser"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/captcha"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/config"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/download"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/infra/postgresql"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/infra/postgresql/migrations"
	infraredis "github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/infra/redis"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/pipeline"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/queue"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/recovery"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/scheduler"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/worker"
)

// app wires the acquisition pipeline together: storage, broker, browser
// automation, download strategies, and the services built on top of them.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	sqlDB    *sql.DB
	rdb      *goredis.Client
	rabbit   *queue.RabbitMQ
	browsers *browser.Pool

	notifications repository.NotificationRepository
	tasks         repository.TaskRepository

	processor  *pipeline.Processor
	schedules  *scheduler.Service
	recoverer  *recovery.Service
	workers    *worker.Pool
	dispatcher *worker.Dispatcher
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	taskRepo := repository.NewGormTaskRepo(db)
	caseRepo := repository.NewGormCaseRepo(db)
	credentialRepo := repository.NewGormCredentialRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	scheduleRepo := repository.NewGormScheduleRepo(db)

	metrics := observability.NewMetrics()

	browsers := browser.NewPool(browser.Config{
		DebuggerURL: cfg.BrowserDebuggerURL,
		Headless:    cfg.BrowserHeadless,
	}, logger)

	tokenTTL := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	loginDriver, err := browser.NewLoginDriver(browsers, []browser.Portal{{
		Site:     cfg.PortalSite,
		LoginURL: cfg.PortalLoginURL,
		TokenTTL: tokenTTL,
	}}, logger)
	if err != nil {
		return nil, fmt.Errorf("login driver init failed: %w", err)
	}

	tokenCache, err := infraredis.NewRedisTokenCache(rdb)
	if err != nil {
		return nil, fmt.Errorf("token cache init failed: %w", err)
	}

	authService, err := auth.NewService(
		tokenCache,
		loginDriver,
		captcha.NewOCRSolver(cfg.CaptchaOCRURL, logger),
		credentialRepo,
		attemptRepo,
		auth.Config{
			MaxCaptchaRetries: cfg.MaxCaptchaRetries,
			MaxLoginRetries:   cfg.MaxLoginRetries,
			DefaultTokenTTL:   tokenTTL,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("auth service init failed: %w", err)
	}
	authService.SetMetrics(metrics)

	store, err := download.NewFileStore(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("file store init failed: %w", err)
	}
	httpClient := resty.New().SetTimeout(60 * time.Second)
	fetcher, err := download.NewFetcher(httpClient, store, logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}

	gateway, err := browser.NewGateway(browsers, logger)
	if err != nil {
		return nil, fmt.Errorf("browser gateway init failed: %w", err)
	}

	direct, err := download.NewDirectAPIStrategy(httpClient, authService, fetcher, cfg.ListingAPIURL)
	if err != nil {
		return nil, fmt.Errorf("direct strategy init failed: %w", err)
	}
	intercept, err := download.NewInterceptStrategy(gateway, authService, fetcher, cfg.ListingAPISubstr, 0)
	if err != nil {
		return nil, fmt.Errorf("intercept strategy init failed: %w", err)
	}
	uiFallback, err := download.NewUIStrategy(gateway, store)
	if err != nil {
		return nil, fmt.Errorf("ui strategy init failed: %w", err)
	}

	strategist, err := download.NewStrategist(
		[]download.Strategy{direct, intercept, uiFallback},
		taskRepo,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("strategist init failed: %w", err)
	}
	strategist.SetMetrics(metrics)

	filer, err := pipeline.NewCaseFiler(cfg.CaseFileDir, logger)
	if err != nil {
		return nil, fmt.Errorf("case filer init failed: %w", err)
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)

	processor, err := pipeline.NewProcessor(
		notificationRepo,
		taskRepo,
		caseRepo,
		strategist,
		filer,
		publisher,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("processor init failed: %w", err)
	}
	processor.SetMetrics(metrics)

	scheduleService, err := scheduler.NewService(scheduleRepo, credentialRepo, notificationRepo, processor, logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	recoverer, err := recovery.NewService(notificationRepo, processor, logger)
	if err != nil {
		return nil, fmt.Errorf("recovery service init failed: %w", err)
	}

	workers, err := worker.NewPool(processor, cfg.WorkerConcurrency, logger)
	if err != nil {
		return nil, fmt.Errorf("worker pool init failed: %w", err)
	}
	workers.SetMetrics(metrics)

	dispatcher, err := worker.NewDispatcher(cfg.WorkerConcurrency, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	return &app{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		sqlDB:         sqlDB,
		rdb:           rdb,
		rabbit:        rabbit,
		browsers:      browsers,
		notifications: notificationRepo,
		tasks:         taskRepo,
		processor:     processor,
		schedules:     scheduleService,
		recoverer:     recoverer,
		workers:       workers,
		dispatcher:    dispatcher,
	}, nil
}

func (a *app) Close() {
	a.dispatcher.Close()
	if err := a.browsers.Close(); err != nil {
		a.logger.Warn("browser shutdown failed", zap.Error(err))
	}
	if err := a.rabbit.Close(); err != nil {
		a.logger.Warn("rabbitmq shutdown failed", zap.Error(err))
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("redis shutdown failed", zap.Error(err))
	}
	if err := a.sqlDB.Close(); err != nil {
		a.logger.Warn("postgres shutdown failed", zap.Error(err))
	}
}
