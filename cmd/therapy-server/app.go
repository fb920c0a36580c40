package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/therapyconnect/api/internal/config"
	"github.com/therapyconnect/api/internal/domain/identity"
	"github.com/therapyconnect/api/internal/domain/panel"
	"github.com/therapyconnect/api/internal/domain/scheduling"
	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/clock"
	"github.com/therapyconnect/api/internal/platform/db"
	"github.com/therapyconnect/api/internal/platform/meeting"
	"github.com/therapyconnect/api/internal/platform/metrics"
	"github.com/therapyconnect/api/internal/platform/middleware"
	"github.com/therapyconnect/api/internal/platform/notification"
	"github.com/therapyconnect/api/migrations"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// newSender delivers through SMTP when a host is configured and logs
// otherwise.
func newSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.SMTPHost == "" {
		return notification.LogSender{Logger: logger}
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func policyFrom(cfg *config.Config) scheduling.Policy {
	return scheduling.Policy{
		LeadTime:        cfg.BookingLeadTime,
		RescheduleLimit: cfg.RescheduleLimit,
		SweepGrace:      cfg.SweepGrace,
	}
}

// app holds the wired services of one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool       *pgxpool.Pool
	migrator   *db.Migrator
	metrics    *metrics.Metrics
	dispatcher *notification.Dispatcher

	identity   *identity.Service
	panels     *panel.Service
	scheduling *scheduling.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a, err := wire(cfg, logger, pool, metrics.New())
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// wire builds the services on top of pool. Nothing here touches the database.
func wire(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, m *metrics.Metrics) (*app, error) {
	rooms, err := meeting.NewRoomGenerator(cfg.MeetingBaseURL)
	if err != nil {
		return nil, err
	}

	dispatcher := notification.NewDispatcher(newSender(cfg, logger), notification.NewTemplateEngine(), logger,
		notification.DispatcherConfig{})
	tx := db.NewPoolTx(pool)
	tokens := auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.JWTTTL)

	identitySvc := identity.NewService(
		identity.NewUserRepoPG(pool),
		identity.NewProfileRepoPG(pool),
		identity.NewIssueRepoPG(pool),
		tx, tokens, dispatcher, logger,
	)

	panelRepo := panel.NewRepoPG(pool)
	schedulingSvc := scheduling.NewService(scheduling.Deps{
		Slots:        scheduling.NewAvailabilityRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		Panels:       panelRepo,
		Tx:           tx,
		Clock:        clock.System{},
		Links:        meeting.WithTimeout(rooms, cfg.MeetingTimeout),
		Notifier:     dispatcher,
		Metrics:      m,
		Logger:       logger,
	}, policyFrom(cfg))
	panelSvc := panel.NewService(panelRepo, identitySvc, schedulingSvc, tx, clock.System{}, dispatcher, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		migrator:   db.NewMigrator(pool, migrations.FS),
		metrics:    m,
		dispatcher: dispatcher,
		identity:   identitySvc,
		panels:     panelSvc,
		scheduling: schedulingSvc,
	}, nil
}

// Close drains queued notifications and releases the pool.
func (a *app) Close() {
	a.dispatcher.Close()
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) router() *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)
	e.Validator = apperr.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(a.metrics))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.SigningKey(),
		Skipper:    auth.AuthSkipper,
	}))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	var stats func() *db.PoolStats
	if a.pool != nil {
		stats = func() *db.PoolStats { return db.GetPoolStats(a.pool) }
	}
	e.GET("/health/db", db.HealthHandler(a.pool, a.migrator, stats))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(a.identity).RegisterRoutes(apiV1)
	panel.NewHandler(a.panels).RegisterRoutes(apiV1)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)

	return e
}
