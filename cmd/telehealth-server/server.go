package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/config"
	"github.com/telehealth/telehealth/internal/domain/directory"
	"github.com/telehealth/telehealth/internal/domain/messaging"
	"github.com/telehealth/telehealth/internal/domain/payment"
	"github.com/telehealth/telehealth/internal/domain/scheduling"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/db"
	"github.com/telehealth/telehealth/internal/platform/events"
	"github.com/telehealth/telehealth/internal/platform/httpx"
	"github.com/telehealth/telehealth/internal/platform/idempotency"
	"github.com/telehealth/telehealth/internal/platform/jobs"
	"github.com/telehealth/telehealth/internal/platform/media"
	"github.com/telehealth/telehealth/internal/platform/middleware"
	"github.com/telehealth/telehealth/internal/platform/notification"
	"github.com/telehealth/telehealth/internal/platform/websocket"
)

const shutdownTimeout = 15 * time.Second

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// openRedis returns nil when no URL is configured; callers fall back to
// in-process stores.
func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// backingStores picks Redis-backed implementations when a client is
// available and in-memory ones otherwise.
type backingStores struct {
	revocations auth.Revoker
	idempotency idempotency.Store
	limiter     middleware.Limiter
	reminders   scheduling.ReminderMarker
	checks      []db.Check
}

func newBackingStores(rdb *redis.Client, cfg *config.Config, rl middleware.RateLimitConfig) backingStores {
	if rdb == nil {
		return backingStores{
			revocations: auth.NewMemoryRevocationStore(),
			idempotency: idempotency.NewMemoryStore(cfg.IdempotencyTTL),
			limiter:     middleware.NewMemoryLimiter(rl),
			reminders:   scheduling.NewMemoryReminderMarker(),
		}
	}
	return backingStores{
		revocations: auth.NewRedisRevocationStore(rdb),
		idempotency: idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL),
		limiter:     middleware.NewRedisLimiter(rdb, rl),
		reminders:   scheduling.NewRedisReminderMarker(rdb),
		checks: []db.Check{{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis
	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, using in-process stores")
	}

	rateLimitCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	stores := newBackingStores(rdb, cfg, rateLimitCfg)

	// Event stream
	pub, err := events.Open(ctx, events.SinkConfig{
		Sink:         cfg.EventsSink,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		SQSQueueURL:  cfg.SQSQueueURL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open event sink")
	}
	emitter := events.NewEmitter(pub, logger)

	txm := db.NewTxManager(pool)
	hub := websocket.NewHub(logger)

	// Directory: accounts, doctors, hospitals
	tokens := auth.NewTokenIssuer(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL).WithRefreshTTL(cfg.JWTRefreshTTL)
	directorySvc := directory.NewService(txm,
		directory.NewUserRepoPG(pool), directory.NewDoctorRepoPG(pool), directory.NewHospitalRepoPG(pool),
		tokens, stores.revocations, logger)

	// Notifications
	channels := []notification.Channel{notification.NewInAppChannel(hub)}
	if cfg.SMTPHost != "" {
		channels = append(channels, notification.NewEmailChannel(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	} else {
		channels = append(channels, notification.NewLogChannel(logger))
	}
	notificationStore := notification.NewPGStore(pool)
	dispatcher := notification.NewDispatcher(notificationStore, directorySvc, notification.NewTemplateEngine(), logger, channels...)

	// Scheduling: slot ledger, workflow engine, session gate
	policy, err := scheduling.NewPolicy(cfg.PolicyInitiateRoles, cfg.PolicyConfirmRoles, cfg.PolicyCancelRoles, cfg.PolicyCompleteRoles)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid appointment policy")
	}
	slots := scheduling.NewSlotRepoPG(pool)
	appts := scheduling.NewAppointmentRepoPG(pool)
	ledger := scheduling.NewLedger(slots, appts, directorySvc, nil)
	engine := scheduling.NewEngine(scheduling.Deps{
		Tx:       txm,
		Ledger:   ledger,
		Appts:    appts,
		Doctors:  directorySvc,
		Policy:   policy,
		Notifier: dispatcher,
		Events:   emitter,
		Logger:   logger,
		Config: scheduling.WorkflowConfig{
			CancellationWindow: cfg.CancellationWindow,
			DefaultDuration:    cfg.DefaultSessionMinutes,
		},
	})
	var provider media.Provider
	if cfg.MediaConfigured() {
		provider = media.NewTokenProvider(cfg.MediaAppID, cfg.MediaAppCertificate)
	} else {
		logger.Warn().Msg("media credentials not set, video and audio sessions are disabled")
	}
	gate := scheduling.NewGate(appts, provider, cfg.MediaTokenTTL, cfg.SessionDuration(), nil)

	// Messaging
	messagingSvc := messaging.NewService(messaging.NewRepoPG(pool), appts, hub, dispatcher, logger)

	// Payments
	var gateway payment.Gateway
	if cfg.PaymentsConfigured() {
		gateway = payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentSecretKey)
	} else {
		logger.Warn().Msg("payment gateway not configured, mobile money charges are disabled")
	}
	paymentSvc := payment.NewService(payment.Deps{
		Payments:     payment.NewRepoPG(pool),
		Gateway:      gateway,
		Appointments: appts,
		Contacts:     directorySvc,
		Notifier:     dispatcher,
		Events:       emitter,
		Logger:       logger,
		WebhookHash:  cfg.PaymentWebhookHash,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpx.NewValidator()
	e.HTTPErrorHandler = httpx.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
		Revoked:    stores.revocations,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/ready", db.ReadinessHandler(pool, append([]db.Check{db.PoolCheck(pool)}, stores.checks...)...))

	api := e.Group("/api", auth.JWTMiddleware(jwtCfg))
	api.Use(middleware.RateLimit(rateLimitCfg, stores.limiter, logger))
	idem := idempotency.Middleware(stores.idempotency, logger)

	directory.NewHandler(directorySvc).RegisterRoutes(api)
	scheduling.NewHandler(ledger, engine, gate).RegisterRoutes(api, idem)
	messaging.NewHandler(messagingSvc).RegisterRoutes(api)
	notification.NewHandler(notificationStore).RegisterRoutes(api)
	payment.NewHandler(paymentSvc).RegisterRoutes(api, idem)

	// Browsers cannot set headers on the upgrade request, so the socket
	// accepts ?token=.
	wsJWT := jwtCfg
	wsJWT.AllowQueryToken = true
	websocket.NewWebSocketHandler(hub, messagingSvc, cfg.CORSOrigins, logger).
		RegisterRoutes(e.Group(""), auth.JWTMiddleware(wsJWT))

	// Background jobs
	scheduler := jobs.NewScheduler(logger)
	if cfg.RemindersEnabled {
		reminder := scheduling.NewReminder(appts, dispatcher, stores.reminders, logger, nil)
		if err := scheduler.Add("appointment-reminders", cfg.ReminderSchedule, reminder.Job); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule reminders")
		}
	}
	scheduler.Start()

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting telehealth server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	scheduler.Stop(shutdownCtx)
	dispatcher.Wait()
	if err := emitter.Close(); err != nil {
		logger.Error().Err(err).Msg("event sink close error")
	}

	logger.Info().Msg("server stopped")
	return nil
}
