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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shikaclinic/clinic/internal/config"
	"github.com/shikaclinic/clinic/internal/domain/booking"
	"github.com/shikaclinic/clinic/internal/domain/checkin"
	"github.com/shikaclinic/clinic/internal/domain/identity"
	"github.com/shikaclinic/clinic/internal/domain/insurance"
	"github.com/shikaclinic/clinic/internal/domain/intake"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/platform/auth"
	"github.com/shikaclinic/clinic/internal/platform/blobstore"
	"github.com/shikaclinic/clinic/internal/platform/db"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
	"github.com/shikaclinic/clinic/internal/platform/middleware"
	"github.com/shikaclinic/clinic/internal/platform/ocr"
	"github.com/shikaclinic/clinic/internal/platform/slothold"
)

const version = "0.1.0"

func businessHours(cfg *config.Config) scheduling.BusinessHours {
	closed := make([]time.Weekday, 0, len(cfg.ClosedWeekdays))
	for _, d := range cfg.ClosedWeekdays {
		closed = append(closed, time.Weekday(d))
	}
	return scheduling.BusinessHours{
		OpenHour:            cfg.ClinicOpenHour,
		CloseHour:           cfg.ClinicCloseHour,
		SlotIntervalMinutes: cfg.SlotIntervalMinutes,
		ClosedWeekdays:      closed,
		Location:            cfg.Location(),
	}
}

func newSchedulingService(cfg *config.Config, pool *pgxpool.Pool, m *metrics.ClinicMetrics, logger zerolog.Logger) *scheduling.Service {
	return scheduling.NewService(
		scheduling.NewReservationRepoPG(pool),
		scheduling.NewUnitRepoPG(pool),
		scheduling.NewWaitingListRepoPG(pool),
		scheduling.NewTxRunner(pool),
		businessHours(cfg), cfg.OccupancyPolicy, m, logger,
	)
}

// newSlotHolder connects to Redis when configured. Without Redis the
// database conflict check is the only guard against double booking.
func newSlotHolder(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (slothold.Holder, func()) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set; slot holds disabled")
		return slothold.Nop{}, func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid REDIS_URL; slot holds disabled")
		return slothold.Nop{}, func() {}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup; holds fail open until it recovers")
	}
	return slothold.NewRedisHolder(client, cfg.SlotHoldTTL), func() { _ = client.Close() }
}

func newCardStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.Store, error) {
	if cfg.InsuranceCardBucket == "" {
		logger.Warn().Msg("INSURANCE_CARD_BUCKET not set; card images are kept in memory")
		return blobstore.NewMemoryStore(), nil
	}
	client, err := blobstore.NewS3Client(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return blobstore.NewS3Store(client, cfg.InsuranceCardBucket), nil
}

// handlers groups everything the router mounts.
type handlers struct {
	scheduling *scheduling.Handler
	identity   *identity.Handler
	booking    *booking.Handler
	checkin    *checkin.Handler
	insurance  *insurance.Handler
	intake     *intake.Handler
}

func newRouter(cfg *config.Config, logger zerolog.Logger, h handlers, pinger db.Pinger, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(gatherer)))

	// Staff API.
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		authMW = auth.JWTMiddleware(jwtCfg)
	}
	api := e.Group("/api/v1", authMW)

	// Patient-facing pages; no login, rate limited per client.
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	public := e.Group("/api/v1/public", middleware.RateLimit(rl))

	h.scheduling.RegisterRoutes(api)
	h.identity.RegisterRoutes(api)
	h.insurance.RegisterRoutes(api)
	h.booking.RegisterRoutes(public)
	h.checkin.RegisterRoutes(public)
	h.intake.RegisterRoutes(public, api)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.ClinicTimezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewClinicMetrics(reg)

	holds, closeHolds := newSlotHolder(ctx, cfg, logger)
	defer closeHolds()

	cards, err := newCardStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up card image storage")
	}

	var extractor ocr.Extractor
	if cfg.GeminiAPIKey != "" {
		gemini, err := ocr.NewGeminiExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create gemini client")
		}
		defer gemini.Close()
		extractor = gemini
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set; insurance cards are stored without OCR")
	}

	schedSvc := newSchedulingService(cfg, pool, m, logger)
	identitySvc := identity.NewService(identity.NewPatientRepoPG(pool))
	insuranceSvc := insurance.NewService(insurance.NewRepoPG(pool), cards, extractor, m, logger)

	e := newRouter(cfg, logger, handlers{
		scheduling: scheduling.NewHandler(schedSvc),
		identity:   identity.NewHandler(identitySvc),
		booking:    booking.NewHandler(booking.NewService(schedSvc, identitySvc, holds, m, logger)),
		checkin:    checkin.NewHandler(checkin.NewService(schedSvc, insuranceSvc, m, logger)),
		insurance:  insurance.NewHandler(insuranceSvc),
		intake:     intake.NewHandler(intake.NewService(intake.NewRepoPG(pool), schedSvc, scheduling.NewTxRunner(pool), logger)),
	}, pool, reg)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
