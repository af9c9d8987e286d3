// @title        Airside Operation Center API
// @version      1.0
// @description  Security operations backbone: event log, incident lifecycle, ticketing, and live push.
// @host         localhost:8080
// @BasePath     /
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/config"
	"github.com/iabozaid/airside-operation-center/internal/consumer"
	"github.com/iabozaid/airside-operation-center/internal/eventbus"
	"github.com/iabozaid/airside-operation-center/internal/fleetsink"
	"github.com/iabozaid/airside-operation-center/internal/handler"
	"github.com/iabozaid/airside-operation-center/internal/repository"
	"github.com/iabozaid/airside-operation-center/internal/service"
	"github.com/iabozaid/airside-operation-center/internal/telemetry"
)

const serviceName = "airside-operation-center"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx := context.Background()

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	if cfg.OTELEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, serviceName, cfg.OTELEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTELEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(ctx, serviceName, cfg.OTELEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Database ───────────────────────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.DemoMode {
		logger.Warn("DEMO_MODE: database disabled, incident and ticket routes not mounted")
	} else {
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to parse DATABASE_URL", zap.Error(err))
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("connected to database (OTel-instrumented)")

		if cfg.AutoMigrate {
			if err := applyMigrations(ctx, pool); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
			logger.Info("schema migrations applied")
		}
	}

	// ── Event bus ──────────────────────────────────────────────────────────
	bus, err := eventbus.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("event bus initialization failed", zap.Error(err))
	}
	defer bus.Close()

	// ── Fleet telemetry sink ───────────────────────────────────────────────
	var fleet fleetsink.Sink
	if cfg.NATSURL != "" {
		natsSink, err := fleetsink.NewNATSSink(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("NATS initialization failed", zap.Error(err))
		}
		defer natsSink.Close()
		fleet = natsSink
	} else {
		fleet = fleetsink.NewLogSink(logger)
	}

	// ── Services & consumers ───────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.RegisterRoutes(e, bus, logger)

	var manager *consumer.Manager
	if pool != nil {
		incidentRepo := repository.NewIncidentRepo(pool)
		ticketRepo := repository.NewTicketRepo(pool)
		socSvc := service.NewSocService(incidentRepo, bus, logger)
		ticketSvc := service.NewTicketService(ticketRepo, bus, logger)
		handler.RegisterDomainRoutes(e, socSvc, ticketSvc, logger)

		dispatcher := consumer.NewDispatcher(incidentRepo, fleet, logger)
		manager = consumer.NewManager(bus, dispatcher, logger)
		manager.Start(ctx)
	}

	// ── HTTP server ────────────────────────────────────────────────────────
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	if manager != nil {
		manager.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	schema, err := os.ReadFile("migrations/schema.sql")
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(schema))
	return err
}
