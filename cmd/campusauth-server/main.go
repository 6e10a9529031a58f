// Command campusauth-server runs the campus authentication API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth"
	"github.com/MrEthical07/campusauth/httpapi"
	promexport "github.com/MrEthical07/campusauth/metrics/export/prometheus"
	"github.com/MrEthical07/campusauth/middleware"
	"github.com/MrEthical07/campusauth/pgstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("CAMPUSAUTH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *appConfig, logger *zap.Logger) error {
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	db, err := pgstore.Open(ctx, cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if cfg.Database.Migrate {
		if err := pgstore.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrated")
	}

	sessions := pgstore.NewSessionStore(db)
	engine, err := campusauth.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithPages(cfg.Pages).
		WithRoles(cfg.Roles).
		WithUserStore(pgstore.NewUserStore(db)).
		WithSessionStore(sessions).
		WithAuditStore(pgstore.NewAuditStore(db)).
		WithNotifier(&logNotifier{logger: logger.Named("notify"), showCodes: !cfg.Auth.Security.ProductionMode}).
		WithLogger(logger.Named("auth")).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		zap.Bool("production", report.ProductionMode),
		zap.String("signing", report.SigningAlgorithm),
		zap.Bool("strict_validation", report.StrictValidation),
		zap.Bool("federated", report.FederatedEnabled),
		zap.Int("pages", report.RegisteredPages),
	)

	metrics, err := promexport.Handler(engine)
	if err != nil {
		return fmt.Errorf("metrics handler: %w", err)
	}

	throttler := middleware.NewThrottler(cfg.Throttle)
	go sweep(ctx, throttler, cfg.Server.SweepInterval)
	go purge(ctx, sessions, cfg.Database.PurgeInterval, cfg.Database.PurgeRetention, logger.Named("purge"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.Named("http")))
	e.Use(echomw.BodyLimit(cfg.Server.BodyLimit))

	httpapi.NewHandler(engine, cfg.Cookie, logger.Named("http")).
		Register(e, cfg.Server.BasePath, metrics, throttler.Middleware())

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweep(ctx context.Context, t *middleware.Throttler, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
