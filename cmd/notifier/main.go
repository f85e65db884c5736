package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/config"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/consumer"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/repository"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/routes"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/services"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/logger"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/middleware"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/retry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.AppName)
	if err := run(cfg, logr); err != nil {
		logr.Error("notifier exited", slog.Any("error", err))
		os.Exit(1)
	}
	logr.Info("notifier stopped")
}

func run(cfg *config.Config, logr *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logr.Info("starting notifier", slog.String("broker", cfg.BrokerType))

	db, err := connectDatabase(ctx, cfg, logr)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store, err := repository.NewTokenStore(db, cfg.TokenTable)
	if err != nil {
		return fmt.Errorf("prepare token table: %w", err)
	}

	metricsCollector := metrics.New()

	var suppressor services.TokenSuppressor
	if cfg.RedisURL != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		redisRepo := repository.NewRedisRepository(rdb, cfg.TokenSuppressTTL)
		defer redisRepo.Close()
		suppressor = redisRepo
	}

	fcm := services.NewFCMProvider(cfg.FCMServerKey, cfg.FCMEndpoint, cfg.SendTimeout, logr)
	push := services.NewPushChannel(fcm, suppressor, metricsCollector, logr)

	var mail services.MailSender
	if cfg.MailEnabled() {
		mail = &services.MailChannel{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.MailFrom,
			To:   cfg.MailTo,
		}
	}

	dispatcher := services.NewDispatcher(
		store,
		services.NewRenderer(time.Now),
		push,
		mail,
		metricsCollector,
		logr,
		services.Timeouts{Store: cfg.StoreTimeout, Send: cfg.SendTimeout},
	)
	handler := consumer.NewEventHandler(dispatcher, metricsCollector, logr)

	events, err := consumer.New(cfg, handler.HandleMessage, logr)
	if err != nil {
		return err
	}
	defer events.Close()

	auth, err := tokenAuth(cfg)
	if err != nil {
		return err
	}
	if auth == nil {
		logr.Warn("JWT_PUBLIC_KEY_FILE not set, token routes are unauthenticated")
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: routes.NewRouter(routes.Options{
			Registrar:    store,
			Metrics:      metricsCollector,
			Logger:       logr,
			Auth:         auth,
			Started:      time.Now(),
			StoreTimeout: cfg.StoreTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return events.Start(gctx)
	})
	g.Go(func() error {
		logr.Info("http server listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logr.Error("failed to shutdown http server", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if waitErr := dispatcher.Wait(drainCtx); waitErr != nil {
		logr.Warn("in-flight sends abandoned", slog.Any("error", waitErr))
	}
	return err
}

func connectDatabase(ctx context.Context, cfg *config.Config, logr *slog.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:    cfg.ConnectMaxAttempts,
		InitialBackoff: cfg.ConnectInitialBackoff,
		MaxBackoff:     cfg.ConnectMaxBackoff,
		OnRetry: func(attempt int, err error, next time.Duration) {
			logr.Warn("database not ready",
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", next),
				slog.Any("error", err),
			)
		},
	}, func(ctx context.Context) error {
		conn, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

func tokenAuth(cfg *config.Config) ([]gin.HandlerFunc, error) {
	if cfg.JWTPublicKeyFile == "" {
		return nil, nil
	}
	key, err := middleware.LoadPublicKey(cfg.JWTPublicKeyFile)
	if err != nil {
		return nil, err
	}
	auth := []gin.HandlerFunc{middleware.JWTAuth(key)}
	if cfg.JWTRequiredRole != "" {
		auth = append(auth, middleware.HasRole(cfg.JWTRequiredRole))
	}
	return auth, nil
}
