package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sicet-backend-go/internal/config"
	"sicet-backend-go/internal/db"
	httpapi "sicet-backend-go/internal/http"
	"sicet-backend-go/internal/logging"
	"sicet-backend-go/internal/migrations"
	"sicet-backend-go/internal/services"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, cleanupLogs, err := logging.New(logging.Options{
		Dir:        cfg.LogDir,
		Level:      cfg.LogLevel,
		Production: cfg.IsProduction(),
		Service:    "sicet-backend",
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer cleanupLogs()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal("invalid timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}
	clock := services.NewClock(loc)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer database.Close()
	if err := migrations.Apply(context.Background(), database, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var locker services.Locker = services.NewLocalLocker()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = services.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connect failed", zap.Error(err))
		}
		defer redisClient.Close()
		locker = services.NewRedisLocker(redisClient, logger)
	}

	var mailer services.Mailer = services.LogMailer{Logger: logger.Named("mailer")}
	if cfg.MailAPIURL != "" {
		mailer = services.NewHTTPMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom, logger)
	}

	itemTimeout := time.Duration(cfg.AlertItemTimeout) * time.Second
	alerts := services.NewAlertRepository(database)
	notifier := services.NewKPIAlertNotifier(alerts, mailer, cfg.AlertRecipients, itemTimeout, logger)

	hub := services.NewDashboardHub(logger)
	go hub.Run(ctx)
	go services.PublishDashboard(ctx, database, clock, hub, time.Duration(cfg.DashboardPushSecs)*time.Second, cfg.MetricsDiskPath)

	server := httpapi.NewServer(database, cfg, clock, httpapi.Services{
		Lifecycle: services.NewLifecycle(database, logger, notifier),
		Matrix:    services.NewMatrix(database, clock, logger),
		Overdue: &services.OverdueProcessor{
			Store:       alerts,
			Mailer:      mailer,
			Locker:      locker,
			Clock:       clock,
			Logger:      logger.Named("overdue"),
			Fallback:    cfg.AlertRecipients,
			Workers:     cfg.AlertWorkers,
			ItemTimeout: itemTimeout,
			LockTTL:     10 * time.Minute,
			BaseURL:     cfg.BaseURL,
		},
		Exporter: services.NewExporter(database, clock, cfg.ExportPageSize, logger),
		Mailer:   mailer,
		Hub:      hub,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr), zap.String("timezone", loc.String()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	notifier.Wait()
	logger.Info("shutdown complete")
}
