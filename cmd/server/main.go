// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/creatorsync/internal/collector"
	"github.com/unclebandit/creatorsync/internal/config"
	"github.com/unclebandit/creatorsync/internal/controller"
	"github.com/unclebandit/creatorsync/internal/db"
	"github.com/unclebandit/creatorsync/internal/handler"
	"github.com/unclebandit/creatorsync/internal/logger"
	"github.com/unclebandit/creatorsync/internal/metrics"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/repository"
	"github.com/unclebandit/creatorsync/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("load config", zap.Error(err))
	}
	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database.URL, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer conn.Close()

	broker, err := queue.Open(cfg.Broker.URL, cfg.Broker.MessageTTL)
	if err != nil {
		log.Fatal("connect broker", zap.Error(err))
	}
	defer broker.Close()

	metrics.Init()

	recordRepo := &repository.DeliveryRecordRepository{DB: conn}
	profileRepo := &repository.ProfileRepository{DB: conn}

	syncService := service.NewSyncService(
		profileRepo,
		collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.APIKey, cfg.Collector.Timeout),
		broker,
		log.Named("sync"),
		service.SyncOptions{
			RefreshThreshold:  cfg.Sync.RefreshThreshold,
			ScrapeMaxAttempts: cfg.Sync.ScrapeMaxAttempts,
		},
	)

	notificationController := &controller.NotificationController{
		Notifications: &service.NotificationService{Broker: broker, Logger: log.Named("enqueue")},
		Profiles:      syncService,
		Scheduler:     service.NewScheduler(profileRepo, syncService, log.Named("sweep")),
		Logger:        log,
	}
	webhookHandler := &handler.WebhookHandler{
		Reconciler: service.NewReconciler(recordRepo, log.Named("reconciler")),
		Secret:     cfg.Webhook.Secret,
		Logger:     log.Named("webhook"),
	}
	throttle := handler.NewThrottle("provider", rate.Limit(cfg.Webhook.Rate), cfg.Webhook.Burst)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/health", metrics.Health)
	r.Handle("/metrics", metrics.Handler())
	notificationController.Routes(r)
	webhookHandler.Routes(r, throttle.Middleware)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
