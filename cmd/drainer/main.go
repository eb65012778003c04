package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/creatorsync/internal/collector"
	"github.com/unclebandit/creatorsync/internal/config"
	"github.com/unclebandit/creatorsync/internal/db"
	"github.com/unclebandit/creatorsync/internal/logger"
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

	syncService := service.NewSyncService(
		&repository.ProfileRepository{DB: conn},
		collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.APIKey, cfg.Collector.Timeout),
		broker,
		log.Named("drainer"),
		service.SyncOptions{
			RefreshThreshold:  cfg.Sync.RefreshThreshold,
			ScrapeMaxAttempts: cfg.Sync.ScrapeMaxAttempts,
			IdleInterval:      cfg.Sync.IdleInterval,
		},
	)

	if err := syncService.RunDrainer(ctx, cfg.Sync.DrainBatch); err != nil {
		log.Fatal("drainer stopped", zap.Error(err))
	}
}
