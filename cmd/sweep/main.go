package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
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
	every := flag.Duration("every", 0, "repeat the sweep at this interval; 0 runs once")
	flag.Parse()

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

	profiles := &repository.ProfileRepository{DB: conn}
	syncService := service.NewSyncService(
		profiles,
		collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.APIKey, cfg.Collector.Timeout),
		broker,
		log.Named("sync"),
		service.SyncOptions{
			RefreshThreshold:  cfg.Sync.RefreshThreshold,
			ScrapeMaxAttempts: cfg.Sync.ScrapeMaxAttempts,
		},
	)
	scheduler := service.NewScheduler(profiles, syncService, log.Named("sweep"))

	run := func() {
		sum, err := scheduler.Sweep(ctx)
		if err != nil {
			log.Error("sweep failed", zap.Error(err))
			return
		}
		log.Info("sweep summary",
			zap.Int("total_needing_sync", sum.TotalNeedingSync),
			zap.Int("queued", sum.Queued),
			zap.Strings("errors", sum.Errors))
	}

	if *every <= 0 {
		run()
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+every.String(), run); err != nil {
		log.Fatal("schedule sweep", zap.Error(err))
	}
	log.Info("sweep scheduled", zap.Duration("every", *every))
	run()
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		log.Warn("sweep still running at shutdown")
	}
}
