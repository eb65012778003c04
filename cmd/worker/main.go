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

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/creatorsync/internal/config"
	"github.com/unclebandit/creatorsync/internal/db"
	"github.com/unclebandit/creatorsync/internal/logger"
	"github.com/unclebandit/creatorsync/internal/metrics"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/ratelimit"
	"github.com/unclebandit/creatorsync/internal/repository"
	"github.com/unclebandit/creatorsync/internal/service"
	"github.com/unclebandit/creatorsync/internal/transport"
	"github.com/unclebandit/creatorsync/internal/transport/chat"
	"github.com/unclebandit/creatorsync/internal/transport/mail"
	"github.com/unclebandit/creatorsync/internal/transport/sms"
)

func main() {
	channel := flag.String("channel", "mail", "channel to deliver: mail, chat or sms")
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

	sender, err := newSender(model.Channel(*channel), cfg)
	if err != nil {
		log.Fatal("build transport", zap.Error(err))
	}

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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	admission := &service.Admission{
		Limiter:           ratelimit.NewRedisSlidingWindowLimiter(rdb, cfg.Admission.RateLimitWindow, cfg.Admission.RateLimitMax),
		Credits:           &repository.CreditRepository{DB: conn},
		SecurityTemplates: cfg.Admission.SecurityTemplateSet(),
		RateLimitMax:      cfg.Admission.RateLimitMax,
		RateLimitWindow:   cfg.Admission.RateLimitWindow,
		DefaultCreditCost: cfg.Admission.DefaultCreditCost,
	}

	worker, err := service.NewDeliveryWorker(
		model.Channel(*channel),
		broker,
		&repository.DeliveryRecordRepository{DB: conn},
		admission,
		sender,
		log.Named("worker"),
		service.WorkerOptions{
			MaxRetries:      cfg.Worker.MaxRetries,
			BackoffInitial:  cfg.Worker.BackoffInitial,
			BackoffMax:      cfg.Worker.BackoffMax,
			IdleInterval:    cfg.Worker.IdleInterval,
			DefaultLanguage: cfg.Chat.DefaultLanguage,
		},
	)
	if err != nil {
		log.Fatal("build worker", zap.Error(err))
	}

	metrics.Init()
	r := chi.NewRouter()
	r.Get("/health", metrics.Health)
	r.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return metricsSrv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
	log.Info("worker exited")
}

func newSender(channel model.Channel, cfg *config.Config) (transport.Sender, error) {
	switch channel {
	case model.ChannelMail:
		if cfg.Mail.Provider == "sendgrid" {
			return mail.NewSendGridSender(cfg.Mail.SendGridKey, cfg.Mail.SendGridURL, cfg.Mail.FromName, cfg.Mail.From, cfg.Mail.Timeout), nil
		}
		return &mail.SMTPSender{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
		}, nil
	case model.ChannelChat:
		return chat.NewSender(cfg.Chat.Provider, cfg.Chat.BaseURL, cfg.Chat.PhoneNumberID, cfg.Chat.AccessToken, cfg.Chat.Timeout), nil
	case model.ChannelSMS:
		return sms.NewTwilioSender(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber, cfg.SMS.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
}
