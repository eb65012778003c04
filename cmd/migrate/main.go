// cmd/migrate/main.go
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/creatorsync/internal/config"
	"github.com/unclebandit/creatorsync/internal/db"
	"github.com/unclebandit/creatorsync/internal/logger"
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Database.URL, db.Options{MaxOpenConns: 1})
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal("apply schema", zap.Error(err))
	}
	log.Info("schema applied")
}
