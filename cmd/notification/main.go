// 通知サービスのエントリポイント。
// ユーザーごとのWebSocketグループへ通知をリアルタイム配信し、
// 既読状態をREST APIとWebSocketコマンドの両方から更新できるようにする。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dispozen/notification-service/internal/config"
	"github.com/dispozen/notification-service/internal/notification"
	notificationdb "github.com/dispozen/notification-service/internal/notification/db"
	"github.com/dispozen/notification-service/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの実行に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log, closer := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := notificationdb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger.Component(log, "db"))
	if err != nil {
		return fmt.Errorf("データベースの初期化に失敗: %w", err)
	}
	defer db.Close()

	server := notification.NewServer(cfg, db, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error { return server.Audit().Run(gctx) })
	if cfg.StatsSchedule != "" {
		reporter, err := notification.NewStatsReporter(cfg.StatsSchedule, server.Hub(), server.Audit(), logger.Component(log, "stats"))
		if err != nil {
			return err
		}
		g.Go(func() error { return reporter.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("シャットダウンを開始します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("通知サービスが異常終了しました")
		return err
	}
	log.Info().Msg("通知サービスを停止しました")
	return nil
}
