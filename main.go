package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"democamera/internal/app"
	"democamera/internal/config"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ログとトレースを初期化
	shutdown, err := app.Setup(ctx, cfg)
	if err != nil {
		logrus.Fatalf("初期化に失敗しました: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logrus.WithError(err).Warn("トレースの停止に失敗しました")
		}
	}()

	// サーバーを起動
	if err := app.RunServer(ctx, cfg); err != nil {
		logrus.Errorf("サーバーの起動に失敗しました: %v", err)
		stop()
		os.Exit(1)
	}
}
