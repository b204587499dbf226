// Package main はdemocameraサーバーコマンドの実装です
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"democamera/internal/app"
	"democamera/internal/config"
)

func main() {
	// コマンドラインオプション
	var (
		host     = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port     = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		mediaDir = flag.String("media-dir", "", "メディアディレクトリ (デフォルト: data/DCIM/Camera app)")
		output   = flag.String("merge", "", "指定したファイルに引数の動画を結合して終了する")
		help     = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("democamera")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println("  server -merge out.mp4 in1.mp4 in2.mp4 ...")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *mediaDir != "" {
		cfg.Storage.MediaDir = *mediaDir
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("設定が不正です: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := app.Setup(ctx, cfg)
	if err != nil {
		logrus.Fatalf("初期化に失敗しました: %v", err)
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	if *output != "" {
		code := runMerge(ctx, cfg, *output, flag.Args())
		_ = shutdown(context.Background())
		stop()
		os.Exit(code)
	}

	// サーバーを起動
	if err := app.RunServer(ctx, cfg); err != nil {
		logrus.Errorf("サーバーの起動に失敗しました: %v", err)
		stop()
		os.Exit(1)
	}
}

// runMerge は動画を結合して結果を標準出力に書き出す
func runMerge(ctx context.Context, cfg *config.Config, output string, inputs []string) int {
	result, err := app.MergeFiles(ctx, cfg, output, inputs...)
	if err != nil {
		logrus.WithError(err).Error("動画の結合に失敗しました")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logrus.WithError(err).Error("結果の出力に失敗しました")
		return 1
	}
	return 0
}
