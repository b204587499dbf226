// Package app は設定からサービスを組み立てて起動する
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"democamera/internal/camera"
	"democamera/internal/config"
	"democamera/internal/gallery"
	"democamera/internal/logging"
	"democamera/internal/media/mp4"
	"democamera/internal/mediaindex"
	"democamera/internal/merge"
	"democamera/internal/recording"
	"democamera/internal/server"
	"democamera/internal/telemetry"
)

// Setup はログとトレースを初期化する
// 戻り値の shutdown は呼び出し側で defer すること
func Setup(ctx context.Context, cfg *config.Config) (telemetry.ShutdownFunc, error) {
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}
	return telemetry.Setup(ctx, telemetry.Settings{
		Enabled:     cfg.Telemetry.Endpoint != "",
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
}

// NewMerger は設定に従ったMergerを作成する
func NewMerger(cfg *config.Config) *merge.Merger {
	return merge.NewMerger(mp4.Container{}, merge.Options{
		KeepInputs: !cfg.Recording.DeleteSegments,
	})
}

// RunServer はサービスを組み立ててHTTPサーバーを起動する
// ctx がキャンセルされるかシグナルを受信するまで戻らない
func RunServer(ctx context.Context, cfg *config.Config) error {
	g := gallery.New(cfg.Storage.MediaDir)
	if err := g.EnsureDir(); err != nil {
		return err
	}

	index, err := mediaindex.Open(cfg.Storage.IndexPath)
	if err != nil {
		return fmt.Errorf("メディアインデックスを開けません: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logrus.WithError(err).Warn("メディアインデックスのクローズに失敗しました")
		}
	}()

	controller := camera.NewDefaultController(cfg.CameraSettings())
	merger := NewMerger(cfg)

	srv := server.New(cfg, server.Dependencies{
		Gallery:    g,
		Index:      index,
		Merger:     merger,
		Recordings: recording.NewDefaultManager(g, controller, merger, index),
		Camera:     controller,
		Container:  mp4.Container{},
	})

	logrus.WithFields(logrus.Fields{
		"addr":      cfg.ServerAddress(),
		"media_dir": g.Dir(),
		"index":     cfg.Storage.IndexPath,
	}).Info("サーバーを起動します")
	return srv.Start(ctx)
}

// MergeFiles は inputs を output に結合する
func MergeFiles(ctx context.Context, cfg *config.Config, output string, inputs ...string) (*merge.Result, error) {
	return NewMerger(cfg).Merge(ctx, output, inputs...)
}
