package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"democamera/internal/camera"
	"democamera/internal/config"
	"democamera/internal/gallery"
	"democamera/internal/media"
	"democamera/internal/mediaindex"
	"democamera/internal/recording"
)

// MediaIndex は保存したメディアの登録先
type MediaIndex interface {
	Register(ctx context.Context, path, mime string) (mediaindex.Entry, error)
	List(ctx context.Context) ([]mediaindex.Entry, error)
	Remove(ctx context.Context, path string) error
}

// Dependencies はハンドラが使うサービス
type Dependencies struct {
	Gallery    *gallery.Gallery
	Index      MediaIndex // nil の場合は登録を行わない
	Merger     recording.Merger
	Recordings recording.Manager
	Camera     camera.Controller
	Container  media.Container
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())

	s := &Server{
		config: cfg,
		deps:   deps,
		engine: engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)

	// メディア
	api.GET("/media", s.handleListMedia)
	api.GET("/media/:name", s.handleGetMedia)
	api.GET("/media/:name/info", s.handleMediaInfo)
	api.DELETE("/media/:name", s.handleDeleteMedia)
	api.POST("/photos", s.handleCapturePhoto)
	api.GET("/index", s.handleListIndex)

	// 動画の結合
	api.POST("/merge", s.handleMerge)

	// 録画
	api.POST("/recordings", s.handleStartRecording)
	api.GET("/recordings/:id", s.handleGetRecording)
	api.POST("/recordings/:id/segment", s.handleUploadSegment)
	api.POST("/recordings/:id/switch", s.handleSwitchCamera)
	api.POST("/recordings/:id/stop", s.handleStopRecording)

	// カメラ制御
	api.GET("/camera", s.handleGetCamera)
	api.POST("/camera/lens", s.handleSetLens)
	api.POST("/camera/flash", s.handleToggleFlash)
	api.POST("/camera/zoom", s.handleZoom)
	api.POST("/camera/orientation", s.handleOrientation)
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は listener でリクエストを受け付け、コンテキストのキャンセルかシグナルで停止する
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		logrus.WithField("addr", listener.Addr().String()).Info("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		logrus.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	logrus.Info("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	logrus.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをlogrusで記録するミドルウェア
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("リクエストの処理に失敗しました")
		case status >= http.StatusBadRequest:
			entry.Warn("不正なリクエスト")
		default:
			entry.Debug("リクエストを処理しました")
		}
	}
}
