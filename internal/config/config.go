package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"democamera/internal/camera"
	"democamera/internal/gallery"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数
const ConfigFileEnv = "CONFIG_FILE"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Camera    CameraConfig    `yaml:"camera"`
	Recording RecordingConfig `yaml:"recording"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"` // リッスンするホスト
	Port int    `yaml:"port" env:"SERVER_PORT"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`   // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"` // 書き込みタイムアウト
}

// StorageConfig はメディアの保存先の設定
type StorageConfig struct {
	MediaDir  string `yaml:"media_dir" env:"MEDIA_DIR"`   // 写真・動画の保存ディレクトリ
	IndexPath string `yaml:"index_path" env:"INDEX_PATH"` // メディアインデックスのDBファイル
}

// CameraConfig はカメラ制御の設定
type CameraConfig struct {
	MinZoom     float64 `yaml:"min_zoom" env:"CAMERA_MIN_ZOOM"`
	MaxZoom     float64 `yaml:"max_zoom" env:"CAMERA_MAX_ZOOM"`
	DefaultLens string  `yaml:"default_lens" env:"CAMERA_DEFAULT_LENS"` // back / front
}

// RecordingConfig は録画の設定
type RecordingConfig struct {
	// 結合に成功したらセグメントを削除する
	DeleteSegments bool `yaml:"delete_segments" env:"RECORDING_DELETE_SEGMENTS"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text / json
}

// TelemetryConfig はトレースの設定
// エンドポイントが空の場合はトレースを送信しない
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // 大きなファイルのダウンロード用にタイムアウト無効化
		},
		Storage: StorageConfig{
			MediaDir:  gallery.DefaultDir,
			IndexPath: filepath.Join("data", "media.db"),
		},
		Camera: CameraConfig{
			MinZoom:     camera.DefaultMinZoom,
			MaxZoom:     camera.DefaultMaxZoom,
			DefaultLens: string(camera.LensBack),
		},
		Recording: RecordingConfig{
			DeleteSegments: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "democamera",
		},
	}
}

// Load は設定を読み込む
// デフォルト値に CONFIG_FILE のYAML、環境変数の順に上書きする
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile はYAMLファイルの内容で設定を上書きする
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("設定ファイルが見つかりません: %s", path)
		}
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("タイムアウトに負の値は指定できません")
	}

	if strings.TrimSpace(c.Storage.MediaDir) == "" {
		return fmt.Errorf("メディアディレクトリが設定されていません")
	}

	if c.Camera.MinZoom <= 0 {
		return fmt.Errorf("無効な最小ズーム倍率: %v", c.Camera.MinZoom)
	}
	if c.Camera.MaxZoom < c.Camera.MinZoom {
		return fmt.Errorf("最大ズーム倍率が最小ズーム倍率より小さい: %v < %v", c.Camera.MaxZoom, c.Camera.MinZoom)
	}
	if _, err := camera.ParseLens(c.Camera.DefaultLens); err != nil {
		return fmt.Errorf("無効なレンズ: %q", c.Camera.DefaultLens)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("無効なログレベル: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("無効なログ形式: %q", c.Log.Format)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CameraSettings はカメラ制御の設定を返す
func (c *Config) CameraSettings() camera.Settings {
	return camera.Settings{
		MinZoom:     c.Camera.MinZoom,
		MaxZoom:     c.Camera.MaxZoom,
		DefaultLens: camera.Lens(c.Camera.DefaultLens),
	}
}
