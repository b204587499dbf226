package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"democamera/internal/camera"
	"democamera/internal/gallery"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	// 設定を読み込む
	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// デフォルト値の検証
	if cfg.Storage.MediaDir != gallery.DefaultDir {
		t.Errorf("メディアディレクトリ: got %s, want %s", cfg.Storage.MediaDir, gallery.DefaultDir)
	}
	if cfg.Camera.MinZoom != camera.DefaultMinZoom || cfg.Camera.MaxZoom != camera.DefaultMaxZoom {
		t.Errorf("ズーム倍率のデフォルト値が不正です: %v - %v", cfg.Camera.MinZoom, cfg.Camera.MaxZoom)
	}
	if !cfg.Recording.DeleteSegments {
		t.Error("デフォルトではセグメントを削除するべきです")
	}
	if cfg.Telemetry.Endpoint != "" {
		t.Error("デフォルトではトレースを送信しないべきです")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "負のタイムアウト",
			modify:    func(c *Config) { c.Server.ReadTimeout = -time.Second },
			expectErr: true,
		},
		{
			name:      "メディアディレクトリなし",
			modify:    func(c *Config) { c.Storage.MediaDir = " " },
			expectErr: true,
		},
		{
			name:      "最小ズームが0",
			modify:    func(c *Config) { c.Camera.MinZoom = 0 },
			expectErr: true,
		},
		{
			name:      "ズーム範囲が逆",
			modify:    func(c *Config) { c.Camera.MinZoom, c.Camera.MaxZoom = 4, 2 },
			expectErr: true,
		},
		{
			name:      "無効なレンズ",
			modify:    func(c *Config) { c.Camera.DefaultLens = "wide" },
			expectErr: true,
		},
		{
			name:      "無効なログレベル",
			modify:    func(c *Config) { c.Log.Level = "verbose" },
			expectErr: true,
		},
		{
			name:      "無効なログ形式",
			modify:    func(c *Config) { c.Log.Format = "xml" },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("MEDIA_DIR", "/tmp/camera")
	t.Setenv("RECORDING_DELETE_SEGMENTS", "false")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.MediaDir != "/tmp/camera" {
		t.Errorf("環境変数のメディアディレクトリが反映されていません: got %s", cfg.Storage.MediaDir)
	}
	if cfg.Recording.DeleteSegments {
		t.Error("環境変数の delete_segments が反映されていません")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("環境変数のログ形式が反映されていません: got %s", cfg.Log.Format)
	}
}

// TestConfigFile はYAMLファイルと環境変数の優先順位をテストする
func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
  read_timeout: 30s
storage:
  media_dir: /srv/camera
camera:
  max_zoom: 8
  default_lens: front
telemetry:
  endpoint: http://localhost:4318
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("環境変数がファイルより優先されるべきです: got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read_timeout: got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("ファイルにない項目はデフォルト値のままであるべきです: got %s", cfg.Server.Host)
	}
	if cfg.Storage.MediaDir != "/srv/camera" || cfg.Camera.MaxZoom != 8 {
		t.Errorf("ファイルの値が反映されていません: %+v", cfg)
	}

	settings := cfg.CameraSettings()
	if settings.DefaultLens != camera.LensFront || settings.MinZoom != camera.DefaultMinZoom {
		t.Errorf("unexpected camera settings: %+v", settings)
	}
	if cfg.Telemetry.Endpoint != "http://localhost:4318" || cfg.Telemetry.ServiceName != "democamera" {
		t.Errorf("unexpected telemetry config: %+v", cfg.Telemetry)
	}
}

// TestConfigFileErrors は設定ファイルのエラーをテストする
func TestConfigFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Setenv(ConfigFileEnv, filepath.Join(dir, "missing.yaml"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "見つかりません") {
		t.Errorf("存在しないファイルはエラーになるべきです: %v", err)
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("server: [1, 2"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv(ConfigFileEnv, broken)
	if _, err := Load(); err == nil {
		t.Error("不正なYAMLはエラーになるべきです")
	}
}
