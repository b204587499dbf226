package camera

import (
	"errors"
	"time"
)

// Lens はカメラのレンズ
type Lens string

const (
	LensBack  Lens = "back"  // 背面カメラ
	LensFront Lens = "front" // 前面カメラ
)

// Rotation は画面の回転角（度）
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// OrientationUnknown は端末の向きが取得できない場合の値
const OrientationUnknown = -1

// ズーム倍率の既定値
const (
	DefaultMinZoom = 1.0
	DefaultMaxZoom = 4.0
)

// カメラ制御のエラー
var (
	ErrInvalidLens      = errors.New("invalid lens")
	ErrFlashUnavailable = errors.New("flash is not available on this lens")
	ErrInvalidZoom      = errors.New("invalid zoom factor")
)

// Settings はカメラ制御の設定
type Settings struct {
	MinZoom     float64 // 最小ズーム倍率
	MaxZoom     float64 // 最大ズーム倍率
	DefaultLens Lens    // 起動時のレンズ
}

// State はカメラ制御の状態
type State struct {
	Lens           Lens      `json:"lens"`
	FlashEnabled   bool      `json:"flash_enabled"`
	FlashAvailable bool      `json:"flash_available"`
	Torch          bool      `json:"torch"`
	Recording      bool      `json:"recording"`
	Zoom           float64   `json:"zoom"`
	MinZoom        float64   `json:"min_zoom"`
	MaxZoom        float64   `json:"max_zoom"`
	Rotation       Rotation  `json:"rotation"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Controller はカメラの状態を管理するインターフェース
type Controller interface {
	// Snapshot は現在の状態のコピーを返す
	Snapshot() State

	// ToggleLens は背面・前面を切り替える
	ToggleLens() State

	// SetLens はレンズを指定する
	SetLens(lens Lens) (State, error)

	// ToggleFlash はフラッシュの有効/無効を切り替える
	ToggleFlash() (State, error)

	// SetRecording は録画中かどうかを設定し、トーチを更新する
	SetRecording(recording bool) State

	// TorchForCapture はフラッシュ有効時にトーチを点灯して撮影処理を実行する
	TorchForCapture(capture func() error) error

	// Scale はピンチ操作の倍率をズームに反映する
	Scale(factor float64) (State, error)

	// UpdateOrientation は端末の向きから画面の回転を更新する
	UpdateOrientation(degrees int) (State, bool)
}

// ParseLens は文字列をLensに変換する
func ParseLens(s string) (Lens, error) {
	switch Lens(s) {
	case LensBack, LensFront:
		return Lens(s), nil
	default:
		return "", ErrInvalidLens
	}
}

// SurfaceRotation は端末の向き（度）を画面の回転に変換する
func SurfaceRotation(degrees int) Rotation {
	switch {
	case degrees >= 45 && degrees <= 134:
		return Rotation270
	case degrees >= 135 && degrees <= 224:
		return Rotation180
	case degrees >= 225 && degrees <= 314:
		return Rotation90
	default:
		return Rotation0
	}
}
